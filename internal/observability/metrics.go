package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec

	sessionTotal    *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge

	turnTotal    *prometheus.CounterVec
	turnDuration prometheus.Histogram
	abortTotal   *prometheus.CounterVec

	eventPublishTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "prompt_queue_size",
					Help: "Current prompt queue size by queue kind.",
				},
				[]string{"queue"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_enqueue_total",
					Help: "Total prompt enqueue operations by queue kind.",
				},
				[]string{"queue"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_dequeue_total",
					Help: "Total prompt dequeue operations by queue kind.",
				},
				[]string{"queue"},
			),
			sessionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_session_total",
					Help: "Total agent sessions by start cause and status.",
				},
				[]string{"cause", "status"},
			),
			sessionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_session_duration_seconds",
					Help:    "Agent session duration in seconds by start cause.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"cause"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_active_sessions",
					Help: "Current active session count.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Total agent turns by finish reason.",
				},
				[]string{"reason"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			abortTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_abort_total",
					Help: "Total aborts by kind (external or steering).",
				},
				[]string{"kind"},
			),
			eventPublishTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_event_publish_total",
					Help: "Total events published to subscribers by event type.",
				},
				[]string{"type"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.sessionTotal,
			m.sessionDuration,
			m.activeSessions,
			m.turnTotal,
			m.turnDuration,
			m.abortTotal,
			m.eventPublishTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(queue string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(queue).Inc()
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordQueueDequeue(queue string, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(queue).Inc()
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func SetQueueSize(queue string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordSession(cause string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sessionTotal.WithLabelValues(cause, status).Inc()
	m.sessionDuration.WithLabelValues(cause).Observe(duration.Seconds())
}

func IncActiveSessions() {
	getMetrics().activeSessions.Inc()
}

func DecActiveSessions() {
	getMetrics().activeSessions.Dec()
}

func RecordTurn(reason string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(reason).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func RecordAbort(kind string) {
	m := getMetrics()
	m.abortTotal.WithLabelValues(kind).Inc()
}

func RecordEventPublish(eventType string) {
	m := getMetrics()
	m.eventPublishTotal.WithLabelValues(eventType).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}
