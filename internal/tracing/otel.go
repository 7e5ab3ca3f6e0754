package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the process-wide tracer provider.
type Options struct {
	// ServiceName names the service in exported spans.
	ServiceName string
	// SampleRatio is the fraction of root traces sampled; <= 0 samples
	// nothing, >= 1 samples everything. Child spans follow their parent.
	SampleRatio float64
	// Exporter selects where sampled spans go: "none" (default, spans
	// exist only for log correlation) or "stdout".
	Exporter string
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// Init initializes the process-wide OpenTelemetry tracer provider. It is
// safe to call multiple times; only the first call takes effect.
func Init(opts Options) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(opts.ServiceName),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		exporter, err := newExporter(opts.Exporter)
		if err != nil {
			providerErr = err
			return
		}

		tpOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(newSampler(opts.SampleRatio))),
			sdktrace.WithResource(res),
		}
		if exporter != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		}

		tp := sdktrace.NewTracerProvider(tpOpts...)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// Shutdown flushes and shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

func newSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

func newExporter(name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", name)
	}
}

// StartSpan starts a span and mirrors its trace ID into the context keys
// used by LoggerFromContext, so log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
