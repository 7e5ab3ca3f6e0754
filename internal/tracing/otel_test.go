package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(0).Description(), "AlwaysOff")
	assert.Contains(t, newSampler(-1).Description(), "AlwaysOff")
	assert.Contains(t, newSampler(1).Description(), "AlwaysOn")
	assert.Contains(t, newSampler(2).Description(), "AlwaysOn")
	assert.Contains(t, newSampler(0.5).Description(), "TraceIDRatioBased")
}

func TestNewExporter(t *testing.T) {
	exp, err := newExporter("none")
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = newExporter("")
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = newExporter("stdout")
	require.NoError(t, err)
	assert.NotNil(t, exp)

	_, err = newExporter("jaeger")
	assert.Error(t, err)
}

func TestInitAndStartSpan(t *testing.T) {
	require.NoError(t, Init(Options{ServiceName: "kemudi-test", SampleRatio: 1}))

	ctx, span := StartSpan(context.Background(), "test", "operation",
		attribute.String("test.key", "value"),
	)
	span.End()

	assert.NotEmpty(t, GetTraceID(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, Shutdown(shutdownCtx))
}
