package tracing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithAgentID(ctx, "agent-1")
	ctx = WithSessionID(ctx, "session-1")
	ctx = WithTurnID(ctx, "turn-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "agent-1", tc.AgentID)
	assert.Equal(t, "session-1", tc.SessionID)
	assert.Equal(t, "turn-1", tc.TurnID)
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetAgentID(ctx))
	assert.Empty(t, GetSessionID(ctx))
	assert.Empty(t, GetTurnID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	// No fields in ctx leaves the logger untouched
	base := zerolog.Nop()
	got := LoggerFromContext(context.Background(), base)
	assert.Equal(t, base, got)
}
