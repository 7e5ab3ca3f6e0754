package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

func TestNewStreamer_UnsupportedProvider(t *testing.T) {
	_, err := NewStreamer("carrier-pigeon", "key", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestExecuteToolCall_EmitsToolResult(t *testing.T) {
	executor := toolexecutor.New()
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "returns its input",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}))

	out := make(chan StreamEvent, 1)
	result := executeToolCall(context.Background(), executor, nil, "call-1", "echo", map[string]interface{}{"text": "hi"}, out)

	require.True(t, result.Success)
	ev := <-out
	assert.Equal(t, StreamToolResult, ev.Kind)
	assert.Equal(t, "call-1", ev.ToolCallID)
	assert.Equal(t, "hi", ev.Output)
}

func TestExecuteToolCall_RetriesTransientFailure(t *testing.T) {
	executor := toolexecutor.New()
	executor.SetRetryConfig(toolexecutor.RetryConfig{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	attempts := 0
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "flaky_fetch",
		Description: "fails once then succeeds",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("connection reset by peer")
			}
			return "ok", nil
		},
	}))

	out := make(chan StreamEvent, 1)
	result := executeToolCall(context.Background(), executor, nil, "call-1", "flaky_fetch", map[string]interface{}{}, out)

	assert.True(t, result.Success)
	assert.Equal(t, 2, attempts)
	ev := <-out
	assert.Equal(t, StreamToolResult, ev.Kind)
	assert.Equal(t, "ok", ev.Output)
}

func TestExecuteToolCall_PermanentFailureNotRetried(t *testing.T) {
	executor := toolexecutor.New()
	executor.SetRetryConfig(toolexecutor.RetryConfig{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})

	attempts := 0
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "broken",
		Description: "always fails permanently",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			attempts++
			return nil, fmt.Errorf("invalid argument")
		},
	}))

	out := make(chan StreamEvent, 1)
	result := executeToolCall(context.Background(), executor, nil, "call-1", "broken", map[string]interface{}{}, out)

	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
	ev := <-out
	assert.Equal(t, StreamToolError, ev.Kind)
}

func TestAgent_DeniedToolSurfacesAsToolError(t *testing.T) {
	executor := toolexecutor.New()
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "wipe_disk",
		Description: "destructive test tool",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			t.Error("handler must not run for a denied tool")
			return nil, nil
		},
	}))

	execCtx := &toolexecutor.ExecutionContext{
		Policy: &toolexecutor.ToolPolicy{
			Allow: []string{"*"},
			Deny:  []string{"wipe_disk"},
		},
	}

	denied := func(ctx context.Context, req StreamRequest, out chan<- StreamEvent) {
		out <- StreamEvent{Kind: StreamToolCall, ToolCallID: "call-1", ToolName: "wipe_disk", Input: map[string]interface{}{}}
		executeToolCall(ctx, executor, execCtx, "call-1", "wipe_disk", map[string]interface{}{}, out)
		out <- StreamEvent{Kind: StreamStepFinish}
		out <- StreamEvent{Kind: StreamTurnFinish, Finish: FinishStop}
	}
	streamer := &scriptedStreamer{scripts: []script{denied}}
	a, rec := setupTestAgent(t, streamer, AgentConfig{})

	require.True(t, a.Start(context.Background(), TextPrompt("clean up")))
	waitIdle(t, a)

	ev, ok := rec.first(EventToolError)
	require.True(t, ok)
	require.NotNil(t, ev.Part)
	assert.Contains(t, fmt.Sprintf("%v", ev.Part.Output), "not allowed")
	assert.False(t, rec.has(EventToolResult))

	messages := a.Messages()
	require.Len(t, messages, 3) // user, assistant tool-call, tool error
	assert.Equal(t, RoleTool, messages[2].Role)
	assert.True(t, messages[2].Parts[0].IsError)
}
