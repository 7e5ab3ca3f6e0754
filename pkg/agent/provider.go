package agent

import (
	"context"
	"fmt"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

// StreamEventKind identifies one incremental event from a model streamer.
type StreamEventKind string

const (
	StreamReasoningStart StreamEventKind = "reasoning-start"
	StreamReasoningDelta StreamEventKind = "reasoning-delta"
	StreamReasoningEnd   StreamEventKind = "reasoning-end"

	StreamTextStart StreamEventKind = "text-start"
	StreamTextDelta StreamEventKind = "text-delta"
	StreamTextEnd   StreamEventKind = "text-end"

	StreamToolCall   StreamEventKind = "tool-call"
	StreamToolResult StreamEventKind = "tool-result"
	StreamToolError  StreamEventKind = "tool-error"

	// StreamStepFinish marks the boundary between model calls within one
	// turn (after each round of tool execution). It is the checkpoint at
	// which queued steering prompts preempt the turn.
	StreamStepFinish StreamEventKind = "step-finish"

	StreamTurnFinish StreamEventKind = "turn-finish"
	StreamTurnError  StreamEventKind = "turn-error"
	StreamTurnAbort  StreamEventKind = "turn-abort"
)

// StreamEvent is one incremental event in a turn's stream. The sequence a
// streamer produces is ordered, single-pass, and terminated by exactly one
// of turn-finish, turn-error or turn-abort.
type StreamEvent struct {
	Kind       StreamEventKind
	Text       string
	ToolCallID string
	ToolName   string
	Input      map[string]interface{}
	Output     interface{}
	Finish     FinishReason
	Usage      TokenUsage
	Err        error
}

// StreamRequest carries everything a streamer needs for one turn.
type StreamRequest struct {
	Model           string
	SystemPrompt    string
	Temperature     float64
	TopP            float64
	TopK            int
	MaxTokens       int
	Tools           []string
	ProviderOptions map[string]interface{}
	Messages        []Message
}

// ModelStreamer is the model streaming collaborator. Stream returns a
// channel of incremental events for one turn; the channel is closed after
// the terminal event. Tool execution results surface as events within the
// same sequence. Cancelling ctx must terminate the stream with a turn-abort
// event.
type ModelStreamer interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
	Provider() string
}

// NewStreamer creates a model streamer for the named provider. Registered
// tools are executed inside the stream under execCtx's policy and timeout,
// surfacing as tool-result and tool-error events. execCtx may be nil, which
// allows every registered tool with the default timeout.
func NewStreamer(provider, apiKey string, tools *toolexecutor.ToolExecutor, execCtx *toolexecutor.ExecutionContext) (ModelStreamer, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicStreamer(apiKey, tools, execCtx), nil
	case "openai":
		return NewOpenAIStreamer(apiKey, tools, execCtx), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// executeToolCall runs one requested tool through the executor, retrying
// transient failures per the executor's retry configuration, and emits the
// matching tool-result or tool-error event. Policy denials and timeouts from
// execCtx surface as tool-error like any other failure.
func executeToolCall(ctx context.Context, tools *toolexecutor.ToolExecutor, execCtx *toolexecutor.ExecutionContext, callID, name string, input map[string]interface{}, out chan<- StreamEvent) toolexecutor.ToolResult {
	result := tools.ExecuteWithRetry(ctx, name, input, execCtx)
	if result.Success {
		out <- StreamEvent{
			Kind:       StreamToolResult,
			ToolCallID: callID,
			ToolName:   name,
			Output:     result.Output,
		}
	} else {
		out <- StreamEvent{
			Kind:       StreamToolError,
			ToolCallID: callID,
			ToolName:   name,
			Output:     result.Error,
			Err:        fmt.Errorf("%s", result.Error),
		}
	}
	return result
}
