package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

// AnthropicStreamer implements ModelStreamer for Anthropic Claude.
type AnthropicStreamer struct {
	client  anthropic.Client
	tools   *toolexecutor.ToolExecutor
	execCtx *toolexecutor.ExecutionContext
}

// NewAnthropicStreamer creates an Anthropic streamer. tools may be nil when
// the agent exposes no tools; execCtx carries the tool policy and timeout
// and may be nil.
func NewAnthropicStreamer(apiKey string, tools *toolexecutor.ToolExecutor, execCtx *toolexecutor.ExecutionContext) *AnthropicStreamer {
	return &AnthropicStreamer{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		tools:   tools,
		execCtx: execCtx,
	}
}

// Provider returns the provider name.
func (p *AnthropicStreamer) Provider() string {
	return "anthropic"
}

// Stream runs one turn: repeated streaming model calls with tool execution
// between them, surfaced as a single ordered event sequence.
func (p *AnthropicStreamer) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		p.runTurn(ctx, params, out)
	}()
	return out, nil
}

func (p *AnthropicStreamer) runTurn(ctx context.Context, params anthropic.MessageNewParams, out chan<- StreamEvent) {
	var usage TokenUsage

	for {
		message, aborted := p.streamStep(ctx, &params, out)
		if message == nil {
			return // terminal event already emitted
		}
		if aborted {
			out <- StreamEvent{Kind: StreamTurnAbort}
			return
		}

		usage.InputTokens += int(message.Usage.InputTokens)
		usage.OutputTokens += int(message.Usage.OutputTokens)

		if message.StopReason != anthropic.StopReasonToolUse || p.tools == nil {
			out <- StreamEvent{
				Kind:   StreamTurnFinish,
				Finish: mapAnthropicStopReason(message.StopReason),
				Usage:  usage,
			}
			return
		}

		// Execute the requested tools, then continue the turn with their
		// results in context.
		params.Messages = append(params.Messages, message.ToParam())
		var results []anthropic.ContentBlockParamUnion

		for _, block := range message.Content {
			toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				out <- StreamEvent{Kind: StreamTurnAbort}
				return
			}

			var input map[string]interface{}
			if err := json.Unmarshal([]byte(toolUse.JSON.Input.Raw()), &input); err != nil {
				input = map[string]interface{}{}
			}

			result := executeToolCall(ctx, p.tools, p.execCtx, toolUse.ID, toolUse.Name, input, out)
			results = append(results, anthropic.NewToolResultBlock(toolUse.ID, marshalToolOutput(result), !result.Success))
		}

		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))

		out <- StreamEvent{Kind: StreamStepFinish}
		if ctx.Err() != nil {
			out <- StreamEvent{Kind: StreamTurnAbort}
			return
		}
	}
}

// streamStep runs one streaming model call, emitting content events as they
// arrive. Returns the accumulated message, or nil after emitting a terminal
// turn-error; aborted is set when ctx was cancelled mid-stream.
func (p *AnthropicStreamer) streamStep(ctx context.Context, params *anthropic.MessageNewParams, out chan<- StreamEvent) (*anthropic.Message, bool) {
	stream := p.client.Messages.NewStreaming(ctx, *params)

	var message anthropic.Message
	blockKinds := make(map[int64]PartKind)

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			out <- StreamEvent{Kind: StreamTurnError, Err: fmt.Errorf("failed to accumulate stream event: %w", err)}
			return nil, false
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			switch ev.ContentBlock.AsAny().(type) {
			case anthropic.TextBlock:
				blockKinds[ev.Index] = PartText
				out <- StreamEvent{Kind: StreamTextStart}
			case anthropic.ThinkingBlock:
				blockKinds[ev.Index] = PartReasoning
				out <- StreamEvent{Kind: StreamReasoningStart}
			case anthropic.ToolUseBlock:
				blockKinds[ev.Index] = PartToolCall
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out <- StreamEvent{Kind: StreamTextDelta, Text: delta.Text}
			case anthropic.ThinkingDelta:
				out <- StreamEvent{Kind: StreamReasoningDelta, Text: delta.Thinking}
			}

		case anthropic.ContentBlockStopEvent:
			switch blockKinds[ev.Index] {
			case PartText:
				out <- StreamEvent{Kind: StreamTextEnd}
			case PartReasoning:
				out <- StreamEvent{Kind: StreamReasoningEnd}
			case PartToolCall:
				if int(ev.Index) < len(message.Content) {
					if toolUse, ok := message.Content[ev.Index].AsAny().(anthropic.ToolUseBlock); ok {
						var input map[string]interface{}
						if err := json.Unmarshal([]byte(toolUse.JSON.Input.Raw()), &input); err != nil {
							input = map[string]interface{}{}
						}
						out <- StreamEvent{
							Kind:       StreamToolCall,
							ToolCallID: toolUse.ID,
							ToolName:   toolUse.Name,
							Input:      input,
						}
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, true
		}
		out <- StreamEvent{Kind: StreamTurnError, Err: err}
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, true
	}
	return &message, false
}

func (p *AnthropicStreamer) buildParams(req StreamRequest) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if req.TopK > 0 {
		params.TopK = anthropic.Int(int64(req.TopK))
	}

	if p.tools != nil {
		for _, def := range toolDefinitions(p.tools, req.Tools) {
			properties := make(map[string]interface{}, len(def.Parameters))
			var required []string
			for _, param := range def.Parameters {
				properties[param.Name] = map[string]interface{}{
					"type":        param.Type,
					"description": param.Description,
				}
				if param.Required {
					required = append(required, param.Name)
				}
			}
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: properties,
						Required:   required,
					},
				},
			})
		}
	}

	return params, nil
}

func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Parts {
				switch part.Kind {
				case PartText:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case PartToolCall:
					blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, part.Input, part.ToolName))
				}
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range msg.Parts {
				if part.Kind != PartToolResult {
					continue
				}
				content, err := json.Marshal(part.Output)
				if err != nil {
					return nil, fmt.Errorf("failed to serialize tool output: %w", err)
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, string(content), part.IsError))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return out, nil
}

func mapAnthropicStopReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishStop
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case anthropic.StopReasonToolUse:
		return FinishToolCalls
	default:
		return FinishOther
	}
}

// toolDefinitions resolves the configured tool names against the executor's
// registry; an empty list means every registered tool.
func toolDefinitions(executor *toolexecutor.ToolExecutor, names []string) []*toolexecutor.ToolDefinition {
	if len(names) == 0 {
		names = executor.ListTools()
	}
	defs := make([]*toolexecutor.ToolDefinition, 0, len(names))
	for _, name := range names {
		if def := executor.GetTool(name); def != nil {
			defs = append(defs, def)
		}
	}
	return defs
}

func marshalToolOutput(result toolexecutor.ToolResult) string {
	if !result.Success {
		return result.Error
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	data, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Sprintf("%v", result.Output)
	}
	return string(data)
}
