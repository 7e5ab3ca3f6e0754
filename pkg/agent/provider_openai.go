package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/harun/kemudi/pkg/toolexecutor"
)

// OpenAIStreamer implements ModelStreamer for OpenAI chat models.
type OpenAIStreamer struct {
	client  openai.Client
	tools   *toolexecutor.ToolExecutor
	execCtx *toolexecutor.ExecutionContext
}

// NewOpenAIStreamer creates an OpenAI streamer. tools may be nil when the
// agent exposes no tools; execCtx carries the tool policy and timeout and
// may be nil.
func NewOpenAIStreamer(apiKey string, tools *toolexecutor.ToolExecutor, execCtx *toolexecutor.ExecutionContext) *OpenAIStreamer {
	return &OpenAIStreamer{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		tools:   tools,
		execCtx: execCtx,
	}
}

// Provider returns the provider name.
func (p *OpenAIStreamer) Provider() string {
	return "openai"
}

// Stream runs one turn: repeated streaming chat completions with tool
// execution between them, surfaced as a single ordered event sequence.
func (p *OpenAIStreamer) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
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

func (p *OpenAIStreamer) runTurn(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- StreamEvent) {
	var usage TokenUsage

	for {
		acc, aborted := p.streamStep(ctx, &params, out)
		if acc == nil {
			return
		}
		if aborted {
			out <- StreamEvent{Kind: StreamTurnAbort}
			return
		}

		usage.InputTokens += int(acc.Usage.PromptTokens)
		usage.OutputTokens += int(acc.Usage.CompletionTokens)

		if len(acc.Choices) == 0 {
			out <- StreamEvent{Kind: StreamTurnError, Err: fmt.Errorf("chat completion returned no choices")}
			return
		}
		choice := acc.Choices[0]

		if choice.FinishReason != "tool_calls" || p.tools == nil {
			out <- StreamEvent{
				Kind:   StreamTurnFinish,
				Finish: mapOpenAIFinishReason(choice.FinishReason),
				Usage:  usage,
			}
			return
		}

		params.Messages = append(params.Messages, choice.Message.ToParam())

		for _, call := range choice.Message.ToolCalls {
			if ctx.Err() != nil {
				out <- StreamEvent{Kind: StreamTurnAbort}
				return
			}

			var input map[string]interface{}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				input = map[string]interface{}{}
			}

			out <- StreamEvent{
				Kind:       StreamToolCall,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Input:      input,
			}

			result := executeToolCall(ctx, p.tools, p.execCtx, call.ID, call.Function.Name, input, out)
			params.Messages = append(params.Messages, openai.ToolMessage(marshalToolOutput(result), call.ID))
		}

		out <- StreamEvent{Kind: StreamStepFinish}
		if ctx.Err() != nil {
			out <- StreamEvent{Kind: StreamTurnAbort}
			return
		}
	}
}

// streamStep runs one streaming chat completion, emitting text events as
// deltas arrive. Tool calls are assembled by the accumulator and surfaced
// only once complete, after the step's text has ended.
func (p *OpenAIStreamer) streamStep(ctx context.Context, params *openai.ChatCompletionNewParams, out chan<- StreamEvent) (*openai.ChatCompletionAccumulator, bool) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, *params)

	acc := openai.ChatCompletionAccumulator{}
	textOpen := false

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if !textOpen {
				out <- StreamEvent{Kind: StreamTextStart}
				textOpen = true
			}
			out <- StreamEvent{Kind: StreamTextDelta, Text: delta.Content}
		}
	}
	if textOpen {
		out <- StreamEvent{Kind: StreamTextEnd}
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
	return &acc, false
}

func (p *OpenAIStreamer) buildParams(req StreamRequest) (openai.ChatCompletionNewParams, error) {
	messages, err := toOpenAIMessages(req.SystemPrompt, req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
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
			params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			}))
		}
	}

	return params, nil
}

func toOpenAIMessages(systemPrompt string, messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))

		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := msg.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, part := range msg.Parts {
				if part.Kind != PartToolCall {
					continue
				}
				args, err := json.Marshal(part.Input)
				if err != nil {
					return nil, fmt.Errorf("failed to serialize tool call input: %w", err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: part.ToolCallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      part.ToolName,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case RoleTool:
			for _, part := range msg.Parts {
				if part.Kind != PartToolResult {
					continue
				}
				content, err := json.Marshal(part.Output)
				if err != nil {
					return nil, fmt.Errorf("failed to serialize tool output: %w", err)
				}
				out = append(out, openai.ToolMessage(string(content), part.ToolCallID))
			}
		}
	}

	return out, nil
}

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls":
		return FinishToolCalls
	default:
		return FinishOther
	}
}
