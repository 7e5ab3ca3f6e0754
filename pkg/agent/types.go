package agent

import (
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind identifies the kind of a message content part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartToolCall   PartKind = "tool-call"
	PartToolResult PartKind = "tool-result"
)

// Part is one content part of a message. Text and reasoning parts carry
// incremental text; tool-call parts carry the call id, tool name and input;
// tool-result parts carry the output payload and an error tag.
type Part struct {
	Kind       PartKind               `json:"kind"`
	Text       string                 `json:"text,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     interface{}            `json:"output,omitempty"`
	IsError    bool                   `json:"is_error,omitempty"`
}

func (p Part) clone() Part {
	out := p
	if p.Input != nil {
		out.Input = make(map[string]interface{}, len(p.Input))
		for k, v := range p.Input {
			out.Input[k] = v
		}
	}
	return out
}

// Message is one entry in the conversation history.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (m *Message) Clone() Message {
	out := Message{Role: m.Role}
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = p.clone()
		}
	}
	return out
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			s += p.Text
		}
	}
	return s
}

// UserMessage builds a user message with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Kind: PartText, Text: text}}}
}

func toolResultMessage(callID, toolName string, output interface{}, isError bool) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Kind:       PartToolResult,
			ToolCallID: callID,
			ToolName:   toolName,
			Output:     output,
			IsError:    isError,
		}},
	}
}

// FinishReason records how a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishOther     FinishReason = "other"
)

// clean reports whether the turn completed without being cut short.
func (f FinishReason) clean() bool {
	return f == FinishStop || f == FinishToolCalls
}

// TokenUsage tracks token consumption across the turns of a session.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// StartCause records why a session or turn began.
type StartCause string

const (
	CauseStart    StartCause = "start"
	CauseRecover  StartCause = "recover"
	CauseSteer    StartCause = "steer"
	CauseFollowUp StartCause = "follow-up"
)

// Prompt is pending user input: either a plain text string or an explicit
// ordered message sequence. Exactly one form must be set.
type Prompt struct {
	Text     string    `json:"text,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// TextPrompt builds a plain-text prompt.
func TextPrompt(text string) Prompt {
	return Prompt{Text: text}
}

// MessagesPrompt builds a prompt from an explicit message sequence.
func MessagesPrompt(messages ...Message) Prompt {
	return Prompt{Messages: messages}
}

// clone copies the prompt so later caller-side mutation has no effect.
func (p Prompt) clone() Prompt {
	out := Prompt{Text: p.Text}
	if p.Messages != nil {
		out.Messages = make([]Message, len(p.Messages))
		for i := range p.Messages {
			out.Messages[i] = p.Messages[i].Clone()
		}
	}
	return out
}

func (p Prompt) validate() error {
	if p.Text != "" && len(p.Messages) > 0 {
		return fmt.Errorf("prompt must be either text or messages, not both")
	}
	if p.Text == "" && len(p.Messages) == 0 {
		return fmt.Errorf("prompt is empty")
	}
	return nil
}

// asMessages converts the prompt into context entries: a message prompt is
// spread in order, a text prompt becomes a single user message.
func (p Prompt) asMessages() []Message {
	if len(p.Messages) > 0 {
		return p.Messages
	}
	return []Message{UserMessage(p.Text)}
}

func clonePrompts(prompts []Prompt) []Prompt {
	if prompts == nil {
		return nil
	}
	out := make([]Prompt, len(prompts))
	for i := range prompts {
		out[i] = prompts[i].clone()
	}
	return out
}
