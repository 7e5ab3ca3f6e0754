package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt_Validate(t *testing.T) {
	assert.NoError(t, TextPrompt("hi").validate())
	assert.NoError(t, MessagesPrompt(UserMessage("hi")).validate())
	assert.Error(t, Prompt{}.validate())
	assert.Error(t, Prompt{Text: "hi", Messages: []Message{UserMessage("hi")}}.validate())
}

func TestPrompt_AsMessages(t *testing.T) {
	msgs := TextPrompt("hello").asMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text())

	explicit := MessagesPrompt(UserMessage("a"), UserMessage("b")).asMessages()
	require.Len(t, explicit, 2)
	assert.Equal(t, "a", explicit[0].Text())
	assert.Equal(t, "b", explicit[1].Text())
}

func TestMessage_CloneIsDeep(t *testing.T) {
	original := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Kind: PartText, Text: "hello"},
			{Kind: PartToolCall, ToolCallID: "c1", ToolName: "lookup", Input: map[string]interface{}{"q": "x"}},
		},
	}

	copied := original.Clone()
	copied.Parts[0].Text = "changed"
	copied.Parts[1].Input["q"] = "y"

	assert.Equal(t, "hello", original.Parts[0].Text)
	assert.Equal(t, "x", original.Parts[1].Input["q"])
}

func TestFinishReason_Clean(t *testing.T) {
	assert.True(t, FinishStop.clean())
	assert.True(t, FinishToolCalls.clean())
	assert.False(t, FinishLength.clean())
	assert.False(t, FinishError.clean())
	assert.False(t, FinishOther.clean())
}

func TestTokenUsage_Add(t *testing.T) {
	usage := TokenUsage{InputTokens: 10, OutputTokens: 20}
	usage.Add(TokenUsage{InputTokens: 5, OutputTokens: 7})
	assert.Equal(t, 15, usage.InputTokens)
	assert.Equal(t, 27, usage.OutputTokens)
}
