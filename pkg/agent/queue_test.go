package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptQueue_DequeueOne(t *testing.T) {
	q := newPromptQueue("test")
	q.push(TextPrompt("a"))
	q.push(TextPrompt("b"))
	q.push(TextPrompt("c"))

	batch := q.dequeue(DequeueOne)
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].Text)
	assert.Equal(t, 2, q.len())

	batch = q.dequeue(DequeueOne)
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].Text)
	assert.Equal(t, 1, q.len())
}

func TestPromptQueue_DequeueAll(t *testing.T) {
	q := newPromptQueue("test")
	q.push(TextPrompt("a"))
	q.push(TextPrompt("b"))
	q.push(TextPrompt("c"))

	batch := q.dequeue(DequeueAll)
	require.Len(t, batch, 3)
	assert.Equal(t, "a", batch[0].Text)
	assert.Equal(t, "b", batch[1].Text)
	assert.Equal(t, "c", batch[2].Text)
	assert.Equal(t, 0, q.len())
}

func TestPromptQueue_DequeueEmpty(t *testing.T) {
	q := newPromptQueue("test")
	assert.Nil(t, q.dequeue(DequeueOne))
	assert.Nil(t, q.dequeue(DequeueAll))
}

func TestPromptQueue_PushCopies(t *testing.T) {
	q := newPromptQueue("test")

	msg := UserMessage("original")
	prompt := MessagesPrompt(msg)
	q.push(prompt)

	// Caller-side mutation after push must not leak into the queue.
	prompt.Messages[0].Parts[0].Text = "mutated"

	batch := q.dequeue(DequeueOne)
	require.Len(t, batch, 1)
	assert.Equal(t, "original", batch[0].Messages[0].Text())
}

func TestPromptQueue_Clear(t *testing.T) {
	q := newPromptQueue("test")
	q.push(TextPrompt("a"))
	q.push(TextPrompt("b"))

	q.clear()
	assert.Equal(t, 0, q.len())
	assert.Nil(t, q.dequeue(DequeueAll))
}
