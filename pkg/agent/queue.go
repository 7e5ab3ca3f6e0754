package agent

import (
	"github.com/harun/kemudi/internal/observability"
)

// DequeueMode selects how a prompt queue hands prompts to the scheduler.
type DequeueMode string

const (
	// DequeueOne removes and returns the single oldest prompt.
	DequeueOne DequeueMode = "one"
	// DequeueAll removes and returns the entire queue in insertion order.
	DequeueAll DequeueMode = "all"
)

// promptQueue holds pending prompts. Pushes come from external callers,
// dequeues only from the scheduler; the Agent's mutex guards both.
type promptQueue struct {
	name  string
	items []Prompt
}

func newPromptQueue(name string) *promptQueue {
	return &promptQueue{name: name}
}

// push appends a copy of the prompt.
func (q *promptQueue) push(p Prompt) {
	q.items = append(q.items, p.clone())
	observability.RecordQueueEnqueue(q.name, len(q.items))
}

// dequeue removes and returns prompts per the given mode. The returned
// batch preserves insertion order; an empty queue yields a nil batch.
func (q *promptQueue) dequeue(mode DequeueMode) []Prompt {
	if len(q.items) == 0 {
		return nil
	}

	var batch []Prompt
	switch mode {
	case DequeueAll:
		batch = q.items
		q.items = nil
	default:
		batch = q.items[:1:1]
		q.items = q.items[1:]
	}

	observability.RecordQueueDequeue(q.name, len(q.items))
	return batch
}

// drain empties the queue regardless of mode.
func (q *promptQueue) drain() []Prompt {
	return q.dequeue(DequeueAll)
}

func (q *promptQueue) len() int {
	return len(q.items)
}

func (q *promptQueue) clear() {
	q.items = nil
	observability.SetQueueSize(q.name, 0)
}
