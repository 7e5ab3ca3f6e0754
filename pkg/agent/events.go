package agent

import (
	"sync"
	"time"

	"github.com/harun/kemudi/internal/observability"
)

// EventType identifies a published agent event.
type EventType string

const (
	EventSessionStart EventType = "session-start"
	EventSessionEnd   EventType = "session-end"

	EventTurnStart  EventType = "turn-start"
	EventTurnFinish EventType = "turn-finish"
	EventTurnError  EventType = "turn-error"
	EventTurnAbort  EventType = "turn-abort"
	EventTurnSteer  EventType = "turn-steer"

	EventTextStart  EventType = "text-start"
	EventTextUpdate EventType = "text-update"
	EventTextEnd    EventType = "text-end"

	EventReasoningStart  EventType = "reasoning-start"
	EventReasoningUpdate EventType = "reasoning-update"
	EventReasoningEnd    EventType = "reasoning-end"

	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventToolError  EventType = "tool-error"
)

// Event is delivered to subscribers for every state transition and streaming
// delta, in exactly the order the underlying provider events were folded.
// Message and Part are immutable snapshots taken at publish time.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	TurnID    string       `json:"turn_id,omitempty"`
	Cause     StartCause   `json:"cause,omitempty"`
	Prompts   []Prompt     `json:"prompts,omitempty"`
	Message   *Message     `json:"message,omitempty"`
	Part      *Part        `json:"part,omitempty"`
	Finish    FinishReason `json:"finish,omitempty"`
	Usage     TokenUsage   `json:"usage,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Err       error        `json:"-"`
	Timestamp time.Time    `json:"timestamp"`
}

// Listener receives published events. Listeners are invoked synchronously at
// publish time and must not block.
type Listener func(Event)

// broadcaster is a single-owner fan-out scoped to one Agent's lifetime.
type broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func newBroadcaster() *broadcaster {
	return &broadcaster{listeners: make(map[int]Listener)}
}

// subscribe registers a listener and returns its unsubscribe function.
func (b *broadcaster) subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *broadcaster) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	fns := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	observability.RecordEventPublish(string(ev.Type))

	for _, fn := range fns {
		fn(ev)
	}
}
