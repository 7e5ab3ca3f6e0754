package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := newBroadcaster()

	var first, second []EventType
	b.subscribe(func(ev Event) { first = append(first, ev.Type) })
	b.subscribe(func(ev Event) { second = append(second, ev.Type) })

	b.publish(Event{Type: EventSessionStart})
	b.publish(Event{Type: EventSessionEnd})

	assert.Equal(t, []EventType{EventSessionStart, EventSessionEnd}, first)
	assert.Equal(t, []EventType{EventSessionStart, EventSessionEnd}, second)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := newBroadcaster()

	var got []EventType
	unsubscribe := b.subscribe(func(ev Event) { got = append(got, ev.Type) })

	b.publish(Event{Type: EventSessionStart})
	unsubscribe()
	b.publish(Event{Type: EventSessionEnd})

	assert.Equal(t, []EventType{EventSessionStart}, got)
}

func TestBroadcaster_PublishWithoutListeners(t *testing.T) {
	b := newBroadcaster()
	assert.NotPanics(t, func() {
		b.publish(Event{Type: EventSessionStart})
	})
}

func TestBroadcaster_SetsTimestamp(t *testing.T) {
	b := newBroadcaster()

	var got Event
	b.subscribe(func(ev Event) { got = ev })
	b.publish(Event{Type: EventSessionStart})

	assert.False(t, got.Timestamp.IsZero())
}
