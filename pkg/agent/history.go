package agent

// history is the append-only conversation context. Messages are stored as
// pointers so the in-flight assistant message can be mutated in place while
// later messages (tool results) are appended behind it. The single mutation
// exception is popLast, used by recovery to drop a trailing assistant
// message whose turn did not finish cleanly.
type history struct {
	messages []*Message
}

func newHistory() *history {
	return &history{}
}

// append stores a copy of m and returns a pointer to the stored message for
// in-place mutation by the fold.
func (h *history) append(m Message) *Message {
	stored := m.Clone()
	h.messages = append(h.messages, &stored)
	return &stored
}

// appendPrompt spreads a prompt's messages into the context in order.
func (h *history) appendPrompt(p Prompt) {
	for _, m := range p.asMessages() {
		h.append(m)
	}
}

func (h *history) len() int {
	return len(h.messages)
}

func (h *history) last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// popLast removes and returns the most recent message.
func (h *history) popLast() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	last := h.messages[len(h.messages)-1]
	h.messages = h.messages[:len(h.messages)-1]
	return last
}

// snapshot returns a deep copy of the context for handing to providers and
// external callers.
func (h *history) snapshot() []Message {
	out := make([]Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

func (h *history) clear() {
	h.messages = nil
}
