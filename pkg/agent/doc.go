// Package agent implements a conversational run-loop against a streaming
// language-model backend.
//
// An Agent owns a conversation history, a steering queue, and a follow-up
// queue. Start launches a session: a loop of model turns that folds the
// provider's incremental event stream into the history and publishes one
// event per incremental change to subscribers. Steering prompts preempt the
// in-progress turn at the next step checkpoint; follow-up prompts start new
// turns once the current batch is exhausted.
//
// Invariants:
//   - At most one session runs per Agent; all history and queue mutation
//     happens on the session goroutine.
//   - Events are published in exactly the order the provider streamed them.
//   - Configuration updates issued mid-turn are deferred and applied
//     atomically at the next safe checkpoint.
package agent
