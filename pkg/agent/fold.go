package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/kemudi/internal/observability"
)

// ErrProtocolViolation marks a stream event referencing state that cannot
// exist (e.g. a delta with no open part). It is fatal to the in-progress
// turn: the collaborator is misbehaving and the fold cannot continue.
var ErrProtocolViolation = errors.New("stream protocol violation")

// sessionRun holds the state of one session: the pending prompt batch, the
// in-flight assistant message, and per-turn fold state. It lives on the
// session goroutine; external callers never touch it.
type sessionRun struct {
	agent  *Agent
	gen    int
	id     string
	cause  StartCause
	ctx    context.Context
	logger zerolog.Logger

	// recovering forces one loop iteration even with an empty batch.
	recovering bool
	batch      []Prompt

	turnID    string
	turnStart time.Time
	inflight  *Message
	open      map[PartKind]int
	usage     TokenUsage

	lastFinish    FinishReason
	turnFailed    bool
	abortedExt    bool
	abortReason   string
	steerRedirect bool
	turnCancel    context.CancelCauseFunc
}

// beginTurn publishes turn-start with the triggering batch, then consumes
// the batch into the conversation context.
func (s *sessionRun) beginTurn() {
	s.turnID = uuid.NewString()
	s.turnStart = time.Now()
	s.inflight = nil
	s.open = make(map[PartKind]int)
	s.turnFailed = false
	s.steerRedirect = false

	s.agent.bus.publish(Event{
		Type:      EventTurnStart,
		SessionID: s.id,
		TurnID:    s.turnID,
		Cause:     s.cause,
		Prompts:   clonePrompts(s.batch),
	})

	s.agent.mu.Lock()
	for _, p := range s.batch {
		s.agent.history.appendPrompt(p)
	}
	s.agent.mu.Unlock()
	s.batch = nil
}

// fold applies one stream event: mutate the in-flight message or context,
// then publish exactly one event (none for step-finish). Event order out
// equals event order in.
func (s *sessionRun) fold(ctx context.Context, ev StreamEvent) error {
	switch ev.Kind {
	case StreamReasoningStart:
		s.openPart(PartReasoning)
		return s.publishPart(EventReasoningStart, PartReasoning)

	case StreamTextStart:
		s.openPart(PartText)
		return s.publishPart(EventTextStart, PartText)

	case StreamReasoningDelta:
		return s.appendDelta(PartReasoning, EventReasoningUpdate, ev.Text)

	case StreamTextDelta:
		return s.appendDelta(PartText, EventTextUpdate, ev.Text)

	case StreamReasoningEnd:
		return s.closePart(PartReasoning, EventReasoningEnd)

	case StreamTextEnd:
		return s.closePart(PartText, EventTextEnd)

	case StreamToolCall:
		msg := s.ensureInflight()
		part := Part{
			Kind:       PartToolCall,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Input:      ev.Input,
		}
		s.agent.mu.Lock()
		msg.Parts = append(msg.Parts, part.clone())
		snap := msg.Clone()
		s.agent.mu.Unlock()
		partSnap := part.clone()
		s.agent.bus.publish(Event{
			Type:      EventToolCall,
			SessionID: s.id,
			TurnID:    s.turnID,
			Message:   &snap,
			Part:      &partSnap,
		})
		return nil

	case StreamToolResult, StreamToolError:
		return s.foldToolResult(ev)

	case StreamStepFinish:
		s.checkpointSteer()
		return nil

	case StreamTurnFinish:
		return s.foldTurnFinish(ev)

	case StreamTurnError:
		s.lastFinish = FinishError
		s.turnFailed = true
		s.logger.Error().Err(ev.Err).Str("turn_id", s.turnID).Msg("turn failed")
		s.agent.bus.publish(Event{
			Type:      EventTurnError,
			SessionID: s.id,
			TurnID:    s.turnID,
			Finish:    FinishError,
			Err:       ev.Err,
		})
		observability.RecordTurn(string(FinishError), time.Since(s.turnStart))
		return nil

	case StreamTurnAbort:
		return s.foldTurnAbort(ctx)

	default:
		s.logger.Warn().Str("kind", string(ev.Kind)).Msg("unrecognized stream event kind, ignoring")
		return nil
	}
}

// ensureInflight appends a fresh assistant message to the context on first
// content so partial output stays visible even if the turn later fails.
func (s *sessionRun) ensureInflight() *Message {
	if s.inflight == nil {
		s.agent.mu.Lock()
		s.inflight = s.agent.history.append(Message{Role: RoleAssistant})
		s.agent.mu.Unlock()
	}
	return s.inflight
}

func (s *sessionRun) openPart(kind PartKind) {
	msg := s.ensureInflight()
	s.agent.mu.Lock()
	msg.Parts = append(msg.Parts, Part{Kind: kind})
	s.open[kind] = len(msg.Parts) - 1
	s.agent.mu.Unlock()
}

func (s *sessionRun) publishPart(eventType EventType, kind PartKind) error {
	s.agent.mu.Lock()
	snap := s.inflight.Clone()
	s.agent.mu.Unlock()

	var partSnap *Part
	if idx, ok := s.open[kind]; ok && idx >= 0 && idx < len(snap.Parts) {
		p := snap.Parts[idx]
		partSnap = &p
	}
	s.agent.bus.publish(Event{
		Type:      eventType,
		SessionID: s.id,
		TurnID:    s.turnID,
		Message:   &snap,
		Part:      partSnap,
	})
	return nil
}

func (s *sessionRun) appendDelta(kind PartKind, eventType EventType, text string) error {
	idx, ok := s.open[kind]
	if s.inflight == nil || !ok || idx < 0 {
		return fmt.Errorf("%w: %s delta with no open part", ErrProtocolViolation, kind)
	}
	s.agent.mu.Lock()
	s.inflight.Parts[idx].Text += text
	s.agent.mu.Unlock()
	return s.publishPart(eventType, kind)
}

func (s *sessionRun) closePart(kind PartKind, eventType EventType) error {
	if s.inflight == nil {
		return fmt.Errorf("%w: %s end with no in-flight message", ErrProtocolViolation, kind)
	}
	err := s.publishPart(eventType, kind)
	s.open[kind] = -1
	return err
}

// foldToolResult appends a tool-role message to the context; the in-flight
// assistant message is left untouched.
func (s *sessionRun) foldToolResult(ev StreamEvent) error {
	isError := ev.Kind == StreamToolError
	output := ev.Output
	if isError && ev.Err != nil {
		output = ev.Err.Error()
	}

	msg := toolResultMessage(ev.ToolCallID, ev.ToolName, output, isError)
	s.agent.mu.Lock()
	s.agent.history.append(msg)
	s.agent.mu.Unlock()

	eventType := EventToolResult
	if isError {
		eventType = EventToolError
	}
	snap := msg.Clone()
	partSnap := snap.Parts[0]
	s.agent.bus.publish(Event{
		Type:      eventType,
		SessionID: s.id,
		TurnID:    s.turnID,
		Message:   &snap,
		Part:      &partSnap,
	})
	return nil
}

// checkpointSteer cancels the in-progress model call with the reserved
// steering cause when steering input is queued.
func (s *sessionRun) checkpointSteer() {
	s.agent.mu.Lock()
	pending := s.agent.steering.len() > 0
	cancel := s.turnCancel
	s.agent.mu.Unlock()

	if pending && cancel != nil {
		s.logger.Debug().Str("turn_id", s.turnID).Msg("steering queued, interrupting turn at step checkpoint")
		cancel(&abortCause{reason: SteerInterruptReason, steer: true})
	}
}

func (s *sessionRun) foldTurnFinish(ev StreamEvent) error {
	// A turn may finish without an in-flight message when the model produced
	// no content (nothing streamed before the stop); that is valid, not a
	// protocol violation.
	s.usage.Add(ev.Usage)
	s.lastFinish = ev.Finish

	var snap *Message
	if s.inflight != nil {
		s.agent.mu.Lock()
		m := s.inflight.Clone()
		s.agent.mu.Unlock()
		snap = &m
	}
	s.agent.bus.publish(Event{
		Type:      EventTurnFinish,
		SessionID: s.id,
		TurnID:    s.turnID,
		Message:   snap,
		Finish:    ev.Finish,
		Usage:     ev.Usage,
	})
	observability.RecordTurn(string(ev.Finish), time.Since(s.turnStart))
	return nil
}

// foldTurnAbort distinguishes steering cancellation from external aborts by
// inspecting the typed cancellation cause.
func (s *sessionRun) foldTurnAbort(ctx context.Context) error {
	var ac *abortCause
	cause := context.Cause(ctx)
	if cause != nil {
		errors.As(cause, &ac)
	}

	if ac != nil && ac.steer {
		s.agent.mu.Lock()
		if s.agent.steering.len() == 0 {
			s.agent.mu.Unlock()
			return fmt.Errorf("%w: steering abort with empty steering queue", ErrProtocolViolation)
		}
		mode := s.agent.cfg.SteerMode
		batch := s.agent.steering.dequeue(mode)
		s.agent.mu.Unlock()

		s.lastFinish = FinishOther
		s.batch = batch
		s.cause = CauseSteer
		s.steerRedirect = true

		s.agent.bus.publish(Event{
			Type:      EventTurnAbort,
			SessionID: s.id,
			TurnID:    s.turnID,
			Reason:    SteerInterruptReason,
		})
		s.agent.bus.publish(Event{
			Type:      EventTurnSteer,
			SessionID: s.id,
			TurnID:    s.turnID,
			Cause:     CauseSteer,
			Prompts:   clonePrompts(batch),
		})
		observability.RecordAbort("steer")
		return nil
	}

	reason := "aborted"
	switch {
	case ac != nil:
		reason = ac.reason
	case cause != nil:
		reason = cause.Error()
	}
	s.lastFinish = FinishOther
	s.abortedExt = true
	s.abortReason = reason

	s.agent.bus.publish(Event{
		Type:      EventTurnAbort,
		SessionID: s.id,
		TurnID:    s.turnID,
		Reason:    reason,
	})
	observability.RecordAbort("external")
	return nil
}
