package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/kemudi/internal/observability"
	"github.com/harun/kemudi/internal/tracing"
)

// SteerInterruptReason is the reserved cancellation reason used internally
// when a queued steering prompt interrupts a turn. External callers must not
// pass it to Abort.
const SteerInterruptReason = "steer-interrupt"

// ErrReservedAbortReason is returned by Abort when the caller supplies the
// reserved steering-cancellation reason.
var ErrReservedAbortReason = errors.New("abort reason is reserved for internal steering cancellation")

// ErrRunning is returned by operations that require an idle agent.
var ErrRunning = errors.New("agent is running")

// ErrNothingToRecover is returned by Recover when no recovery branch applies.
var ErrNothingToRecover = errors.New("nothing to recover")

// abortCause is the typed cancellation cause attached to a turn's context.
// The steer flag distinguishes internal steering cancellation from external
// aborts without comparing reason strings.
type abortCause struct {
	reason string
	steer  bool
}

func (a *abortCause) Error() string {
	return a.reason
}

// Options configures a new Agent.
type Options struct {
	// ID identifies the agent in logs and traces. Generated when empty.
	ID string
	// Streamer is the model streaming collaborator. Required.
	Streamer ModelStreamer
	// Config is the initial configuration. Zero value means DefaultConfig.
	Config AgentConfig
	// Logger is the structured logger. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// Agent drives the conversational run-loop. All history and queue mutation
// happens on the session goroutine; the public operations are safe to call
// concurrently and while a turn is suspended mid-stream.
type Agent struct {
	id       string
	streamer ModelStreamer
	bus      *broadcaster
	logger   zerolog.Logger

	mu         sync.Mutex
	cfg        AgentConfig
	pending    ConfigPatch
	hasPending bool
	history    *history
	steering   *promptQueue
	followUp   *promptQueue
	running    bool
	gen        int
	lastFinish FinishReason
	cancel     context.CancelCauseFunc
	idle       chan struct{}
	idleClosed bool
}

// New creates an Agent. The streamer is required.
func New(opts Options) (*Agent, error) {
	observability.EnsureRegistered()

	if opts.Streamer == nil {
		return nil, fmt.Errorf("model streamer is required")
	}

	id := opts.ID
	if id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate agent id: %w", err)
		}
		id = generated
	}

	cfg := opts.Config
	if cfg.Model == "" {
		cfg = DefaultConfig()
	}
	if cfg.SteerMode == "" {
		cfg.SteerMode = DequeueOne
	}
	if cfg.FollowUpMode == "" {
		cfg.FollowUpMode = DequeueAll
	}

	return &Agent{
		id:       id,
		streamer: opts.Streamer,
		bus:      newBroadcaster(),
		logger:   opts.Logger.With().Str("module", "agent").Str("agent_id", id).Logger(),
		cfg:      cfg.clone(),
		history:  newHistory(),
		steering: newPromptQueue("steering"),
		followUp: newPromptQueue("follow_up"),
	}, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() string {
	return a.id
}

// Running reports whether a session is in progress.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Config returns a copy of the effective configuration.
func (a *Agent) Config() AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.clone()
}

// Messages returns a snapshot of the conversation context.
func (a *Agent) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.snapshot()
}

// Subscribe registers a listener for all published events and returns its
// unsubscribe function. Listeners are invoked synchronously at publish time.
func (a *Agent) Subscribe(fn Listener) func() {
	return a.bus.subscribe(fn)
}

// Start begins a new session with the given prompt. It returns false, with
// a logged warning, if a session is already running or the prompt is
// invalid. Both queues are cleared before the session begins.
func (a *Agent) Start(ctx context.Context, prompt Prompt) bool {
	if err := prompt.validate(); err != nil {
		a.logger.Warn().Err(err).Msg("start rejected: invalid prompt")
		return false
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Warn().Msg("start rejected: session already running")
		return false
	}
	a.steering.clear()
	a.followUp.clear()
	s := a.beginSessionLocked(ctx, CauseStart)
	s.batch = []Prompt{prompt.clone()}
	a.mu.Unlock()

	go a.run(s)
	return true
}

// Steer enqueues a prompt that preempts the in-progress turn at its next
// step checkpoint. Returns false if no session is running.
func (a *Agent) Steer(prompt Prompt) bool {
	if err := prompt.validate(); err != nil {
		a.logger.Warn().Err(err).Msg("steer rejected: invalid prompt")
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		a.logger.Warn().Msg("steer rejected: no session running")
		return false
	}
	a.steering.push(prompt)
	return true
}

// FollowUp enqueues a prompt taken up after the current batch's turns are
// exhausted with no pending steering. Returns false if no session is
// running.
func (a *Agent) FollowUp(prompt Prompt) bool {
	if err := prompt.validate(); err != nil {
		a.logger.Warn().Err(err).Msg("follow-up rejected: invalid prompt")
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		a.logger.Warn().Msg("follow-up rejected: no session running")
		return false
	}
	a.followUp.push(prompt)
	return true
}

// Abort cancels the active model call with the given reason and resolves
// any outstanding WaitForIdle immediately. The session terminates without a
// session-end event; turn-abort is still published as the stream unwinds.
// Passing the reserved steering reason fails with ErrReservedAbortReason.
func (a *Agent) Abort(reason string) error {
	if reason == SteerInterruptReason {
		return ErrReservedAbortReason
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		a.logger.Warn().Msg("abort ignored: no session running")
		return nil
	}

	a.logger.Info().Str("reason", reason).Msg("aborting session")
	if a.cancel != nil {
		a.cancel(&abortCause{reason: reason})
	}
	a.running = false
	a.lastFinish = FinishOther
	a.releaseIdleLocked()
	return nil
}

// Recover resumes an aborted or failed session from existing context and
// still-queued prompts. Exactly one branch applies, in order: replay after
// a mid-flight user message; drop and replay an unfinished trailing
// assistant message; replay queued steering; replay queued follow-ups.
func (a *Agent) Recover(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrRunning
	}
	if a.history.len() == 0 {
		a.mu.Unlock()
		return fmt.Errorf("cannot recover: context is empty")
	}

	s := a.beginSessionLocked(ctx, CauseRecover)

	switch {
	case a.history.last().Role != RoleAssistant:
		s.recovering = true

	case !a.lastFinish.clean():
		a.history.popLast()
		s.recovering = true

	case a.steering.len() > 0:
		s.batch = a.steering.drain()

	case a.followUp.len() > 0:
		s.batch = a.followUp.drain()

	default:
		a.rollbackSessionLocked()
		a.mu.Unlock()
		return ErrNothingToRecover
	}
	a.mu.Unlock()

	go a.run(s)
	return nil
}

// Reset clears the context, both queues and turn bookkeeping. Fails if a
// session is running.
func (a *Agent) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunning
	}
	a.history.clear()
	a.steering.clear()
	a.followUp.clear()
	a.lastFinish = ""
	return nil
}

// UpdateConfig merges the patch into the configuration. When the agent is
// idle the patch applies immediately; mid-session it is merged into a
// pending patch and applied atomically at the next safe checkpoint.
func (a *Agent) UpdateConfig(patch ConfigPatch) {
	if patch.isZero() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		a.cfg = patch.apply(a.cfg)
		return
	}
	a.pending.merge(patch)
	a.hasPending = true
	a.logger.Debug().Msg("configuration update deferred until next safe checkpoint")
}

// WaitForIdle blocks until the current session ends or is aborted, or ctx
// is done. Returns immediately when no session is running.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	a.mu.Lock()
	if !a.running || a.idle == nil {
		a.mu.Unlock()
		return nil
	}
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginSessionLocked mints session state and the session-scoped cancel.
// Caller holds a.mu.
func (a *Agent) beginSessionLocked(ctx context.Context, cause StartCause) *sessionRun {
	a.running = true
	a.gen++
	a.idle = make(chan struct{})
	a.idleClosed = false

	sessionID, err := gonanoid.New()
	if err != nil {
		sessionID = fmt.Sprintf("session-%d", a.gen)
	}

	// agent_id is already a field on a.logger; the context carries the
	// session id so derived loggers and spans pick it up.
	runCtx := tracing.WithSessionID(ctx, sessionID)
	runCtx, cancel := context.WithCancelCause(runCtx)
	a.cancel = cancel

	return &sessionRun{
		agent:      a,
		gen:        a.gen,
		id:         sessionID,
		cause:      cause,
		logger:     tracing.LoggerFromContext(runCtx, a.logger),
		ctx:        runCtx,
		lastFinish: a.lastFinish,
	}
}

func (a *Agent) rollbackSessionLocked() {
	a.running = false
	a.cancel = nil
	a.releaseIdleLocked()
}

// releaseIdleLocked resolves WaitForIdle. Caller holds a.mu.
func (a *Agent) releaseIdleLocked() {
	if a.idle != nil && !a.idleClosed {
		close(a.idle)
		a.idleClosed = true
	}
}

// applyPending applies the pending configuration patch in one
// merge-and-clear step. Called only at safe checkpoints.
func (a *Agent) applyPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasPending {
		return
	}
	a.cfg = a.pending.apply(a.cfg)
	a.pending = ConfigPatch{}
	a.hasPending = false
	a.logger.Debug().Msg("applied deferred configuration update")
}

// run is the session loop. It executes turns until both queues are empty
// and no steering redirection occurred, then publishes session-end and
// releases WaitForIdle. An external abort skips session-end.
func (a *Agent) run(s *sessionRun) {
	started := time.Now()
	observability.IncActiveSessions()

	ctx, span := tracing.StartSpan(s.ctx, "agent", "session",
		attribute.String("agent.id", a.id),
		attribute.String("session.id", s.id),
		attribute.String("session.cause", string(s.cause)),
	)
	defer span.End()
	s.ctx = ctx

	s.logger.Info().Str("cause", string(s.cause)).Msg("session started")

	a.bus.publish(Event{
		Type:      EventSessionStart,
		SessionID: s.id,
		Cause:     s.cause,
	})

	sessionEnd := true

	for s.recovering || len(s.batch) > 0 {
		s.recovering = false

		// Safe checkpoint: session start, turn finish/error/abort/steer.
		a.applyPending()
		cfg := a.Config()

		s.beginTurn()

		a.mu.Lock()
		empty := a.history.len() == 0
		a.mu.Unlock()
		if empty {
			s.logger.Warn().Msg("nothing to run: context is empty")
			break
		}

		if !a.runTurn(s, cfg) {
			// Turn-level failure or protocol violation; the session still
			// ends with session-end so callers can decide to recover.
			break
		}

		if s.steerRedirect {
			continue
		}
		if s.abortedExt {
			sessionEnd = false
			break
		}
		if s.turnFailed {
			break
		}

		a.mu.Lock()
		if a.steering.len() > 0 {
			s.batch = a.steering.dequeue(cfg.SteerMode)
			s.cause = CauseSteer
		} else {
			s.batch = a.followUp.dequeue(cfg.FollowUpMode)
			s.cause = CauseFollowUp
		}
		a.mu.Unlock()
	}

	a.applyPending()

	if sessionEnd {
		a.bus.publish(Event{
			Type:      EventSessionEnd,
			SessionID: s.id,
			Finish:    s.lastFinish,
			Usage:     s.usage,
		})
	}

	a.mu.Lock()
	if a.gen == s.gen {
		a.running = false
		a.cancel = nil
		a.lastFinish = s.lastFinish
		a.releaseIdleLocked()
	}
	a.mu.Unlock()

	observability.DecActiveSessions()
	observability.RecordSession(string(s.cause), time.Since(started), !s.turnFailed)
	done := s.logger.Info().
		Dur("duration", time.Since(started)).
		Int("input_tokens", s.usage.InputTokens).
		Int("output_tokens", s.usage.OutputTokens)
	if s.abortedExt {
		done = done.Str("abort_reason", s.abortReason)
	}
	done.Msg("session ended")
}

// runTurn invokes the streamer once and folds its event sequence. Returns
// false when the fold hit a protocol violation or the stream could not be
// opened.
func (a *Agent) runTurn(s *sessionRun, cfg AgentConfig) bool {
	turnCtx, turnCancel := context.WithCancelCause(tracing.WithTurnID(s.ctx, s.turnID))
	defer turnCancel(nil)

	a.mu.Lock()
	s.turnCancel = turnCancel
	req := StreamRequest{
		Model:           cfg.Model,
		SystemPrompt:    cfg.SystemPrompt,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxTokens:       cfg.MaxTokens,
		Tools:           cfg.Tools,
		ProviderOptions: cfg.ProviderOptions,
		Messages:        a.history.snapshot(),
	}
	a.mu.Unlock()

	events, err := a.streamer.Stream(turnCtx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("turn_id", s.turnID).Msg("failed to open model stream")
		s.lastFinish = FinishError
		s.turnFailed = true
		a.bus.publish(Event{
			Type:      EventTurnError,
			SessionID: s.id,
			TurnID:    s.turnID,
			Finish:    FinishError,
			Err:       err,
		})
		return true
	}

	for ev := range events {
		if ferr := s.fold(turnCtx, ev); ferr != nil {
			s.logger.Error().Err(ferr).Str("turn_id", s.turnID).Msg("stream fold failed")
			s.lastFinish = FinishError
			s.turnFailed = true
			turnCancel(ferr)
			for range events {
				// Drain so the streamer goroutine can exit.
			}
			return false
		}
	}
	return true
}
