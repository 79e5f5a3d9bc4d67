package runner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/flow"
	"github.com/shopmesh/shopmesh/interrupt"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/session"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns bounds runs across all sessions.
	MaxConcurrentRuns int
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run.
	MaxModelCalls int
	// SessionStore persists sessions, history and checkpoints.
	SessionStore core.SessionStore
	// Logger receives structured run lifecycle logs.
	Logger logging.Logger
}

// Runner coordinates runs against the agent hierarchy: it serializes
// requests per session, streams events, applies side-effects, persists
// history and suspends/resumes on confirmation-gated actions. Public
// methods are safe for concurrent use.
type Runner struct {
	root       core.Agent
	controller *interrupt.Controller

	eventBufferSize int
	maxModelCalls   int

	store  core.SessionStore
	logger logging.Logger
	sem    *semaphore.Weighted

	mu         sync.Mutex
	inFlight   map[string]struct{}
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner over the hierarchy rooted at root.
func New(root core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 32,
		EventBufferSize:   100,
		MaxModelCalls:     100,
		SessionStore:      session.NewInMemoryStore(),
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		root:            root,
		controller:      interrupt.NewController(root),
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		store:           opts.SessionStore,
		logger:          opts.Logger,
		sem:             semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		inFlight:        make(map[string]struct{}),
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// Reply is the live result of a run: the normalized event stream plus the
// run identifier. Consume Events directly for streaming delivery, or call
// Wait to collect the run's outcome.
type Reply struct {
	RunID  string
	Events <-chan core.Event

	errs <-chan error
}

// Outcome is the collected result of a completed (or suspended) run.
type Outcome struct {
	// Text is the last complete assistant message, or the confirmation
	// prompt when the run suspended.
	Text string
	// Fragments are the streamed partial chunks in emission order.
	Fragments []string
	// Pending is set when the run suspended awaiting a decision.
	Pending *core.PendingAction
}

// Wait drains the event stream and returns the collected outcome. A run
// that failed before producing a final answer returns the failure.
func (r *Reply) Wait() (*Outcome, error) {
	out := &Outcome{}

	var runErr error
	for ev := range r.Events {
		if ev.ErrorMessage != nil {
			runErr = fmt.Errorf("run failed: %s", *ev.ErrorMessage)
			continue
		}
		if ev.IsPartial() {
			out.Fragments = append(out.Fragments, ev.Text())
			continue
		}
		if ev.IsInterruption() {
			p := *ev.Pending
			out.Pending = &p
			out.Text = ev.Text()
			continue
		}
		if len(ev.GetFunctionCalls()) > 0 || len(ev.GetFunctionResponses()) > 0 {
			continue
		}
		if t := ev.Text(); t != "" {
			out.Text = t
		}
	}

	for err := range r.errs {
		if err != nil {
			runErr = err
		}
	}

	if runErr != nil {
		return nil, runErr
	}

	return out, nil
}

// SubmitMessage starts a run for the given user text. It returns core.ErrBusy
// while a prior request for the session is in flight and
// core.ErrCheckpointPending while a pending action awaits a decision.
func (r *Runner) SubmitMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	if sessionID == "" {
		return nil, &core.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if text == "" {
		return nil, &core.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	if err := r.acquireSession(sessionID); err != nil {
		return nil, err
	}

	sess, err := r.store.Get(sessionID)
	if err != nil {
		r.releaseSession(sessionID)
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess.LiveCheckpoint() != nil {
		r.releaseSession(sessionID)
		return nil, core.ErrCheckpointPending
	}

	userContent := core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: text}}}

	runID := core.NewID()
	userEvent := core.NewUserMessageEvent(runID, text)
	if err := r.store.AppendEvent(sessionID, userEvent); err != nil {
		r.releaseSession(sessionID)
		return nil, fmt.Errorf("append user event: %w", err)
	}
	if sess, err = r.store.Get(sessionID); err != nil {
		r.releaseSession(sessionID)
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	r.logger.Info("runner.submit.start", "session_id", sessionID, "run_id", runID)

	return r.launch(ctx, sessionID, runID, sess, userContent, func(rc *core.RunContext) error {
		return r.runAgent(rc)
	})
}

// Resume applies a human decision to the session's live checkpoint and
// continues the suspended run. It returns core.ErrNoActiveCheckpoint when
// nothing is pending and core.ErrBusy while another request is in flight.
func (r *Runner) Resume(ctx context.Context, sessionID string, decision core.Decision) (*Reply, error) {
	if sessionID == "" {
		return nil, &core.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if err := decision.Validate(); err != nil {
		return nil, err
	}

	if err := r.acquireSession(sessionID); err != nil {
		return nil, err
	}

	sess, err := r.store.Get(sessionID)
	if err != nil {
		r.releaseSession(sessionID)
		return nil, fmt.Errorf("get session: %w", err)
	}

	cp := sess.LiveCheckpoint()
	if cp == nil {
		r.releaseSession(sessionID)
		return nil, core.ErrNoActiveCheckpoint
	}

	r.logger.Info("runner.resume.start",
		"session_id", sessionID, "run_id", cp.RunID, "decision", string(decision.Kind))

	return r.launch(ctx, sessionID, cp.RunID, sess, core.Content{}, func(rc *core.RunContext) error {
		return r.controller.Resume(rc, decision)
	})
}

// History returns the session's conversational events in order. A positive
// limit bounds the result to the newest events.
func (r *Runner) History(_ context.Context, sessionID string, limit int) ([]core.Event, error) {
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	events := sess.GetConversationHistory()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	return events, nil
}

// Clear drops the session entirely: history, state and any live checkpoint.
// It returns core.ErrBusy while a request for the session is in flight.
func (r *Runner) Clear(_ context.Context, sessionID string) error {
	if err := r.acquireSession(sessionID); err != nil {
		return err
	}
	defer r.releaseSession(sessionID)

	r.logger.Info("runner.clear", "session_id", sessionID)

	return r.store.Delete(sessionID)
}

// Cancel aborts a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// launch wires the run pipeline: the driver goroutine emits raw agent events,
// the dispatcher normalizes them for client delivery, and the persistence
// loop applies side-effects before forwarding. The session latch is released
// when the stream closes.
func (r *Runner) launch(
	ctx context.Context,
	sessionID, runID string,
	sess *core.Session,
	userContent core.Content,
	drive func(rc *core.RunContext) error,
) (*Reply, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.releaseSession(sessionID)
		return nil, fmt.Errorf("acquire run slot: %w", err)
	}

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)
	agentEmit := make(chan core.Event, r.eventBufferSize)
	resumeCh := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	runCtx := core.NewRunContext(
		ctx,
		sessionID,
		runID,
		core.AgentInfo{Name: r.root.Name(), Type: "supervisor"},
		userContent,
		r.maxModelCalls,
		agentEmit,
		resumeCh,
		sess,
		r.store,
		r.logger,
	)

	driveErr := make(chan error, 1)
	go func() {
		defer close(agentEmit)
		driveErr <- drive(runCtx)
	}()

	normalized := flow.NewDispatcher(runID, r.root.Name()).Dispatch(agentEmit)

	go func() {
		procErr := r.processEvents(runCtx, sessionID, normalized, resumeCh, eventsCh)

		// On early termination the driver may still be emitting; cancel and
		// drain so it can finish.
		cancel()
		go func() {
			for range normalized {
			}
		}()
		err := <-driveErr

		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
		r.sem.Release(1)
		r.releaseSession(sessionID)

		if procErr == nil {
			procErr = err
		}
		if procErr != nil {
			errorsCh <- procErr
		}

		// Closed last so a caller draining the stream observes the latch
		// already freed.
		close(eventsCh)
		close(errorsCh)
	}()

	return &Reply{RunID: runID, Events: eventsCh, errs: errorsCh}, nil
}

func (r *Runner) runAgent(runCtx *core.RunContext) error {
	if err := r.root.Start(runCtx); err != nil {
		return err
	}

	defer func() {
		if err := r.root.Stop(runCtx); err != nil {
			runCtx.LogWarn("runner.agent.stop", "agent", r.root.Name(), "error", err.Error())
		}
	}()

	return r.root.Run(runCtx)
}

// processEvents persists every complete event, installs checkpoints on
// interruption, and forwards the stream to the caller. After each persisted
// event it signals resumeCh so the emitting flow can take its next step.
func (r *Runner) processEvents(
	runCtx *core.RunContext,
	sessionID string,
	in <-chan core.Event,
	resumeCh chan<- struct{},
	eventsCh chan<- core.Event,
) error {
	// Completed assistant turns seen so far in this run; captured into the
	// checkpoint so a resumed continuation can reconstruct upstream context.
	var partials []string

	for {
		select {
		case <-runCtx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}

			if len(ev.Actions.StateDelta) > 0 {
				if err := r.store.ApplyDelta(sessionID, ev.Actions.StateDelta); err != nil {
					return fmt.Errorf("apply state delta: %w", err)
				}
			}

			if !ev.IsPartial() {
				if ev.IsInterruption() {
					cp := core.NewCheckpoint(ev.RunID, ev.Pending.OriginAgent, *ev.Pending, partials)
					if err := r.store.SaveCheckpoint(sessionID, cp, ev); err != nil {
						return fmt.Errorf("save checkpoint: %w", err)
					}
					r.logger.Info("runner.suspend",
						"session_id", sessionID, "run_id", ev.RunID,
						"checkpoint", cp.ID, "action", ev.Pending.ActionType)
				} else {
					if err := r.store.AppendEvent(sessionID, ev); err != nil {
						return fmt.Errorf("append event: %w", err)
					}
					if t := ev.Text(); t != "" && len(ev.GetFunctionCalls()) == 0 && len(ev.GetFunctionResponses()) == 0 {
						partials = append(partials, t)
					}
				}
			}

			select {
			case <-runCtx.Done():
				return nil
			case eventsCh <- ev:
			}

			if !ev.IsPartial() {
				select {
				case resumeCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// acquireSession takes the per-session latch; one request per session at a
// time.
func (r *Runner) acquireSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.inFlight[id]; busy {
		return core.ErrBusy
	}
	r.inFlight[id] = struct{}{}

	return nil
}

func (r *Runner) releaseSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}
