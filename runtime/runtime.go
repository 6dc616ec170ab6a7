// Package runtime wires the kernel's collaborators — the event store, the
// event hub, the provider recorder, the HITL coordinator, the phase
// scheduler, and the dispatch bridge — into a single entry point: start a
// workflow, get back an Execution Handle, drive it to completion or suspend
// it on human input. A Runtime owns no workflow-specific logic itself; it is
// pure composition, matching the teacher's own central-registry Runtime
// shape re-expressed without a durable workflow-engine dependency.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"goa.design/flowkernel/dispatch"
	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventhub"
	"goa.design/flowkernel/eventstore"
	"goa.design/flowkernel/executor"
	"goa.design/flowkernel/hitl"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/recorder"
	"goa.design/flowkernel/replay"
	"goa.design/flowkernel/scheduler"
	"goa.design/flowkernel/telemetry"
	"goa.design/flowkernel/workflowerr"
)

// Config configures a Runtime. Store, Hub, and Recorder are required; the
// rest have nil-safe no-op defaults.
type Config struct {
	Store    eventstore.EventStore
	Hub      *eventhub.Hub
	Recorder *recorder.Recorder
	Mode     executor.Mode

	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics

	LoopBudget int
}

// Runtime is the shared collaborator set every session is built from. One
// Runtime typically backs many concurrent sessions; sessions themselves are
// independent of one another.
type Runtime struct {
	store    eventstore.EventStore
	hub      *eventhub.Hub
	rec      *recorder.Recorder
	mode     executor.Mode
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	metrics  telemetry.Metrics
	loopBudget int
}

// New constructs a Runtime from cfg, substituting no-op telemetry and the
// default loop budget where unset.
func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, errors.New("runtime: Store is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("runtime: Hub is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("runtime: Recorder is required")
	}
	r := &Runtime{
		store:   cfg.Store,
		hub:     cfg.Hub,
		rec:     cfg.Recorder,
		mode:    cfg.Mode,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		loopBudget: cfg.LoopBudget,
	}
	if r.mode == "" {
		r.mode = executor.ModeLive
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	if r.tracer == nil {
		r.tracer = telemetry.NewNoopTracer()
	}
	if r.metrics == nil {
		r.metrics = telemetry.NewNoopMetrics()
	}
	return r, nil
}

// Outcome is delivered once on a Handle's Result channel when a session ends,
// whether by reaching a terminal phase, aborting, or failing.
type Outcome struct {
	SessionID  ids.SessionID
	State      any
	ExitPhase  string
	Completed  bool
	DurationMs int64
	Err        error
}

// Start mints a fresh session, appends workflow:started, and drives wf to
// completion asynchronously, returning a Handle immediately.
func (r *Runtime) Start(ctx context.Context, wf scheduler.Definition, input any, observer dispatch.Observer) (*Handle, error) {
	if err := scheduler.Validate(wf); err != nil {
		return nil, err
	}
	sessionID := ids.NewSessionID()
	return r.run(ctx, sessionID, wf, input, nil, "", false, observer)
}

// Resume replays sessionID's log via package replay, then re-enters the
// workflow at the derived resume phase with the reconstructed state. The
// prior log is never re-emitted; only new events from this point forward are
// appended.
func (r *Runtime) Resume(ctx context.Context, wf scheduler.Definition, sessionID ids.SessionID, observer dispatch.Observer) (*Handle, error) {
	if err := scheduler.Validate(wf); err != nil {
		return nil, err
	}
	result, err := replay.Replay(ctx, r.store, sessionID)
	if err != nil {
		return nil, fmt.Errorf("runtime: resume: %w", err)
	}
	if result.ResumePhase == "" {
		return nil, fmt.Errorf("runtime: resume: %w: session %s has no recorded phase", workflowerr.ErrWorkflowMisconfigured, sessionID)
	}
	return r.run(ctx, sessionID, wf, result.OriginalInput, result.State, result.ResumePhase, true, observer)
}

// RewindTo steps sessionID backward to the state recorded immediately after
// intentID, by replaying the log and then unwinding every later state:intent
// via its recorded inverse patches, and resumes the workflow from there at
// the phase active when intentID was recorded. Like Resume, this never
// re-runs an agent or provider call for the events it unwinds — the same
// session continues forward from the rewound state, appending fresh events
// rather than rewriting history.
func (r *Runtime) RewindTo(ctx context.Context, wf scheduler.Definition, sessionID ids.SessionID, intentID ids.IntentID, observer dispatch.Observer) (*Handle, error) {
	if err := scheduler.Validate(wf); err != nil {
		return nil, err
	}
	result, err := replay.Replay(ctx, r.store, sessionID)
	if err != nil {
		return nil, fmt.Errorf("runtime: rewind: %w", err)
	}
	if result.ResumePhase == "" {
		return nil, fmt.Errorf("runtime: rewind: %w: session %s has no recorded phase", workflowerr.ErrWorkflowMisconfigured, sessionID)
	}
	state, phase, err := replay.RewindTo(result, intentID)
	if err != nil {
		return nil, fmt.Errorf("runtime: rewind: %w", err)
	}
	return r.run(ctx, sessionID, wf, result.OriginalInput, state, phase, true, observer)
}

func (r *Runtime) run(ctx context.Context, sessionID ids.SessionID, wf scheduler.Definition, input, resumeState any, resumePhase string, resuming bool, observer dispatch.Observer) (*Handle, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	h := newHandle(sessionID, cancel)

	var coordinator *hitl.Coordinator

	publish := func(ev event.Event) {
		if err := r.store.Append(sessionCtx, sessionID, ev); err != nil {
			r.logger.Error(sessionCtx, "runtime: append event failed", "session", string(sessionID), "error", err.Error())
		}
		r.hub.Publish(ev)
		h.deliver(ev)
		if observer != nil {
			if err := dispatch.Dispatch(observer, ev); err != nil {
				r.logger.Warn(sessionCtx, "runtime: dispatch failed", "session", string(sessionID), "error", err.Error())
			}
			if p, ok := ev.Payload.(event.PayloadInputRequested); ok && ev.Name == event.InputRequested && coordinator != nil {
				if value, handled := observer.OnInputRequested(p); handled {
					coordinator.Respond(p.ID, value, nil)
				}
			}
		}
	}

	exec := executor.New(r.rec, r.mode, executor.WithLogger(r.logger), executor.WithTracer(r.tracer), executor.WithMetrics(r.metrics))
	coordinator = hitl.New(publisherFunc(publish))

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(r.logger),
		scheduler.WithTracer(r.tracer),
		scheduler.WithPauseCheck(h.IsPaused),
	}
	if r.loopBudget > 0 {
		schedOpts = append(schedOpts, scheduler.WithLoopBudget(r.loopBudget))
	}
	sched := scheduler.New(exec, coordinator, publish, schedOpts...)

	h.hitl = coordinator

	publish(event.New(event.WorkflowStarted, event.PayloadWorkflowStarted{
		SessionID: sessionID, Workflow: wf.Name, Input: input,
	}))

	go func() {
		defer cancel()
		start := time.Now()
		outcome, err := sched.Run(sessionCtx, wf, input, resumeState, resumePhase, resuming)
		duration := time.Since(start).Milliseconds()
		if err != nil && sessionCtx.Err() != nil && !errors.Is(err, workflowerr.ErrAborted) {
			err = fmt.Errorf("%w: %s", workflowerr.ErrAborted, err)
		}

		result := Outcome{SessionID: sessionID, State: outcome.State, ExitPhase: outcome.ExitPhase, Completed: outcome.Completed, DurationMs: duration}
		if err != nil {
			result.Err = err
			if errors.Is(err, workflowerr.ErrAborted) {
				publish(event.New(event.WorkflowAborted, event.PayloadWorkflowAborted{SessionID: sessionID, Reason: err.Error()}))
			}
			if observer != nil {
				observer.OnError(err)
			}
		} else {
			publish(event.New(event.WorkflowCompleted, event.PayloadWorkflowCompleted{
				SessionID: sessionID, FinalState: outcome.State, ExitPhase: outcome.ExitPhase,
			}))
		}
		if observer != nil {
			observer.OnCompleted(outcome.State, outcome.ExitPhase, duration)
		}
		h.resolve(result)
	}()

	return h, nil
}

type publisherFunc func(ev event.Event)

func (f publisherFunc) Publish(ev event.Event) { f(ev) }

// Handle is the caller-facing view of one running (or completed) session.
type Handle struct {
	sessionID ids.SessionID
	cancel    context.CancelFunc
	hitl      *hitl.Coordinator

	resultCh chan Outcome
	once     sync.Once

	eventsMu sync.Mutex
	eventSubs []chan event.Event

	pendingMu sync.Mutex
	pendingIDs []ids.InteractionID

	paused atomic.Bool
}

func newHandle(sessionID ids.SessionID, cancel context.CancelFunc) *Handle {
	return &Handle{
		sessionID: sessionID,
		cancel:    cancel,
		resultCh:  make(chan Outcome, 1),
	}
}

// SessionID returns the identifier of the session this Handle drives.
func (h *Handle) SessionID() ids.SessionID { return h.sessionID }

// Result returns a channel that receives exactly one Outcome once the session
// ends.
func (h *Handle) Result() <-chan Outcome { return h.resultCh }

// Events returns a live stream of this session's events, starting from the
// point of subscription (not buffered from session start).
func (h *Handle) Events() <-chan event.Event {
	ch := make(chan event.Event, 64)
	h.eventsMu.Lock()
	h.eventSubs = append(h.eventSubs, ch)
	h.eventsMu.Unlock()
	return ch
}

func (h *Handle) deliver(ev event.Event) {
	h.trackPending(ev)
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	for _, ch := range h.eventSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// trackPending maintains the oldest-first queue Respond draws from, so a
// caller that doesn't care which interaction it is answering can still use
// the single-argument Respond form.
func (h *Handle) trackPending(ev event.Event) {
	switch ev.Name {
	case event.InputRequested:
		p, ok := ev.Payload.(event.PayloadInputRequested)
		if !ok {
			return
		}
		h.pendingMu.Lock()
		h.pendingIDs = append(h.pendingIDs, p.ID)
		h.pendingMu.Unlock()
	case event.InputReceived:
		p, ok := ev.Payload.(event.PayloadInputReceived)
		if !ok {
			return
		}
		h.pendingMu.Lock()
		for i, id := range h.pendingIDs {
			if id == p.ID {
				h.pendingIDs = append(h.pendingIDs[:i], h.pendingIDs[i+1:]...)
				break
			}
		}
		h.pendingMu.Unlock()
	}
}

func (h *Handle) resolve(outcome Outcome) {
	h.resultCh <- outcome
	close(h.resultCh)
	h.eventsMu.Lock()
	for _, ch := range h.eventSubs {
		close(ch)
	}
	h.eventSubs = nil
	h.eventsMu.Unlock()
}

// Respond answers the oldest still-pending HITL interaction with value. For
// workflows with at most one outstanding interaction at a time this is
// sufficient; RespondTo should be used when more than one may be pending.
func (h *Handle) Respond(value any) {
	if h.hitl == nil {
		return
	}
	h.pendingMu.Lock()
	if len(h.pendingIDs) == 0 {
		h.pendingMu.Unlock()
		return
	}
	id := h.pendingIDs[0]
	h.pendingMu.Unlock()
	h.hitl.Respond(id, value, nil)
}

// RespondTo answers a specific pending interaction by ID.
func (h *Handle) RespondTo(interactionID ids.InteractionID, value any, approved *bool) {
	if h.hitl == nil {
		return
	}
	h.hitl.Respond(interactionID, value, approved)
}

// Pause requests the session suspend at its next phase boundary, finishing
// any in-flight phase iteration first.
func (h *Handle) Pause() { h.paused.Store(true) }

// Resume lifts a prior Pause.
func (h *Handle) Resume() { h.paused.Store(false) }

// IsPaused reports whether a pause is currently in effect.
func (h *Handle) IsPaused() bool { return h.paused.Load() }

// Abort cancels the session's context, stopping it at its next suspension
// point with workflowerr.ErrAborted rather than a normal completion.
func (h *Handle) Abort() {
	h.once.Do(h.cancel)
}
