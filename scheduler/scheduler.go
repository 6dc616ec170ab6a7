// Package scheduler drives a workflow's phase graph: it runs agent phases to
// completion (re-running on an Until policy), fans out forEach phases across
// a bounded worker pool, suspends on human phases via the HITL coordinator,
// and stops at a terminal phase. It owns no persistence itself — every event
// it produces is handed to a Publish callback supplied by the runtime
// package, which appends it to the EventStore and fans it out via the
// EventHub.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/executor"
	"goa.design/flowkernel/hitl"
	"goa.design/flowkernel/ids"
	"goa.design/flowkernel/patch"
	"goa.design/flowkernel/telemetry"
	"goa.design/flowkernel/workflowerr"
)

// Kind identifies how a Phase runs its work.
type Kind string

const (
	// KindAgent runs a single agent, re-running on the same phase while
	// Until reports false.
	KindAgent Kind = "agent"
	// KindForEach fans a single agent out across ForEach(state)'s contexts,
	// up to Parallel concurrently, joins, then evaluates Until.
	KindForEach Kind = "foreach"
	// KindHuman raises a HITL request, suspends for the response, folds it
	// into state via OnResponse, then transitions.
	KindHuman Kind = "human"
	// KindTerminal ends the workflow: phase:exited then workflow:completed.
	KindTerminal Kind = "terminal"
)

// defaultLoopBudget bounds how many times one phase may iterate before the
// scheduler gives up and fails with workflowerr.ErrPhaseLoopBudget.
const defaultLoopBudget = 1000

type (
	// Phase is one node of a workflow's phase graph, identified by its key in
	// Definition.Phases.
	Phase struct {
		Kind Kind

		// Agent is required for KindAgent and KindForEach.
		Agent *executor.Definition

		// Until reports whether a KindAgent/KindForEach phase is done
		// iterating. outputs holds one element for KindAgent, or one per
		// ForEach context for KindForEach.
		Until func(state any, outputs []any) bool

		// ForEach computes the per-iteration contexts for a KindForEach
		// phase, re-evaluated each time Until reports false.
		ForEach func(state any) []any
		// Parallel bounds how many ForEach contexts run concurrently.
		// Defaults to 1 (sequential) when zero.
		Parallel int

		// Prompt, InteractionKind, and Options build a KindHuman phase's
		// input:requested event.
		Prompt          func(state any) string
		InteractionKind event.InteractionKind
		Options         func(state any) []string
		// OnResponse folds a HITL response into state for a KindHuman phase.
		OnResponse func(resp hitl.Response, draft *patch.Draft) error

		// Next names the phase to transition to: either a literal phase
		// name, or a func(state any) string returning one. Unused for
		// KindTerminal.
		Next any

		// Timeout records an optional per-iteration time bound. Run does not
		// read it: no phase iteration is bounded by it, and Run never fails
		// with workflowerr.ErrPhaseTimeout.
		Timeout time.Duration
	}

	// Definition describes a complete workflow: its phase graph, initial
	// state, and optional start mutator. A workflow with exactly one phase
	// need not set StartPhase explicitly.
	Definition struct {
		Name         string
		InitialState any
		StartPhase   string
		Phases       map[string]Phase
		// Start mutates the initial state from the caller-supplied input,
		// via the patch engine, before the first phase:entered.
		Start func(input any, draft *patch.Draft) error
	}

	// Publish hands one event to the runtime for durability and fan-out.
	Publish func(ev event.Event)

	// Scheduler runs a single session's phase graph.
	Scheduler struct {
		exec    *executor.Executor
		hitl    *hitl.Coordinator
		publish Publish
		budget  int
		logger  telemetry.Logger
		tracer  telemetry.Tracer

		// eventCount tracks how many events this Scheduler has published in
		// the current Run call, so state:checkpoint.Position can name its
		// own log position without needing the Publish callback to report
		// it back. Valid because a session's log has exactly one producer
		// (this Scheduler), matching the kernel's single-threaded
		// per-session scheduling model.
		eventCount int

		// paused is polled at the top of every phase iteration (each phase
		// boundary and each re-run after Until returns false); agent calls
		// inside a running forEach batch are not gated by it.
		paused func() bool
	}

	// Option configures a Scheduler at construction.
	Option func(*Scheduler)

	// Outcome is what Run returns once the workflow reaches a terminal phase,
	// is aborted, or fails.
	Outcome struct {
		State     any
		ExitPhase string
		Completed bool
	}
)

// WithLoopBudget overrides the default per-phase iteration ceiling.
func WithLoopBudget(n int) Option { return func(s *Scheduler) { s.budget = n } }

// WithLogger overrides the Scheduler's logger (default: a no-op).
func WithLogger(l telemetry.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithTracer overrides the Scheduler's tracer (default: a no-op).
func WithTracer(t telemetry.Tracer) Option { return func(s *Scheduler) { s.tracer = t } }

// WithPauseCheck installs a predicate polled at the top of every phase
// iteration; the scheduler blocks (respecting ctx) while it returns true.
// Agent calls inside a running forEach batch are not gated by it.
func WithPauseCheck(f func() bool) Option { return func(s *Scheduler) { s.paused = f } }

// New constructs a Scheduler that runs agents through exec, raises HITL
// requests through coordinator, and hands every produced event to publish.
func New(exec *executor.Executor, coordinator *hitl.Coordinator, publish Publish, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:    exec,
		hitl:    coordinator,
		publish: publish,
		budget:  defaultLoopBudget,
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
		paused:  func() bool { return false },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks a Definition's structural invariants: a non-empty phase
// set containing at least one terminal phase, and a resolvable start phase.
func Validate(wf Definition) error {
	if len(wf.Phases) == 0 {
		return fmt.Errorf("%w: %s: no phases declared", workflowerr.ErrWorkflowMisconfigured, wf.Name)
	}
	hasTerminal := false
	for _, p := range wf.Phases {
		if p.Kind == KindTerminal {
			hasTerminal = true
			break
		}
	}
	if !hasTerminal {
		return fmt.Errorf("%w: %s: no terminal phase declared", workflowerr.ErrWorkflowMisconfigured, wf.Name)
	}
	start := startPhaseName(wf)
	if _, ok := wf.Phases[start]; !ok {
		return fmt.Errorf("%w: %s: start phase %q not declared", workflowerr.ErrWorkflowMisconfigured, wf.Name, start)
	}
	return nil
}

func startPhaseName(wf Definition) string {
	if wf.StartPhase != "" {
		return wf.StartPhase
	}
	if len(wf.Phases) == 1 {
		for name := range wf.Phases {
			return name
		}
	}
	return ""
}

// Run drives wf to completion from state (wf.InitialState when state is nil
// and resuming is false), entering startPhase (or wf's resolved start phase
// when startPhase is empty). When resuming is true the
// start mutator is skipped entirely — the caller has already derived state
// from a checkpoint — matching the distilled spec's resume contract.
func (s *Scheduler) Run(ctx context.Context, wf Definition, input, state any, startPhase string, resuming bool) (Outcome, error) {
	if err := Validate(wf); err != nil {
		return Outcome{}, err
	}

	phase := startPhase
	if phase == "" {
		phase = startPhaseName(wf)
	}

	if !resuming {
		if state == nil {
			state = wf.InitialState
		}
		newState, forward, inverse, err := patch.Update(state, func(d *patch.Draft) error {
			if wf.Start == nil {
				return nil
			}
			return wf.Start(input, d)
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("scheduler: start: %w", err)
		}
		state = newState
		s.emitIntent(state, forward, inverse)
	}
	s.emitPhaseEntered(phase, "")

	iterations := make(map[string]int)
	fromPhase := ""

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{State: state, Completed: false}, fmt.Errorf("%w: %s", workflowerr.ErrAborted, err)
		}
		s.waitWhilePaused(ctx)

		def, ok := wf.Phases[phase]
		if !ok {
			return Outcome{State: state}, fmt.Errorf("%w: unknown phase %q", workflowerr.ErrWorkflowMisconfigured, phase)
		}

		iterations[phase]++
		if iterations[phase] > s.budget {
			return Outcome{State: state}, fmt.Errorf("%w: phase %q", workflowerr.ErrPhaseLoopBudget, phase)
		}

		switch def.Kind {
		case KindTerminal:
			s.pub(event.New(event.PhaseExited, event.PayloadPhaseExited{Phase: phase, Reason: event.PhaseExitTerminal}))
			return Outcome{State: state, ExitPhase: phase, Completed: true}, nil

		case KindAgent:
			newState, output, err := s.runAgentPhase(ctx, def, phase, state)
			if err != nil {
				return Outcome{State: state}, err
			}
			state = newState
			if def.Until != nil && !def.Until(state, []any{output}) {
				continue
			}

		case KindForEach:
			newState, outputs, err := s.runForEachPhase(ctx, def, phase, state)
			if err != nil {
				return Outcome{State: state}, err
			}
			state = newState
			if def.Until != nil && !def.Until(state, outputs) {
				continue
			}

		case KindHuman:
			newState, err := s.runHumanPhase(ctx, def, state)
			if err != nil {
				return Outcome{State: state}, err
			}
			state = newState

		default:
			return Outcome{State: state}, fmt.Errorf("%w: phase %q has unknown kind %q", workflowerr.ErrWorkflowMisconfigured, phase, def.Kind)
		}

		next, err := resolveNext(def.Next, state)
		if err != nil {
			return Outcome{State: state}, err
		}
		if _, ok := wf.Phases[next]; !ok {
			return Outcome{State: state}, fmt.Errorf("%w: phase %q names unknown next phase %q", workflowerr.ErrWorkflowMisconfigured, phase, next)
		}

		s.pub(event.New(event.PhaseExited, event.PayloadPhaseExited{Phase: phase, Reason: event.PhaseExitNext}))
		s.emitCheckpoint(state, phase)
		fromPhase = phase
		phase = next
		s.emitPhaseEntered(phase, fromPhase)
	}
}

func (s *Scheduler) runAgentPhase(ctx context.Context, def Phase, phase string, state any) (any, any, error) {
	result, err := s.exec.Run(ctx, *def.Agent, state, nil, phase)
	for _, ev := range result.Events {
		s.pub(ev)
	}
	if err != nil {
		return state, nil, err
	}
	newState, forward, inverse, err := patch.Update(state, func(d *patch.Draft) error {
		if def.Agent.UpdateFn == nil {
			return nil
		}
		return def.Agent.UpdateFn(result.Output, d, nil)
	})
	if err != nil {
		return state, nil, fmt.Errorf("scheduler: update state: %w", err)
	}
	s.emitIntent(newState, forward, inverse)
	return newState, result.Output, nil
}

func (s *Scheduler) runForEachPhase(ctx context.Context, def Phase, phase string, state any) (any, []any, error) {
	contexts := def.ForEach(state)
	parallel := def.Parallel
	if parallel < 1 {
		parallel = 1
	}

	type outcome struct {
		index  int
		output any
		events []event.Event
		err    error
	}

	results := make([]outcome, len(contexts))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	for i, c := range contexts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, callCtx any) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := s.exec.Run(ctx, *def.Agent, state, callCtx, phase)
			results[i] = outcome{index: i, output: r.Output, events: r.Events, err: err}
		}(i, c)
	}
	wg.Wait()

	outputs := make([]any, 0, len(contexts))
	for _, r := range results {
		for _, ev := range r.events {
			s.pub(ev)
		}
	}
	for _, r := range results {
		if r.err != nil {
			return state, nil, r.err
		}
	}

	newState := state
	var forward, inverse []patch.Patch
	for i, r := range results {
		ns, fwd, inv, err := patch.Update(newState, func(d *patch.Draft) error {
			if def.Agent.UpdateFn == nil {
				return nil
			}
			return def.Agent.UpdateFn(r.output, d, contexts[i])
		})
		if err != nil {
			return state, nil, fmt.Errorf("scheduler: update state: %w", err)
		}
		newState = ns
		forward = append(forward, fwd...)
		// Each item's inverse undoes only that item's own mutation; to undo
		// the whole fan-out, later items' inverses must be applied before
		// earlier ones', so prepend rather than append.
		inverse = append(append([]patch.Patch{}, inv...), inverse...)
		outputs = append(outputs, r.output)
	}
	s.emitIntent(newState, forward, inverse)
	return newState, outputs, nil
}

func (s *Scheduler) runHumanPhase(ctx context.Context, def Phase, state any) (any, error) {
	prompt := ""
	if def.Prompt != nil {
		prompt = def.Prompt(state)
	}
	var options []string
	if def.Options != nil {
		options = def.Options(state)
	}
	id := s.hitl.Request(def.InteractionKind, prompt, options, nil)

	resp, err := s.hitl.Await(ctx, id)
	if err != nil {
		return state, fmt.Errorf("%w: %s", workflowerr.ErrAborted, err)
	}

	newState, forward, inverse, err := patch.Update(state, func(d *patch.Draft) error {
		if def.OnResponse == nil {
			return nil
		}
		return def.OnResponse(resp, d)
	})
	if err != nil {
		return state, fmt.Errorf("scheduler: update state: %w", err)
	}
	s.emitIntent(newState, forward, inverse)
	return newState, nil
}

// resolveNext evaluates a Phase.Next, which is either a literal string or a
// func(state any) string.
func resolveNext(next any, state any) (string, error) {
	switch n := next.(type) {
	case string:
		return n, nil
	case func(any) string:
		return n(state), nil
	case nil:
		return "", fmt.Errorf("%w: phase has no next", workflowerr.ErrWorkflowMisconfigured)
	default:
		return "", fmt.Errorf("%w: next has unsupported type %T", workflowerr.ErrWorkflowMisconfigured, next)
	}
}

// pub publishes ev and advances the Scheduler's own event counter, which
// backs state:checkpoint.Position.
func (s *Scheduler) pub(ev event.Event) {
	s.publish(ev)
	s.eventCount++
}

func (s *Scheduler) emitPhaseEntered(phase, fromPhase string) {
	s.pub(event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: phase, FromPhase: fromPhase}))
}

// emitIntent publishes a state:intent event carrying the forward and inverse
// patch lists produced by the mutation that reached state, so replay's fast
// path can re-derive state by applying forward instead of always falling
// back to adopting the full state snapshot, and replay.RewindTo can step an
// execution backward by applying inverse in reverse order.
func (s *Scheduler) emitIntent(state any, forward, inverse []patch.Patch) {
	s.pub(event.New(event.StateIntent, event.PayloadStateIntent{
		IntentID:       ids.NewIntentID(),
		State:          state,
		Patches:        forward,
		InversePatches: inverse,
	}))
}

func (s *Scheduler) emitCheckpoint(state any, phase string) {
	s.pub(event.New(event.StateCheckpoint, event.PayloadStateCheckpoint{State: state, Phase: phase, Position: s.eventCount}))
}

// waitWhilePaused blocks while the Scheduler's pause predicate reports true,
// polling at a short interval, until ctx is canceled. Matches the distilled
// spec's recommendation to finish any in-flight work and suspend at the next
// phase boundary rather than abandoning it mid-call.
func (s *Scheduler) waitWhilePaused(ctx context.Context) {
	if s.paused == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.paused() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
