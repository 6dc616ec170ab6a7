// Package executor drives a single agent invocation: build the prompt,
// consult the recorder cache, stream the provider (or replay a cached
// recording), translate raw provider events into kernel events, and parse the
// terminal output against the agent's schema. It never touches state directly
// — that is the scheduler's job, via the patch engine and the agent's
// UpdateFn — the executor only reports what happened.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/fingerprint"
	"goa.design/flowkernel/patch"
	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/recorder"
	"goa.design/flowkernel/schema"
	"goa.design/flowkernel/telemetry"
	"goa.design/flowkernel/workflowerr"
)

// Mode selects whether the executor may call the live provider on a
// recorder-cache miss.
type Mode string

const (
	// ModeLive calls the provider on every cache miss and tees the response
	// through the recorder for future playback.
	ModeLive Mode = "live"
	// ModePlayback never calls the provider; a cache miss is fatal
	// (workflowerr.ErrRecordingNotFound).
	ModePlayback Mode = "playback"
)

type (
	// Definition is an immutable agent record: a named provider binding, its
	// prompt function, and the schema its output must satisfy. Definitions
	// own their provider instance directly; there is no runtime registry
	// lookup.
	Definition struct {
		// Name identifies the agent in emitted events (agent:started.agent,
		// etc).
		Name string
		// Provider is the model binding this agent calls.
		Provider provider.Provider
		// PromptFn builds the provider prompt from the current state and an
		// optional per-call context value (e.g. a forEach iteration's item).
		PromptFn func(state any, ctx any) any
		// OutputSchema parses and validates the terminal provider output.
		OutputSchema schema.Schema
		// UpdateFn folds a parsed output into workflow state. The scheduler
		// invokes it inside a patch.Update call once the executor reports a
		// successful Result, so state mutation and patch recording stay in
		// one place regardless of which phase kind ran the agent.
		UpdateFn func(output any, draft *patch.Draft, callCtx any) error
		// Options carries provider-specific knobs folded into the
		// fingerprint (temperature, max tokens, ...).
		Options any
		// Tools lists the tool definitions available to the model, folded
		// into the fingerprint.
		Tools any
	}

	// Result is what the executor reports back to the scheduler after one
	// agent invocation completes.
	Result struct {
		Output     any
		Text       string
		DurationMs int64
		Events     []event.Event
	}

	// Executor runs agent definitions against the recorder cache, in either
	// live or playback Mode.
	Executor struct {
		recorder *recorder.Recorder
		mode     Mode
		limiter  *rate.Limiter
		logger   telemetry.Logger
		tracer   telemetry.Tracer
		metrics  telemetry.Metrics
	}

	// Option configures an Executor at construction.
	Option func(*Executor)
)

const (
	retryBaseDelay  = 250 * time.Millisecond
	retryFactor     = 2
	retryMaxAttempt = 3
)

// WithLogger overrides the Executor's logger (default: a no-op).
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithTracer overrides the Executor's tracer (default: a no-op).
func WithTracer(t telemetry.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// WithMetrics overrides the Executor's metrics sink (default: a no-op).
func WithMetrics(m telemetry.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithLimiter sets the shared rate limiter gating provider retries. Agents of
// one runtime should share a limiter so a flapping provider does not spin the
// whole scheduler.
func WithLimiter(l *rate.Limiter) Option { return func(e *Executor) { e.limiter = l } }

// New constructs an Executor backed by rec, running in mode.
func New(rec *recorder.Recorder, mode Mode, opts ...Option) *Executor {
	e := &Executor{
		recorder: rec,
		mode:     mode,
		limiter:  rate.NewLimiter(rate.Every(retryBaseDelay), retryMaxAttempt),
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes one agent invocation: compute prompt and fingerprint, consult
// the recorder, stream (or replay) the provider, and parse the terminal
// output. phase is carried into the emitted agent:started payload for
// observability only.
func (e *Executor) Run(ctx context.Context, def Definition, state, callCtx any, phase string) (Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "executor.run")
	defer span.End()

	prompt := def.PromptFn(state, callCtx)
	fp, err := fingerprint.Hash(fingerprint.Request{
		Prompt:          prompt,
		ProviderOptions: providerOptions(def),
		Tools:           def.Tools,
		OutputSchema:    schemaStructure(def.OutputSchema),
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: fingerprint: %w", err)
	}

	var events []event.Event
	events = append(events, event.New(event.AgentStarted, event.PayloadAgentStarted{
		Agent: def.Name, Phase: phase, Context: callCtx,
	}))

	streamEvents, result, err := e.obtain(ctx, def, prompt, fp)
	if err != nil {
		events = append(events, event.New(event.AgentFailed, event.PayloadAgentFailed{
			Agent: def.Name, Error: err.Error(),
		}))
		span.RecordError(err)
		return Result{Events: events}, err
	}

	for _, se := range streamEvents {
		if mapped, ok := mapStreamEvent(def.Name, se); ok {
			events = append(events, mapped)
		}
	}

	output, err := def.OutputSchema.Parse(result.Output)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s", workflowerr.ErrOutputInvalid, err)
		events = append(events, event.New(event.AgentFailed, event.PayloadAgentFailed{
			Agent: def.Name, Error: wrapped.Error(),
		}))
		span.RecordError(wrapped)
		return Result{Events: events}, wrapped
	}

	duration := time.Since(start).Milliseconds()
	events = append(events, event.New(event.AgentCompleted, event.PayloadAgentCompleted{
		Agent: def.Name, Output: output, DurationMs: duration,
	}))
	e.metrics.RecordTimer("executor.agent.duration", time.Since(start), "agent", def.Name)

	return Result{Output: output, Text: result.Text, DurationMs: duration, Events: events}, nil
}

// obtain returns the raw provider stream events and terminal result for fp,
// either replayed from the recorder cache or freshly streamed (and taped)
// from the live provider, depending on e.mode.
func (e *Executor) obtain(ctx context.Context, def Definition, prompt any, fp string) ([]provider.StreamEvent, provider.Result, error) {
	entry, err := e.recorder.Load(ctx, fp)
	if err != nil {
		return nil, provider.Result{}, err
	}
	if entry != nil {
		return entry.Events, provider.Result{Output: entry.Output, Text: entry.Text, StopReason: entry.StopReason}, nil
	}
	if e.mode == ModePlayback {
		return nil, provider.Result{}, fmt.Errorf("%w: %s", workflowerr.ErrRecordingNotFound, fp)
	}
	return e.streamLive(ctx, def, prompt, fp)
}

// streamLive calls the provider with retry on ErrProviderUnavailable, taping
// the stream through the recorder as it arrives.
func (e *Executor) streamLive(ctx context.Context, def Definition, prompt any, fp string) ([]provider.StreamEvent, provider.Result, error) {
	var (
		streamed []provider.StreamEvent
		result   provider.Result
		lastErr  error
	)
	for attempt := 0; attempt < retryMaxAttempt; attempt++ {
		if attempt > 0 {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, provider.Result{}, fmt.Errorf("%w: %s", workflowerr.ErrProviderUnavailable, err)
			}
			time.Sleep(backoff(attempt))
		}

		recordingID := e.recorder.StartRecording(fp)
		streamed = streamed[:0]
		iter, err := def.Provider.Stream(ctx, provider.Request{
			Prompt: prompt, Options: providerOptions(def), Tools: def.Tools, OutputSchema: schemaStructure(def.OutputSchema),
		})
		if err != nil {
			lastErr = fmt.Errorf("%w: %s", workflowerr.ErrProviderUnavailable, err)
			continue
		}

		var streamErr error
		for {
			se, ok, err := iter.Next(ctx)
			if err != nil {
				streamErr = fmt.Errorf("%w: %s", workflowerr.ErrProviderUnavailable, err)
				break
			}
			if !ok {
				break
			}
			streamed = append(streamed, se)
			_ = e.recorder.AppendEvent(recordingID, se)
			if se.Kind == provider.KindResult && se.Result != nil {
				result = *se.Result
			}
		}
		if streamErr != nil {
			lastErr = streamErr
			continue
		}

		if err := e.recorder.FinalizeRecording(ctx, recordingID, result); err != nil {
			return nil, provider.Result{}, fmt.Errorf("executor: finalize recording: %w", err)
		}
		return streamed, result, nil
	}
	return nil, provider.Result{}, lastErr
}

// mapStreamEvent translates one raw provider.StreamEvent into at most one
// kernel event. Result, TextComplete, ThinkingComplete, Stop, Usage, and
// SessionInit carry no corresponding kernel event.
func mapStreamEvent(agent string, se provider.StreamEvent) (event.Event, bool) {
	switch se.Kind {
	case provider.KindTextDelta:
		return event.New(event.TextDelta, event.PayloadTextDelta{AgentName: agent, Delta: se.Delta}), true
	case provider.KindThinkingDelta:
		return event.New(event.ThinkingDelta, event.PayloadThinkingDelta{AgentName: agent, Delta: se.Delta}), true
	case provider.KindToolCall:
		return event.New(event.ToolCalled, event.PayloadToolCalled{
			AgentName: agent, ToolID: se.ToolID, ToolName: se.ToolName, Input: se.Input,
		}), true
	case provider.KindToolResult:
		return event.New(event.ToolResult, event.PayloadToolResult{
			AgentName: agent, ToolID: se.ToolID, Output: se.Output, IsError: se.IsError,
		}), true
	default:
		return event.Event{}, false
	}
}

func providerOptions(def Definition) any {
	return map[string]any{"model": def.Provider.Model(), "options": def.Options}
}

func schemaStructure(s schema.Schema) any {
	if s == nil {
		return nil
	}
	return s.Structure()
}

// backoff computes the delay before retry attempt n (1-indexed), exponential
// from retryBaseDelay with full jitter.
func backoff(attempt int) time.Duration {
	maxDelay := retryBaseDelay * time.Duration(pow(retryFactor, attempt))
	return time.Duration(rand.Int63n(int64(maxDelay) + 1))
}

func pow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
