package main

import (
	"context"
	"fmt"

	"goa.design/flowkernel/dispatch"
	"goa.design/flowkernel/eventhub"
	"goa.design/flowkernel/eventstore/memory"
	"goa.design/flowkernel/executor"
	"goa.design/flowkernel/patch"
	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/provider/fake"
	"goa.design/flowkernel/recorder"
	recmem "goa.design/flowkernel/recorder/memory"
	"goa.design/flowkernel/runtime"
	"goa.design/flowkernel/scheduler"
)

type printingObserver struct {
	dispatch.BaseObserver
}

func (printingObserver) OnPhaseChanged(phase, fromPhase string) {
	fmt.Printf("phase: %s -> %s\n", fromPhase, phase)
}

func (printingObserver) OnAgentStarted(agent, phase string) {
	fmt.Printf("agent started: %s (phase %s)\n", agent, phase)
}

func (printingObserver) OnAgentCompleted(agent string, output any, durationMs int64) {
	fmt.Printf("agent completed: %s -> %v (%dms)\n", agent, output, durationMs)
}

func (printingObserver) OnTextDelta(agent, delta string) {
	fmt.Print(delta)
}

func (printingObserver) OnCompleted(finalState any, exitPhase string, durationMs int64) {
	fmt.Printf("\nworkflow completed at %q in %dms, final state: %v\n", exitPhase, durationMs, finalState)
}

func (printingObserver) OnError(err error) {
	fmt.Printf("workflow error: %s\n", err)
}

type passthroughSchema struct{}

func (passthroughSchema) Parse(value any) (any, error) { return value, nil }
func (passthroughSchema) Structure() any                { return map[string]any{"type": "object"} }

// demoWorkflow is a two-phase review -> finalize -> done workflow run against
// an in-memory fake provider, used by "workflowctl run" to exercise the full
// stack without network access.
func demoWorkflow() scheduler.Definition {
	reviewer := fake.New("demo-reviewer", func(req provider.Request) (provider.Result, error) {
		return provider.Result{
			Output: map[string]any{"score": 8.0, "notes": "solid draft, tighten the intro"},
			Text:   "Reviewing draft...",
		}, nil
	})
	finalizer := fake.New("demo-finalizer", func(req provider.Request) (provider.Result, error) {
		return provider.Result{
			Output: map[string]any{"finalText": "Final approved copy."},
			Text:   "Finalizing...",
		}, nil
	})

	return scheduler.Definition{
		Name:       "demo-review",
		StartPhase: "review",
		Start: func(input any, draft *patch.Draft) error {
			draft.Set("draft text goes here", "draftText")
			return nil
		},
		Phases: map[string]scheduler.Phase{
			"review": {
				Kind: scheduler.KindAgent,
				Agent: &executor.Definition{
					Name:         "reviewer",
					Provider:     reviewer,
					PromptFn:     func(state, ctx any) any { return state },
					OutputSchema: passthroughSchema{},
					UpdateFn: func(output any, draft *patch.Draft, callCtx any) error {
						out := output.(map[string]any)
						draft.Set(out["score"], "score")
						draft.Set(out["notes"], "notes")
						return nil
					},
				},
				Until: func(any, []any) bool { return true },
				Next:  "finalize",
			},
			"finalize": {
				Kind: scheduler.KindAgent,
				Agent: &executor.Definition{
					Name:         "finalizer",
					Provider:     finalizer,
					PromptFn:     func(state, ctx any) any { return state },
					OutputSchema: passthroughSchema{},
					UpdateFn: func(output any, draft *patch.Draft, callCtx any) error {
						out := output.(map[string]any)
						draft.Set(out["finalText"], "finalText")
						return nil
					},
				},
				Until: func(any, []any) bool { return true },
				Next:  "done",
			},
			"done": {Kind: scheduler.KindTerminal},
		},
	}
}

func runDemo(ctx context.Context) error {
	rt, err := runtime.New(runtime.Config{
		Store:    memory.New(),
		Hub:      eventhub.New(),
		Recorder: recorder.New(recmem.New()),
		Mode:     executor.ModeLive,
	})
	if err != nil {
		return err
	}

	h, err := rt.Start(ctx, demoWorkflow(), nil, printingObserver{})
	if err != nil {
		return err
	}

	fmt.Println("session:", string(h.SessionID()))
	outcome := <-h.Result()
	if outcome.Err != nil {
		return outcome.Err
	}
	return nil
}
