package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/executor"
	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/provider/fake"
	"goa.design/flowkernel/recorder"
	"goa.design/flowkernel/recorder/memory"
	"goa.design/flowkernel/schema"
	"goa.design/flowkernel/workflowerr"
)

type passthroughSchema struct{}

func (passthroughSchema) Parse(value any) (any, error) { return value, nil }
func (passthroughSchema) Structure() any                { return map[string]any{"type": "object"} }

type failingSchema struct{}

func (failingSchema) Parse(any) (any, error) { return nil, errors.New("always invalid") }
func (failingSchema) Structure() any         { return map[string]any{"type": "object"} }

func definition(p provider.Provider, s schema.Schema) executor.Definition {
	return executor.Definition{
		Name:         "reviewer",
		Provider:     p,
		PromptFn:     func(state, ctx any) any { return map[string]any{"state": state} },
		OutputSchema: s,
	}
}

func TestRunEmitsAgentStartedAndCompleted(t *testing.T) {
	p := fake.New("reviewer-model", func(req provider.Request) (provider.Result, error) {
		return provider.Result{Output: map[string]any{"score": 9}, Text: "ok", StopReason: "end_turn"}, nil
	})
	ex := executor.New(recorder.New(memory.New()), executor.ModeLive)

	result, err := ex.Run(context.Background(), definition(p, passthroughSchema{}), nil, nil, "review")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 9}, result.Output)

	var names []event.Name
	for _, ev := range result.Events {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, event.AgentStarted)
	assert.Contains(t, names, event.AgentCompleted)
	assert.Contains(t, names, event.TextDelta)
}

func TestRunInvalidOutputEmitsAgentFailed(t *testing.T) {
	p := fake.New("reviewer-model", func(req provider.Request) (provider.Result, error) {
		return provider.Result{Output: map[string]any{"score": 9}, Text: "ok"}, nil
	})
	ex := executor.New(recorder.New(memory.New()), executor.ModeLive)

	result, err := ex.Run(context.Background(), definition(p, failingSchema{}), nil, nil, "review")
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflowerr.ErrOutputInvalid))

	var names []event.Name
	for _, ev := range result.Events {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, event.AgentFailed)
}

func TestRunPlaybackMissIsFatal(t *testing.T) {
	p := fake.New("reviewer-model", func(req provider.Request) (provider.Result, error) {
		return provider.Result{Output: map[string]any{"score": 9}}, nil
	})
	ex := executor.New(recorder.New(memory.New()), executor.ModePlayback)

	_, err := ex.Run(context.Background(), definition(p, passthroughSchema{}), nil, nil, "review")
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflowerr.ErrRecordingNotFound))
}

func TestRunPlaybackHitMatchesLiveRecording(t *testing.T) {
	calls := 0
	p := fake.New("reviewer-model", func(req provider.Request) (provider.Result, error) {
		calls++
		return provider.Result{Output: map[string]any{"score": 7}, Text: "hi"}, nil
	})
	store := memory.New()
	rec := recorder.New(store)

	live := executor.New(rec, executor.ModeLive)
	def := definition(p, passthroughSchema{})
	first, err := live.Run(context.Background(), def, nil, nil, "review")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	playback := executor.New(rec, executor.ModePlayback)
	second, err := playback.Run(context.Background(), def, nil, nil, "review")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "playback must not call the provider")
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, first.Text, second.Text)
}

func TestStateDecodedFromJSONKeepsValuesRegardlessOfKeyOrder(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 1.0, decoded["a"])
}
