package recorder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/provider"
	"goa.design/flowkernel/recorder"
	"goa.design/flowkernel/recorder/filetree"
	"goa.design/flowkernel/recorder/memory"
)

func stores(t *testing.T) map[string]recorder.Store {
	t.Helper()
	ft, err := filetree.Open(t.TempDir())
	require.NoError(t, err)
	return map[string]recorder.Store{
		"memory":   memory.New(),
		"filetree": ft,
	}
}

func TestRecordThenPlaybackIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := recorder.New(store)

			fp := "sha256:" + name
			id := rec.StartRecording(fp)
			require.NoError(t, rec.AppendEvent(id, provider.StreamEvent{Kind: provider.KindTextDelta, Delta: "All "}))
			require.NoError(t, rec.AppendEvent(id, provider.StreamEvent{Kind: provider.KindTextDelta, Delta: "done!"}))
			require.NoError(t, rec.FinalizeRecording(ctx, id, provider.Result{Output: map[string]any{"ok": true}, Text: "All done!", StopReason: "end_turn"}))

			first, err := rec.Load(ctx, fp)
			require.NoError(t, err)
			require.NotNil(t, first)

			second, err := rec.Load(ctx, fp)
			require.NoError(t, err)
			require.NotNil(t, second)

			assert.Equal(t, first.Events, second.Events)
			assert.Equal(t, first.Output, second.Output)
			assert.Equal(t, first.Text, second.Text)
		})
	}
}

func TestLoadMissReturnsNilEntry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := recorder.New(store)
			entry, err := rec.Load(context.Background(), "sha256:does-not-exist")
			require.NoError(t, err)
			assert.Nil(t, entry)
		})
	}
}

func TestListAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := recorder.New(store)
			fp := "sha256:" + name + "-list"
			id := rec.StartRecording(fp)
			require.NoError(t, rec.FinalizeRecording(ctx, id, provider.Result{Text: "hi"}))

			list, err := rec.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, list, fp)

			require.NoError(t, rec.Delete(ctx, fp))
			entry, err := rec.Load(ctx, fp)
			require.NoError(t, err)
			assert.Nil(t, entry)
		})
	}
}
