package eventhub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/eventhub"
)

func TestLateSubscriberDoesNotSeePastEvents(t *testing.T) {
	hub := eventhub.New()
	hub.Publish(event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "review"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx)

	hub.Publish(event.New(event.PhaseEntered, event.PayloadPhaseEntered{Phase: "finalize"}))

	select {
	case ev := <-ch:
		payload := ev.Payload.(event.PayloadPhaseEntered)
		assert.Equal(t, "finalize", payload.Phase)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the post-subscription event")
	}

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra event: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderingPerSubscriberMatchesPublicationOrder(t *testing.T) {
	hub := eventhub.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx)

	for i := 0; i < 10; i++ {
		hub.Publish(event.New(event.TextDelta, event.PayloadTextDelta{Delta: string(rune('a' + i))}))
	}

	for i := 0; i < 10; i++ {
		ev := <-ch
		assert.Equal(t, string(rune('a'+i)), ev.Payload.(event.PayloadTextDelta).Delta)
	}
}

func TestMultipleSubscribersReceiveBroadcast(t *testing.T) {
	hub := eventhub.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)

	hub.Publish(event.New(event.WorkflowCompleted, event.PayloadWorkflowCompleted{}))

	require.Equal(t, event.WorkflowCompleted, (<-a).Name)
	require.Equal(t, event.WorkflowCompleted, (<-b).Name)
}

func TestSubscriptionCanceledOnScopeExit(t *testing.T) {
	hub := eventhub.New()
	ctx, cancel := context.WithCancel(context.Background())
	_ = hub.Subscribe(ctx)
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, time.Second, time.Millisecond)
}

func TestLaggingSubscriberDropsOldestAndRecordsLag(t *testing.T) {
	hub := eventhub.NewWithBuffer(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		hub.Publish(event.New(event.TextDelta, event.PayloadTextDelta{Delta: string(rune('a' + i))}))
	}

	var sawLag bool
	for i := 0; i < 2; i++ {
		ev := <-ch
		if ev.Name == event.SubscriberLagged {
			sawLag = true
		}
	}
	assert.True(t, sawLag, "expected a SubscriberLagged event once the buffer overflowed")
}
