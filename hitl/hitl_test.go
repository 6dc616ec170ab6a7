package hitl_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/hitl"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.events))
	copy(out, p.events)
	return out
}

func approved(v bool) *bool { return &v }

func TestRequestThenRespondThenAwait(t *testing.T) {
	pub := &recordingPublisher{}
	coord := hitl.New(pub)

	id := coord.Request(event.KindApproval, "approve?", nil, nil)

	done := make(chan hitl.Response, 1)
	go func() {
		resp, err := coord.Await(context.Background(), id)
		require.NoError(t, err)
		done <- resp
	}()

	coord.Respond(id, "approve", approved(true))

	select {
	case resp := <-done:
		assert.Equal(t, "approve", resp.Value)
		require.NotNil(t, resp.Approved)
		assert.True(t, *resp.Approved)
	case <-time.After(time.Second):
		t.Fatal("Await never returned")
	}
}

func TestRespondBeforeAwaitIsBuffered(t *testing.T) {
	pub := &recordingPublisher{}
	coord := hitl.New(pub)

	id := coord.Request(event.KindFreeform, "name?", nil, nil)
	coord.Respond(id, "Ada", nil)

	resp, err := coord.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", resp.Value)
}

func TestInputReceivedCausedByMatchesOriginalRequestEvent(t *testing.T) {
	pub := &recordingPublisher{}
	coord := hitl.New(pub)

	id := coord.Request(event.KindApproval, "approve?", nil, nil)
	coord.Respond(id, "approve", approved(true))

	events := pub.all()
	require.Len(t, events, 2)
	require.NotNil(t, events[1].CausedBy)
	assert.Equal(t, events[0].ID, *events[1].CausedBy)
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	pub := &recordingPublisher{}
	coord := hitl.New(pub)
	id := coord.Request(event.KindApproval, "approve?", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := coord.Await(ctx, id)
	assert.Error(t, err)
}

func TestPendingInteractionsFindsUnansweredRequests(t *testing.T) {
	pub := &recordingPublisher{}
	coord := hitl.New(pub)

	answeredID := coord.Request(event.KindApproval, "a?", nil, nil)
	pendingID := coord.Request(event.KindApproval, "b?", nil, nil)
	coord.Respond(answeredID, "yes", approved(true))

	pending := hitl.PendingInteractions(pub.all())
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0])
}
