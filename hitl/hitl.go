// Package hitl implements the human-in-the-loop request/response
// correlation: a Coordinator raises input:requested events, suspends the
// caller on Await, and matches an eventual Respond call by InteractionID
// regardless of which arrives first.
package hitl

import (
	"context"
	"sync"

	"goa.design/flowkernel/event"
	"goa.design/flowkernel/ids"
)

// Response is the value delivered by Respond and returned by Await.
type Response struct {
	InteractionID ids.InteractionID
	Value         any
	Approved      *bool
}

// Publisher is the minimal event sink the Coordinator needs: both the
// EventStore-backed runtime and plain tests can satisfy it.
type Publisher interface {
	Publish(ev event.Event)
}

// Coordinator owns the cooperative input queue for one session. The zero
// value is not usable; construct with New.
type Coordinator struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buffered  map[ids.InteractionID]Response
	requested map[ids.InteractionID]ids.EventID
	publisher Publisher
}

// New constructs a Coordinator that publishes request/response events
// through pub.
func New(pub Publisher) *Coordinator {
	c := &Coordinator{
		buffered:  make(map[ids.InteractionID]Response),
		requested: make(map[ids.InteractionID]ids.EventID),
		publisher: pub,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Request appends an input:requested event and returns the freshly minted
// InteractionID immediately; it does not block on a response.
func (c *Coordinator) Request(kind event.InteractionKind, prompt string, options []string, metadata map[string]any) ids.InteractionID {
	id := ids.NewInteractionID()
	payload := event.PayloadInputRequested{ID: id, Prompt: prompt, Type: kind, Options: options, Metadata: metadata}
	requestEvent := event.New(event.InputRequested, payload)

	c.mu.Lock()
	c.requested[id] = requestEvent.ID
	c.mu.Unlock()

	c.publisher.Publish(requestEvent)
	return id
}

// Respond records a response for interactionID and wakes any Await call
// blocked on it. Responses for an interactionID with no matching request yet
// are held: they may be the intended answer for an upcoming Request.
func (c *Coordinator) Respond(interactionID ids.InteractionID, value any, approved *bool) {
	c.mu.Lock()
	c.buffered[interactionID] = Response{InteractionID: interactionID, Value: value, Approved: approved}
	requestEventID, hadRequest := c.requested[interactionID]
	c.mu.Unlock()
	c.cond.Broadcast()

	payload := event.PayloadInputReceived{ID: interactionID, Value: value, Approved: approved}
	if hadRequest {
		c.publisher.Publish(event.New(event.InputReceived, payload, requestEventID))
		return
	}
	c.publisher.Publish(event.New(event.InputReceived, payload))
}

// Await blocks until a response for interactionID has been recorded (via a
// prior or subsequent Respond call) or ctx is canceled. Responses that
// arrived before Await was called are matched immediately (buffered queue
// semantics).
func (c *Coordinator) Await(ctx context.Context, interactionID ids.InteractionID) (Response, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.cond.Broadcast()
		close(done)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if resp, ok := c.buffered[interactionID]; ok {
			delete(c.buffered, interactionID)
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		c.cond.Wait()
	}
}

// PendingInteractions derives the set of interactionIDs with an
// input:requested and no matching input:received in events, in request
// order. Used by replay to surface interactions a resumed runtime must
// re-raise or wait on.
func PendingInteractions(events []event.Event) []ids.InteractionID {
	requested := make([]ids.InteractionID, 0)
	answered := make(map[ids.InteractionID]bool)

	for _, ev := range events {
		switch ev.Name {
		case event.InputRequested:
			p := ev.Payload.(event.PayloadInputRequested)
			requested = append(requested, p.ID)
		case event.InputReceived:
			p := ev.Payload.(event.PayloadInputReceived)
			answered[p.ID] = true
		}
	}

	pending := make([]ids.InteractionID, 0)
	for _, id := range requested {
		if !answered[id] {
			pending = append(pending, id)
		}
	}
	return pending
}
