// Package eventhub implements the in-process publish/subscribe facility that
// fans out live events to observers, replay tooling, and any other
// subscriber. It never persists anything — the EventStore is the durability
// boundary — so late subscribers never see events published before they
// subscribed.
package eventhub

import (
	"context"
	"sync"

	"goa.design/flowkernel/event"
)

// defaultBufferSize bounds each subscriber's channel. A subscriber that falls
// this far behind has its oldest buffered events dropped in favor of the
// newest, and a SubscriberLagged event is delivered into that subscriber's
// channel so the drop is itself observable (non-fatal).
const defaultBufferSize = 256

// Hub is a single session's publish/subscribe broadcaster. The zero value is
// not usable; construct with New.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscription]struct{}
	bufferSize  int
}

type subscription struct {
	ch     chan event.Event
	mu     sync.Mutex
	closed bool
}

// New constructs a Hub with the default per-subscriber buffer size.
func New() *Hub {
	return &Hub{subscribers: make(map[*subscription]struct{}), bufferSize: defaultBufferSize}
}

// NewWithBuffer constructs a Hub with a caller-specified per-subscriber
// buffer size, primarily for tests that want to exercise the lag path with a
// small buffer.
func NewWithBuffer(size int) *Hub {
	if size < 1 {
		size = 1
	}
	return &Hub{subscribers: make(map[*subscription]struct{}), bufferSize: size}
}

// Publish enqueues ev to every current subscriber in publication order. It
// never blocks on a slow subscriber: if a subscriber's buffer is full, the
// oldest buffered events are dropped to make room for a SubscriberLagged
// event (carrying the drop count) followed by ev, both delivered to that
// same subscriber only.
func (h *Hub) Publish(ev event.Event) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

func (s *subscription) deliver(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Buffer full: make room for a lag marker plus this event by dropping the
	// oldest buffered events, then enqueue both.
	dropped := 0
	for len(s.ch) > cap(s.ch)-2 && len(s.ch) > 0 {
		<-s.ch
		dropped++
	}
	lagged := event.New(event.SubscriberLagged, event.PayloadSubscriberLagged{Dropped: dropped})
	select {
	case s.ch <- lagged:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Subscribe returns a channel that receives every event published after this
// call, until ctx is canceled. The channel is closed once ctx is done and no
// further sends occur; callers must keep draining it (or cancel ctx) to avoid
// leaking the subscription.
func (h *Hub) Subscribe(ctx context.Context) <-chan event.Event {
	sub := &subscription{ch: make(chan event.Event, h.bufferSize)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(sub)
	}()

	return sub.ch
}

// unsubscribe removes sub from the hub and closes its channel. It runs when
// the subscription's ctx is done, and is idempotent: calling it again for a
// subscription already removed is safe.
func (h *Hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()
	if !present {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// SubscriberCount returns the number of currently active subscribers, mostly
// useful for tests and diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
