// Package bus implements the event hub: a typed in-process publish/subscribe
// channel for venue events, plus an optional NATS bridge that re-publishes
// every tagged event for other services.
package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

// DefaultBuffer is the per-subscriber channel depth used when the caller
// passes a non-positive buffer size.
const DefaultBuffer = 64

// Hub fans venue events out to any number of subscribers. Publishing never
// blocks: a subscriber that cannot keep up has events dropped (and counted)
// rather than stalling the adapter that emitted them.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	log    *logrus.Entry
}

// Subscription is one listener's view of the hub. Receive from C; call
// Unsubscribe when done.
type Subscription struct {
	C chan types.Event

	hub     *Hub
	kinds   map[types.EventKind]struct{} // empty means all kinds
	dropped uint64
	once    sync.Once
}

// New creates an event hub.
func New() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		log:  logrus.WithField("component", "event-hub"),
	}
}

// Subscribe registers a listener. With no kinds given the subscriber receives
// every event; otherwise only the listed kinds. buffer <= 0 selects
// DefaultBuffer.
func (h *Hub) Subscribe(buffer int, kinds ...types.EventKind) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		C:     make(chan types.Event, buffer),
		hub:   h,
		kinds: make(map[types.EventKind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.C)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		_, attached := s.hub.subs[s]
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()

		if attached {
			close(s.C)
		}
	})
}

// Dropped returns how many events were discarded because this subscriber's
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Publish delivers ev to every matching subscriber. A zero Time is stamped
// with the current time. Safe for concurrent use.
func (h *Hub) Publish(ev types.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for sub := range h.subs {
		if len(sub.kinds) > 0 {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.C <- ev:
		default:
			sub.dropped++
			h.log.WithFields(logrus.Fields{
				"kind":  ev.Kind,
				"venue": ev.VenueID,
			}).Warn("subscriber buffer full, event dropped")
		}
	}
}

// Close detaches all subscribers and closes their channels. Publish becomes
// a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.C)
		delete(h.subs, sub)
	}
}
