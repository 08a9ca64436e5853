// Package hub fans out parsed channel events to independent consumers.
// Each subscriber owns a bounded queue; overflow sheds the subscriber so
// one slow consumer can never stall delivery to the others.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"marketwire/pkg/core"
)

// Filter selects which events a subscriber receives. A nil filter
// receives everything.
type Filter func(core.Event) bool

// KindFilter returns a filter matching any of the given event kinds.
func KindFilter(kinds ...core.EventKind) Filter {
	set := make(map[core.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev core.Event) bool {
		_, ok := set[ev.Kind()]
		return ok
	}
}

// Subscriber is a consumer's handle into the hub. Events arrive on C in
// hub delivery order; a single terminal error (slow consumer, hub close)
// arrives on Err.
type Subscriber struct {
	id     int
	filter Filter
	events chan core.Event
	errCh  chan error
	closed bool
}

// C returns the subscriber's event queue. The channel is closed once the
// subscriber is detached; queued events remain readable until drained.
func (s *Subscriber) C() <-chan core.Event {
	return s.events
}

// Err returns the subscriber's error channel. At most one error is ever
// delivered: core.ErrSlowConsumer if the subscriber was shed for a full
// queue, or the hub close cause.
func (s *Subscriber) Err() <-chan error {
	return s.errCh
}

// Hub delivers every published event to all matching subscribers in the
// order received.
type Hub struct {
	mu         sync.RWMutex
	subs       map[int]*Subscriber
	nextID     int
	bufferSize int
	closed     bool
	logger     zerolog.Logger
}

// New creates a hub whose subscribers buffer up to bufferSize events.
func New(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Hub{
		subs:       make(map[int]*Subscriber),
		bufferSize: bufferSize,
		logger:     zerolog.Nop(),
	}
}

// SetLogger configures the logger for the hub.
func (h *Hub) SetLogger(logger zerolog.Logger) {
	h.logger = logger
}

// Subscribe registers a consumer with the given filter and returns its
// handle. A nil filter receives every event.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		id:     h.nextID,
		filter: filter,
		events: make(chan core.Event, h.bufferSize),
		errCh:  make(chan error, 1),
	}
	h.nextID++

	if h.closed {
		sub.closed = true
		close(sub.events)
		sub.errCh <- core.ErrClientClosed
		close(sub.errCh)
		return sub
	}

	h.subs[sub.id] = sub
	h.logger.Debug().Int("subscriber", sub.id).Msg("subscriber registered")
	return sub
}

// Unsubscribe detaches the subscriber from further delivery. Already
// queued events remain readable until drained.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(sub, nil)
}

// Publish fans the event out to every matching subscriber. A subscriber
// whose queue is full is dropped with core.ErrSlowConsumer; delivery to
// the remaining subscribers is never delayed.
func (h *Hub) Publish(ev core.Event) {
	h.mu.RLock()
	var overflowed []*Subscriber
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	if len(overflowed) == 0 {
		return
	}

	h.mu.Lock()
	for _, sub := range overflowed {
		h.logger.Warn().Int("subscriber", sub.id).Msg("queue full, dropping slow consumer")
		h.detach(sub, core.ErrSlowConsumer)
	}
	h.mu.Unlock()
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber, reporting cause on each error channel.
// Queued events are not discarded: subscribers drain, then observe the
// closed event channel.
func (h *Hub) Close(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, sub := range h.subs {
		h.detach(sub, cause)
	}
}

// detach removes the subscriber and closes its channels. Callers hold h.mu.
func (h *Hub) detach(sub *Subscriber, cause error) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub.id)

	close(sub.events)
	if cause != nil {
		sub.errCh <- cause
	}
	close(sub.errCh)
}
