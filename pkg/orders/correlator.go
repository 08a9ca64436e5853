// Package orders pairs outbound order submissions with their asynchronous
// acknowledgement or rejection, keyed by a client-generated correlation id.
// A timed-out order is an unknown outcome, never a confirmed failure: the
// server may still execute it after the timer fires.
package orders

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketwire/internal/ratelimit"
	"marketwire/pkg/codec"
	"marketwire/pkg/core"
)

// Sender transmits encoded envelopes. Sends while the transport is not
// open fail with core.ErrSessionUnavailable; submissions are never buffered.
type Sender interface {
	Send(data []byte) error
}

// PendingOrder tracks one submission from pending to its terminal state.
type PendingOrder struct {
	correlationID string
	request       core.OrderRequest
	submittedAt   time.Time
	result        chan core.OrderResult
}

// CorrelationID returns the client-generated identifier for this order.
func (p *PendingOrder) CorrelationID() string {
	return p.correlationID
}

// Request returns the submitted order request.
func (p *PendingOrder) Request() core.OrderRequest {
	return p.request
}

// SubmittedAt returns when the order was handed to the transport.
func (p *PendingOrder) SubmittedAt() time.Time {
	return p.submittedAt
}

// Result returns the channel carrying the single terminal resolution.
func (p *PendingOrder) Result() <-chan core.OrderResult {
	return p.result
}

// Config holds configuration options for the correlator.
type Config struct {
	// Timeout is how long an order may stay pending before it resolves
	// to timed out.
	Timeout time.Duration
	// RateLimit bounds submissions per RatePeriod. Zero disables limiting.
	RateLimit  int
	RatePeriod time.Duration
}

// Correlator assigns correlation ids, encodes place_order envelopes, and
// resolves pending orders from order_ack/order_reject messages or timeout.
// It holds no cross-session history.
type Correlator struct {
	sender  Sender
	timeout time.Duration
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]*pendingEntry
	closed  bool
}

type pendingEntry struct {
	order *PendingOrder
	timer *time.Timer
}

// New creates a correlator submitting through the given sender.
// A zero timeout defaults to 10s.
func New(sender Sender, config Config) *Correlator {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	c := &Correlator{
		sender:  sender,
		timeout: config.Timeout,
		pending: make(map[string]*pendingEntry),
		logger:  zerolog.Nop(),
	}
	if config.RateLimit > 0 {
		c.limiter = ratelimit.New(config.RateLimit, config.RatePeriod)
	}
	return c
}

// SetLogger configures the logger for the correlator.
func (c *Correlator) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Submit assigns a fresh correlation id, arms the timeout timer, and hands
// the encoded place_order envelope to the transport. A submission while the
// transport is not open fails immediately with core.ErrSessionUnavailable;
// resubmission semantics belong to the caller.
func (c *Correlator) Submit(req core.OrderRequest) (*PendingOrder, error) {
	if req.Pair == "" {
		return nil, fmt.Errorf("pair is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrClientClosed
	}
	c.mu.Unlock()

	if c.limiter != nil && !c.limiter.Allow() {
		return nil, core.ErrRateLimited
	}

	correlationID := fmt.Sprintf("c%d", c.nextID.Add(1))

	data, err := codec.Encode(&codec.PlaceOrder{
		CorrelationID: correlationID,
		Pair:          req.Pair,
		Side:          req.Side,
		Amount:        req.Amount,
		Price:         req.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("encode place_order: %w", err)
	}

	order := &PendingOrder{
		correlationID: correlationID,
		request:       req,
		submittedAt:   time.Now(),
		result:        make(chan core.OrderResult, 1),
	}

	// Register before sending so an acknowledgement racing the send
	// still finds its pending order.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrClientClosed
	}
	c.pending[correlationID] = &pendingEntry{
		order: order,
		timer: time.AfterFunc(c.timeout, func() {
			c.resolve(correlationID, core.OrderResult{
				CorrelationID: correlationID,
				State:         core.OrderTimedOut,
			})
		}),
	}
	c.mu.Unlock()

	if err := c.sender.Send(data); err != nil {
		c.remove(correlationID)
		return nil, err
	}

	c.logger.Debug().
		Str("correlation_id", correlationID).
		Str("pair", req.Pair).
		Str("side", req.Side.String()).
		Msg("order submitted")

	return order, nil
}

// Resolve feeds an inbound acknowledgement or rejection into the
// correlator. Messages bearing an unknown correlation id (late responses,
// responses raced by the timeout) are ignored. Other message types are a
// no-op so the caller can route unconditionally.
func (c *Correlator) Resolve(msg codec.Message) {
	switch m := msg.(type) {
	case *codec.OrderAck:
		c.resolve(m.CorrelationID, core.OrderResult{
			CorrelationID: m.CorrelationID,
			State:         core.OrderAcknowledged,
			OrderID:       m.OrderID,
		})
	case *codec.OrderReject:
		c.resolve(m.CorrelationID, core.OrderResult{
			CorrelationID: m.CorrelationID,
			State:         core.OrderRejected,
			Reason:        m.Reason,
		})
	}
}

// FailAll resolves every pending order to timed out. Called on session
// teardown: the server cannot guarantee delivery across a broken
// transport, so nothing carries over to the next connection.
func (c *Correlator) FailAll() {
	c.mu.Lock()
	entries := make(map[string]*pendingEntry, len(c.pending))
	for id, entry := range c.pending {
		entries[id] = entry
	}
	c.pending = make(map[string]*pendingEntry)
	c.mu.Unlock()

	for id, entry := range entries {
		entry.timer.Stop()
		deliver(entry.order, core.OrderResult{
			CorrelationID: id,
			State:         core.OrderTimedOut,
		})
	}

	if len(entries) > 0 {
		c.logger.Warn().Int("orders", len(entries)).Msg("pending orders timed out on teardown")
	}
}

// PendingCount returns the number of unresolved orders.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails all pending orders and refuses further submissions.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.FailAll()
}

func (c *Correlator) resolve(correlationID string, result core.OrderResult) {
	c.mu.Lock()
	entry, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()

	if !ok {
		// Already resolved: late acknowledgement or timeout race.
		c.logger.Debug().
			Str("correlation_id", correlationID).
			Msg("ignoring resolution for unknown correlation id")
		return
	}

	entry.timer.Stop()
	deliver(entry.order, result)

	c.logger.Debug().
		Str("correlation_id", correlationID).
		Str("state", result.State.String()).
		Msg("order resolved")
}

func (c *Correlator) remove(correlationID string) {
	c.mu.Lock()
	entry, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()

	if ok {
		entry.timer.Stop()
	}
}

func deliver(order *PendingOrder, result core.OrderResult) {
	order.result <- result
	close(order.result)
}
