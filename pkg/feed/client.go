// Package feed is the top-level client for one trading pair's market-data
// and order channel. It owns the transport session, routes every inbound
// frame through the codec on a single goroutine, keeps the local order book
// reconciled, correlates order submissions, and fans events out to
// subscribers through the hub.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketwire/internal/ws"
	"marketwire/pkg/book"
	"marketwire/pkg/codec"
	"marketwire/pkg/core"
	"marketwire/pkg/hub"
	"marketwire/pkg/orders"
	"marketwire/pkg/snapshot"
)

// Client is the channel facade. Construct with New, start with Open, and
// consume events through Subscribe. All methods are safe for concurrent use.
type Client struct {
	config *core.Config
	logger zerolog.Logger

	session    *ws.Session
	reconciler *book.Reconciler
	correlator *orders.Correlator
	events     *hub.Hub
	snapshots  *snapshot.Client

	// reprimeCh hands fetched recovery snapshots to the ingestion
	// goroutine so book updates stay serialized with the frame stream.
	reprimeCh chan *codec.Snapshot
	done      chan struct{}

	wg        sync.WaitGroup
	repriming atomic.Bool
	opened    atomic.Bool
	closed    atomic.Bool
}

// New creates a feed client from the validated configuration.
func New(config *core.Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	session := ws.NewSession(ws.Config{
		PingInterval: config.PingInterval,
		PongWait:     config.PongWait,
		Reconnect:    config.Reconnect,
	})

	c := &Client{
		config:     config,
		logger:     zerolog.Nop(),
		session:    session,
		reconciler: book.NewReconciler(config.Pair),
		events:     hub.New(config.BufferSize),
		reprimeCh:  make(chan *codec.Snapshot, 1),
		done:       make(chan struct{}),
	}

	c.correlator = orders.New(session, orders.Config{
		Timeout:    config.OrderTimeout,
		RateLimit:  config.SubmitRateLimit,
		RatePeriod: config.SubmitRatePeriod,
	})

	return c, nil
}

// SetLogger configures the logger for the client and its components.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.session.SetLogger(logger.With().Str("component", "session").Logger())
	c.reconciler.SetLogger(logger.With().Str("component", "book").Logger())
	c.correlator.SetLogger(logger.With().Str("component", "orders").Logger())
	c.events.SetLogger(logger.With().Str("component", "hub").Logger())
	if c.snapshots != nil {
		c.snapshots.SetLogger(logger.With().Str("component", "snapshot").Logger())
	}
}

// Open authenticates with the bearer token and starts the channel. It is
// asynchronous: connection progress, including dial failures degrading into
// the reconnect policy, is observed through state events. The token is
// supplied by the caller; the client never acquires credentials itself.
func (c *Client) Open(token string) error {
	if c.closed.Load() {
		return core.ErrClientClosed
	}
	if !c.opened.CompareAndSwap(false, true) {
		return errors.New("client already opened")
	}

	if c.config.RestBaseURL != "" {
		cfg := snapshot.DefaultConfig(c.config.RestBaseURL)
		cfg.AuthToken = token
		cfg.BreakerEnabled = c.config.CircuitBreakerEnabled
		if c.config.CircuitBreakerEnabled {
			cfg.BreakerFailThreshold = c.config.CircuitBreakerFailThreshold
			cfg.BreakerSuccessThreshold = c.config.CircuitBreakerSuccessThreshold
			cfg.BreakerTimeout = c.config.CircuitBreakerTimeout
		}
		snapshots, err := snapshot.New(cfg)
		if err != nil {
			c.opened.Store(false)
			return fmt.Errorf("snapshot client: %w", err)
		}
		c.snapshots = snapshots
		c.snapshots.SetLogger(c.logger.With().Str("component", "snapshot").Logger())
	}

	if err := c.session.Open(c.config.Endpoint, token); err != nil {
		c.opened.Store(false)
		return err
	}

	c.wg.Add(1)
	go c.run()

	return nil
}

// Subscribe registers an event consumer. A nil filter receives every event;
// use hub.KindFilter to narrow. A consumer that stops draining its queue is
// shed with core.ErrSlowConsumer on its error channel.
func (c *Client) Subscribe(filter hub.Filter) *hub.Subscriber {
	return c.events.Subscribe(filter)
}

// Unsubscribe detaches a consumer from further delivery.
func (c *Client) Unsubscribe(sub *hub.Subscriber) {
	c.events.Unsubscribe(sub)
}

// SubmitOrder submits an order over the channel and returns its pending
// handle. The terminal outcome, acknowledged, rejected, or timed out,
// arrives on the handle's result channel. Submission while the session is
// not open fails immediately with core.ErrSessionUnavailable.
func (c *Client) SubmitOrder(req core.OrderRequest) (*orders.PendingOrder, error) {
	if c.closed.Load() {
		return nil, core.ErrClientClosed
	}
	return c.correlator.Submit(req)
}

// Book returns an immutable copy of the current order book, or nil before
// the first snapshot.
func (c *Client) Book() *core.OrderBook {
	return c.reconciler.Book()
}

// Status returns the current session status.
func (c *Client) Status() core.SessionStatus {
	return c.session.Status()
}

// Close shuts the channel down. Pending orders resolve as timed out;
// subscribers drain their queues, then observe core.ErrClientClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.session.Close()
	close(c.done)
	c.wg.Wait()

	c.correlator.Close()
	c.events.Close(core.ErrClientClosed)
	if c.snapshots != nil {
		_ = c.snapshots.Close()
	}

	c.logger.Info().Str("pair", c.config.Pair).Msg("feed client closed")
	return err
}

// run is the single ingestion goroutine. Every frame and state change flows
// through here in receipt order, which is what makes sequence-gap detection
// meaningful.
func (c *Client) run() {
	defer c.wg.Done()

	frames := c.session.Frames()
	states := c.session.States()

	for frames != nil || states != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			c.handleFrame(frame)
		case change, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.handleState(change)
		case snap := <-c.reprimeCh:
			c.applyReprime(snap)
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	msg, err := codec.Decode(frame)
	if err != nil {
		// Per-frame fault: report and drop, the channel stays up.
		c.logger.Warn().Err(err).Msg("dropping undecodable frame")
		c.publishFault(err)
		return
	}

	switch m := msg.(type) {
	case *codec.Snapshot:
		view := c.reconciler.ApplySnapshot(m)
		c.events.Publish(core.BookEvent{Book: view})

	case *codec.Delta:
		view, err := c.reconciler.ApplyDelta(m)
		if err != nil {
			c.publishFault(err)
			c.recoverBook()
			return
		}
		if view != nil {
			c.events.Publish(core.BookEvent{Book: view})
		}

	case *codec.TickerUpdate:
		ticker := m.Ticker
		if ticker.Pair == "" {
			ticker.Pair = c.config.Pair
		}
		c.events.Publish(core.TickerEvent{Ticker: &ticker})

	case *codec.TradeExecuted:
		trade := m.Trade
		c.events.Publish(core.TradeEvent{Trade: &trade})

	case *codec.OrderAck, *codec.OrderReject:
		c.correlator.Resolve(msg)

	default:
		c.logger.Warn().Str("type", msg.EnvelopeType()).Msg("no route for message type")
	}
}

func (c *Client) handleState(change ws.StateChange) {
	c.events.Publish(core.StateEvent{
		Status:  change.Status,
		Attempt: change.Attempt,
		Err:     change.Err,
	})

	switch change.Status {
	case core.StatusOpen:
		// Fresh connection, fresh stream: resubscribe and reprime.
		c.subscribePair()
		c.reprime()

	case core.StatusClosed:
		c.reconciler.MarkStale()
		c.correlator.FailAll()
		if errors.Is(change.Err, core.ErrConnectionAbandoned) {
			c.publishFault(change.Err)
		}
	}
}

// subscribePair asks the server for the pair's stream, which replies with a
// fresh snapshot followed by deltas.
func (c *Client) subscribePair() {
	data, err := codec.Encode(&codec.Subscribe{Pair: c.config.Pair})
	if err != nil {
		c.logger.Error().Err(err).Msg("encode subscribe")
		return
	}
	if err := c.session.Send(data); err != nil {
		c.logger.Warn().Err(err).Msg("subscribe send failed")
	}
}

// recoverBook runs after a sequence gap: request a resubscription snapshot
// over the channel and, when configured, race a REST reprime alongside it.
func (c *Client) recoverBook() {
	c.subscribePair()
	c.reprime()
}

// reprime fetches a REST snapshot off the ingestion goroutine, so slow
// fetches never delay frame processing, and hands the result back to it
// for a serialized apply. At most one reprime runs at a time; breaker and
// rate limiter throttle the rest.
func (c *Client) reprime() {
	if c.snapshots == nil {
		return
	}
	if !c.repriming.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.repriming.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		snap, err := c.snapshots.OrderBook(ctx, c.config.Pair)
		if err != nil {
			c.logger.Warn().Err(err).Msg("snapshot reprime failed")
			return
		}

		select {
		case c.reprimeCh <- snap:
		case <-c.done:
		}
	}()
}

// applyReprime applies a recovery snapshot on the ingestion goroutine. The
// stream's own resubscription snapshot may have landed first with a newer
// sequence; applying an older one would rewind the book for subscribers.
func (c *Client) applyReprime(snap *codec.Snapshot) {
	view, ok := c.reconciler.ApplySnapshotIfNewer(snap)
	if !ok {
		return
	}
	c.events.Publish(core.BookEvent{Book: view})
	c.logger.Info().Int64("sequence", snap.Sequence).Msg("book reprimed from snapshot")
}

func (c *Client) publishFault(err error) {
	var feedErr *core.FeedError
	if !errors.As(err, &feedErr) {
		feedErr = core.NewFeedError(classify(err), err.Error(), err)
	}
	c.events.Publish(core.FaultEvent{Err: feedErr})
}

func classify(err error) core.ErrorType {
	switch {
	case errors.Is(err, core.ErrMalformedFrame):
		return core.ErrorTypeMalformedFrame
	case errors.Is(err, core.ErrUnknownType):
		return core.ErrorTypeUnknownType
	case errors.Is(err, core.ErrStaleBook):
		return core.ErrorTypeStaleBook
	case errors.Is(err, core.ErrConnectionAbandoned):
		return core.ErrorTypeConnectionAbandoned
	default:
		return core.ErrorTypeUnknown
	}
}
