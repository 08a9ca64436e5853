// Package snapshot fetches initial and gap-recovery order book state over
// REST. Fetches pass through a circuit breaker and a rate limiter so a
// stream of sequence gaps cannot turn into a request storm against an
// already unhealthy server.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketwire/internal/circuitbreaker"
	"marketwire/internal/ratelimit"
	"marketwire/internal/rest"
	"marketwire/pkg/codec"
	"marketwire/pkg/core"
)

// ErrCircuitOpen is returned when the breaker refuses a fetch.
var ErrCircuitOpen = errors.New("snapshot circuit breaker is open")

// Config holds configuration options for the snapshot client.
type Config struct {
	// BaseURL is the REST endpoint base.
	BaseURL string
	// AuthToken is the bearer credential, supplied by the caller.
	AuthToken string
	// Timeout bounds each fetch.
	Timeout time.Duration

	// FetchRateLimit bounds fetches per FetchRatePeriod.
	FetchRateLimit  int
	FetchRatePeriod time.Duration

	BreakerEnabled          bool
	BreakerFailThreshold    int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
}

// DefaultConfig returns a Config with sensible defaults for the base URL:
// 10s timeout, 5 fetches/10s, breaker at 5 failures/2 successes/30s.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,

		FetchRateLimit:  5,
		FetchRatePeriod: 10 * time.Second,

		BreakerEnabled:          true,
		BreakerFailThreshold:    5,
		BreakerSuccessThreshold: 2,
		BreakerTimeout:          30 * time.Second,
	}
}

// Client fetches order book snapshots and tickers over REST.
type Client struct {
	rest    *rest.Client
	breaker *circuitbreaker.Breaker
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// New creates a snapshot client from the configuration.
func New(config *Config) (*Client, error) {
	restCfg := rest.DefaultConfig(config.BaseURL)
	restCfg.AuthToken = config.AuthToken
	if config.Timeout > 0 {
		restCfg.Timeout = config.Timeout
	}

	restClient, err := rest.NewClient(restCfg)
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	c := &Client{
		rest:   restClient,
		logger: zerolog.Nop(),
	}

	if config.BreakerEnabled {
		c.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.BreakerFailThreshold,
			SuccessThreshold: config.BreakerSuccessThreshold,
			Timeout:          config.BreakerTimeout,
		})
	}
	if config.FetchRateLimit > 0 {
		c.limiter = ratelimit.New(config.FetchRateLimit, config.FetchRatePeriod)
	}

	return c, nil
}

// SetLogger configures the logger for the client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.rest.SetLogger(logger)
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.rest.Close()
}

// OrderBook fetches a full order book snapshot for the pair.
func (c *Client) OrderBook(ctx context.Context, pair string) (*codec.Snapshot, error) {
	body, err := c.fetch(ctx, "/market/orderbook", pair)
	if err != nil {
		return nil, err
	}

	snap, err := codec.ParseSnapshotPayload(body)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}

// Ticker fetches the 24-hour market summary for the pair.
func (c *Client) Ticker(ctx context.Context, pair string) (*core.Ticker, error) {
	body, err := c.fetch(ctx, "/market/ticker", pair)
	if err != nil {
		return nil, err
	}

	ticker, err := codec.ParseTickerPayload(body)
	if err != nil {
		return nil, fmt.Errorf("parse ticker: %w", err)
	}
	if ticker.Pair == "" {
		ticker.Pair = pair
	}
	return ticker, nil
}

func (c *Client) fetch(ctx context.Context, path, pair string) ([]byte, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.rest.Get(ctx, path, rest.WithQueryParam("pair", pair))
	success := err == nil && resp != nil && resp.IsSuccess()
	if c.breaker != nil {
		c.breaker.Record(success)
	}

	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch %s: status %d", path, resp.StatusCode())
	}

	return resp.Bytes(), nil
}
