// Package rest wraps the HTTP client used for initial and gap-recovery
// order book snapshots. JSON passes through sonic on both directions.
package rest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Config holds configuration options for the REST client.
type Config struct {
	BaseURL      string        `validate:"required,url"`
	Timeout      time.Duration `validate:"min=1ms"`
	MaxRetries   int           `validate:"min=0"`
	RetryWaitMin time.Duration `validate:"min=0"`
	RetryWaitMax time.Duration `validate:"min=0"`
	// AuthToken is the bearer credential supplied by the caller. The
	// client never reads credentials from ambient state.
	AuthToken string
}

// DefaultConfig returns a Config with sensible defaults for the base URL.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:      baseURL,
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,
	}
}

// Client is a thin resty wrapper with validated config and sonic codecs.
type Client struct {
	client *resty.Client
	logger zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

// RequestOption customizes a single request.
type RequestOption func(*resty.Request)

// NewClient creates a REST client from the validated configuration.
func NewClient(config *Config) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(config.MaxRetries)
	client.SetRetryWaitTime(config.RetryWaitMin)
	client.SetRetryMaxWaitTime(config.RetryWaitMax)
	if config.AuthToken != "" {
		client.SetAuthToken(config.AuthToken)
	}
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	return &Client{
		client: client,
		logger: zerolog.Nop(),
	}, nil
}

// SetLogger configures the logger for the client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Get issues a GET request against the configured base URL.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	req := c.client.R().SetContext(ctx)
	for _, opt := range opts {
		opt(req)
	}

	c.logger.Debug().Str("url", url).Msg("rest get")
	return req.Get(url)
}

// WithQueryParam sets a single query parameter.
func WithQueryParam(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

// WithResult sets the destination the response body decodes into.
func WithResult(res any) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(res)
	}
}
