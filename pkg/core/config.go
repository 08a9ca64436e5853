package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReconnectConfig holds the reconnect policy for a transport session.
type ReconnectConfig struct {
	// Enabled determines whether automatic reconnection is active.
	Enabled bool `json:"enabled"`
	// MaxAttempts is the reconnect budget before the session is abandoned.
	// Zero means unbounded.
	MaxAttempts int `json:"max_attempts" validate:"min=0"`
	// BaseWait is the wait before the first reconnection attempt.
	BaseWait time.Duration `json:"base_wait" validate:"min=0"`
	// MaxWait caps the wait between reconnection attempts.
	MaxWait time.Duration `json:"max_wait" validate:"min=0"`
	// Multiplier is the factor the wait grows by after each attempt.
	Multiplier float64 `json:"multiplier" validate:"min=1"`
	// Jitter randomizes each wait to avoid synchronized retry storms.
	Jitter bool `json:"jitter"`
}

// DefaultReconnectConfig returns a ReconnectConfig with sensible defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 0,
		BaseWait:    1 * time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Config contains all configuration options for a feed client.
type Config struct {
	// Pair is the trading pair the channel carries.
	Pair string `json:"pair" validate:"required"`
	// Endpoint is the websocket server endpoint.
	Endpoint string `json:"endpoint" validate:"required,url"`
	// RestBaseURL is the REST base for initial and recovery snapshots.
	// Empty disables REST repriming; recovery then relies on resubscription.
	RestBaseURL string `json:"rest_base_url" validate:"omitempty,url"`

	// OrderTimeout is how long a submitted order may stay pending.
	OrderTimeout time.Duration `json:"order_timeout" validate:"min=1ms"`
	// BufferSize is the capacity of each subscriber's event queue.
	BufferSize int `json:"buffer_size" validate:"min=1"`

	Reconnect ReconnectConfig `json:"reconnect"`

	// PingInterval is the duration between keepalive pings.
	PingInterval time.Duration `json:"ping_interval" validate:"min=0"`
	// PongWait is the maximum wait for a pong before the connection is dead.
	PongWait time.Duration `json:"pong_wait" validate:"min=0"`

	// SubmitRateLimit bounds order submissions per SubmitRatePeriod.
	SubmitRateLimit  int           `json:"submit_rate_limit" validate:"min=1"`
	SubmitRatePeriod time.Duration `json:"submit_rate_period" validate:"min=1ms"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the
// specified pair and endpoint. Default values: 10s order timeout, 100-event
// subscriber queues, unbounded jittered exponential reconnect, 10 orders/s,
// circuit breaker with 5 failures/2 successes/30s timeout.
func DefaultConfig(pair, endpoint string) *Config {
	return &Config{
		Pair:     pair,
		Endpoint: endpoint,

		OrderTimeout: 10 * time.Second,
		BufferSize:   100,

		Reconnect: DefaultReconnectConfig(),

		PingInterval: 10 * time.Second,
		PongWait:     20 * time.Second,

		SubmitRateLimit:  10,
		SubmitRatePeriod: time.Second,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.BaseWait <= 0 {
			return errors.New("Reconnect.BaseWait must be positive when enabled")
		}
		if c.Reconnect.MaxWait < c.Reconnect.BaseWait {
			return errors.New("Reconnect.MaxWait must be at least BaseWait")
		}
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// WithRestBaseURL sets the REST snapshot base URL and returns the config for chaining.
func (c *Config) WithRestBaseURL(baseURL string) *Config {
	c.RestBaseURL = baseURL
	return c
}

// WithOrderTimeout sets the pending-order timeout and returns the config for chaining.
func (c *Config) WithOrderTimeout(timeout time.Duration) *Config {
	c.OrderTimeout = timeout
	return c
}

// WithReconnect sets the reconnect policy and returns the config for chaining.
func (c *Config) WithReconnect(rc ReconnectConfig) *Config {
	c.Reconnect = rc
	return c
}

// WithBufferSize sets the subscriber queue capacity and returns the config for chaining.
func (c *Config) WithBufferSize(size int) *Config {
	c.BufferSize = size
	return c
}

// WithSubmitRateLimit sets the order submission rate and returns the config for chaining.
func (c *Config) WithSubmitRateLimit(limit int, period time.Duration) *Config {
	c.SubmitRateLimit = limit
	c.SubmitRatePeriod = period
	return c
}
