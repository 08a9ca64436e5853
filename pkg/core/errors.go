package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a channel fault.
type ErrorType int

// Error type constants categorize faults for handling and retry decisions.
const (
	// ErrorTypeUnknown indicates an unclassified fault.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeMalformedFrame indicates a frame that is not a well-formed envelope.
	ErrorTypeMalformedFrame
	// ErrorTypeUnknownType indicates an envelope type with no registered decoder.
	ErrorTypeUnknownType
	// ErrorTypeSessionUnavailable indicates a send attempted while the session is not open.
	ErrorTypeSessionUnavailable
	// ErrorTypeStaleBook indicates a sequence gap invalidated the local book.
	ErrorTypeStaleBook
	// ErrorTypeConnectionAbandoned indicates the reconnect budget was exhausted.
	ErrorTypeConnectionAbandoned
	// ErrorTypeOrderTimedOut indicates an order resolved without a server response.
	ErrorTypeOrderTimedOut
	// ErrorTypeSlowConsumer indicates a subscriber was dropped for overflowing its queue.
	ErrorTypeSlowConsumer
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"MALFORMED_FRAME",
		"UNKNOWN_TYPE",
		"SESSION_UNAVAILABLE",
		"STALE_BOOK",
		"CONNECTION_ABANDONED",
		"ORDER_TIMED_OUT",
		"SLOW_CONSUMER",
	}[t]
}

// Sentinel errors for the channel fault taxonomy.
var (
	// ErrMalformedFrame is returned when a frame cannot be parsed into an envelope.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType is returned when an envelope type has no registered decoder.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrSessionUnavailable is returned when sending while the session is not open.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrStaleBook is returned when a sequence gap invalidates the local book.
	ErrStaleBook = errors.New("stale order book")
	// ErrConnectionAbandoned is returned when the reconnect budget is exhausted.
	ErrConnectionAbandoned = errors.New("connection abandoned")
	// ErrOrderTimedOut is returned when an order receives no response in time.
	// The outcome is unknown, not a confirmed failure.
	ErrOrderTimedOut = errors.New("order timed out")
	// ErrSlowConsumer is returned to a subscriber dropped for a full queue.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrRateLimited is returned when the submission rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// FeedError is a structured fault carried on the event stream.
// It wraps the underlying cause with a category and timestamp.
type FeedError struct {
	// Type categorizes the fault for programmatic handling.
	Type ErrorType `json:"type"`
	// Message is the human-readable fault description.
	Message string `json:"message"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
	// Timestamp is when the fault occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for FeedError.
func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As matching.
func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a FeedError with the current timestamp.
func NewFeedError(errorType ErrorType, message string, err error) *FeedError {
	return &FeedError{
		Type:      errorType,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// IsRecoverable returns true if the fault degrades to retry or drop
// rather than terminating the channel.
func IsRecoverable(err error) bool {
	if e := (*FeedError)(nil); errors.As(err, &e) {
		return e.Type != ErrorTypeConnectionAbandoned
	}
	return !errors.Is(err, ErrConnectionAbandoned)
}
