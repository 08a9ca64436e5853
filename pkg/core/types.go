package core

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Side represents the direction of an order (buy or sell).
type Side int

// Side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase the base asset.
	SideBuy Side = iota
	// SideSell indicates an order to sell the base asset.
	SideSell
)

// String returns the string representation of the side ("buy" or "sell").
func (s Side) String() string {
	return [...]string{"buy", "sell"}[s]
}

// MarshalJSON implements json.Marshaler for Side.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Side.
// It accepts both lowercase and uppercase formats.
func (s *Side) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"buy"`, `"BUY"`:
		*s = SideBuy
	case `"sell"`, `"SELL"`:
		*s = SideSell
	}
	return nil
}

// SessionStatus represents the lifecycle state of a transport session.
type SessionStatus int32

// Session lifecycle states. Closed re-enters Connecting when the
// reconnect policy schedules another attempt.
const (
	// StatusConnecting indicates a connection attempt is in progress.
	StatusConnecting SessionStatus = iota
	// StatusOpen indicates the session has an active connection.
	StatusOpen
	// StatusClosing indicates the session is shutting down.
	StatusClosing
	// StatusClosed indicates the session holds no connection. Terminal
	// only when reconnection has been cancelled or abandoned.
	StatusClosed
)

// String returns the string representation of the session status.
func (s SessionStatus) String() string {
	return [...]string{"connecting", "open", "closing", "closed"}[s]
}

// OrderState represents the lifecycle state of a submitted order.
type OrderState int

// Order lifecycle states. Pending is the only non-terminal state.
const (
	// OrderPending indicates the order has been sent and awaits a response.
	OrderPending OrderState = iota
	// OrderAcknowledged indicates the server accepted the order.
	OrderAcknowledged
	// OrderRejected indicates the server refused the order.
	OrderRejected
	// OrderTimedOut indicates no response arrived within the deadline.
	// The outcome is unknown: the order may still execute server-side.
	OrderTimedOut
)

// String returns the string representation of the order state.
func (s OrderState) String() string {
	return [...]string{"pending", "acknowledged", "rejected", "timed_out"}[s]
}

// IsTerminal returns true if the order state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	return s != OrderPending
}

// PriceLevel is a single price level on one side of the order book.
type PriceLevel struct {
	// Price is the limit price for this level.
	Price apd.Decimal `json:"price"`
	// Amount is the total quantity resting at this price. Never negative;
	// an amount of exactly zero removes the level.
	Amount apd.Decimal `json:"amount"`
}

// OrderBook is an immutable view of the order book for a trading pair.
// Bids are sorted by price descending, asks ascending, prices unique
// within a side.
type OrderBook struct {
	// Pair is the trading pair identifier (e.g. "BTC/USDT").
	Pair string `json:"pair"`
	// Sequence is the server-assigned monotonic sequence of the last
	// applied message.
	Sequence int64 `json:"sequence"`
	// Bids are buy levels sorted by price descending.
	Bids []PriceLevel `json:"bids"`
	// Asks are sell levels sorted by price ascending.
	Asks []PriceLevel `json:"asks"`
	// Timestamp is when this view was produced.
	Timestamp time.Time `json:"timestamp"`
}

// BestBid returns the highest bid level, or nil if the bid side is empty.
func (b *OrderBook) BestBid() *PriceLevel {
	if len(b.Bids) == 0 {
		return nil
	}
	return &b.Bids[0]
}

// BestAsk returns the lowest ask level, or nil if the ask side is empty.
func (b *OrderBook) BestAsk() *PriceLevel {
	if len(b.Asks) == 0 {
		return nil
	}
	return &b.Asks[0]
}

// Ticker is a 24-hour market summary for a trading pair.
type Ticker struct {
	// Pair is the trading pair identifier.
	Pair string `json:"pair"`
	// LastPrice is the price of the most recent trade.
	LastPrice apd.Decimal `json:"last_price"`
	// Change24h is the price change over the last 24 hours.
	Change24h apd.Decimal `json:"change_24h"`
	// High24h is the highest trade price in the last 24 hours.
	High24h apd.Decimal `json:"high_24h"`
	// Low24h is the lowest trade price in the last 24 hours.
	Low24h apd.Decimal `json:"low_24h"`
	// Volume24h is the total volume traded in the last 24 hours.
	Volume24h apd.Decimal `json:"volume_24h"`
	// Timestamp is when this summary was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Trade is a single executed trade broadcast by the server.
type Trade struct {
	// ID is the server-assigned trade identifier.
	ID string `json:"id"`
	// Pair is the trading pair the trade executed on.
	Pair string `json:"pair"`
	// Price is the execution price.
	Price apd.Decimal `json:"price"`
	// Amount is the executed quantity.
	Amount apd.Decimal `json:"amount"`
	// Timestamp is when the trade executed.
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest describes an order to submit over the channel.
type OrderRequest struct {
	// Pair is the trading pair to place the order on.
	Pair string `json:"pair" validate:"required"`
	// Side is the order direction.
	Side Side `json:"side"`
	// Amount is the order quantity.
	Amount apd.Decimal `json:"amount"`
	// Price is the limit price.
	Price apd.Decimal `json:"price"`
}

// OrderResult is the resolution of a submitted order.
type OrderResult struct {
	// CorrelationID links the result to its submission.
	CorrelationID string `json:"correlation_id"`
	// State is the terminal state the order resolved to.
	State OrderState `json:"state"`
	// OrderID is the server-assigned identifier, set on acknowledgement.
	OrderID string `json:"order_id,omitempty"`
	// Reason is the rejection reason, set on rejection.
	Reason string `json:"reason,omitempty"`
}
