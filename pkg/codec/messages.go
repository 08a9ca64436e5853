package codec

import (
	"github.com/cockroachdb/apd/v3"

	"marketwire/pkg/core"
)

// Wire envelope types carried in the "type" discriminator.
const (
	TypeSnapshot    = "snapshot"
	TypeDelta       = "delta"
	TypeTicker      = "ticker"
	TypeTrade       = "trade"
	TypeOrderAck    = "order_ack"
	TypeOrderReject = "order_reject"
	TypePlaceOrder  = "place_order"
	TypeSubscribe   = "subscribe"
)

// Message is a decoded inbound wire message.
type Message interface {
	// EnvelopeType returns the wire discriminator of the message.
	EnvelopeType() string
}

// Snapshot is a full replacement of the order book state.
type Snapshot struct {
	Sequence int64
	Bids     []core.PriceLevel
	Asks     []core.PriceLevel
}

func (Snapshot) EnvelopeType() string { return TypeSnapshot }

// Delta is an incremental order-book change keyed to a sequence number.
// An amount of exactly zero removes the level.
type Delta struct {
	Sequence int64
	Bids     []core.PriceLevel
	Asks     []core.PriceLevel
}

func (Delta) EnvelopeType() string { return TypeDelta }

// TickerUpdate is a best-price/volume market summary.
type TickerUpdate struct {
	Ticker core.Ticker
}

func (TickerUpdate) EnvelopeType() string { return TypeTicker }

// TradeExecuted is an executed trade broadcast by the matching engine.
type TradeExecuted struct {
	Trade core.Trade
}

func (TradeExecuted) EnvelopeType() string { return TypeTrade }

// OrderAck acknowledges an order submission by correlation id.
type OrderAck struct {
	CorrelationID string
	OrderID       string
}

func (OrderAck) EnvelopeType() string { return TypeOrderAck }

// OrderReject refuses an order submission by correlation id.
type OrderReject struct {
	CorrelationID string
	Reason        string
}

func (OrderReject) EnvelopeType() string { return TypeOrderReject }

// PlaceOrder is the outbound order submission payload.
type PlaceOrder struct {
	CorrelationID string
	Pair          string
	Side          core.Side
	Amount        apd.Decimal
	Price         apd.Decimal
}

func (PlaceOrder) EnvelopeType() string { return TypePlaceOrder }

// Subscribe is the outbound subscription (and gap-recovery resubscription)
// request for a trading pair.
type Subscribe struct {
	Pair string
}

func (Subscribe) EnvelopeType() string { return TypeSubscribe }
