// Package codec serializes and deserializes the wire envelope
// {"type": <string>, "data": <payload>} into typed domain messages.
// It is pure and stateless: decoding faults are reported per frame and
// never carry state across calls.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"marketwire/pkg/core"
)

// Envelope is the wire unit: a type discriminator and an opaque payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireBook struct {
	Sequence int64           `json:"sequence"`
	Bids     [][]json.Number `json:"bids"`
	Asks     [][]json.Number `json:"asks"`
}

type wireTicker struct {
	Pair      string      `json:"pair,omitempty"`
	LastPrice json.Number `json:"lastPrice"`
	Change24h json.Number `json:"change24h"`
	High24h   json.Number `json:"high24h"`
	Low24h    json.Number `json:"low24h"`
	Volume24h json.Number `json:"volume24h"`
}

type wireTrade struct {
	ID        string      `json:"id"`
	Pair      string      `json:"pair"`
	Price     json.Number `json:"price"`
	Amount    json.Number `json:"amount"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type wireOrderAck struct {
	CorrelationID string `json:"correlationId"`
	OrderID       string `json:"orderId"`
}

type wireOrderReject struct {
	CorrelationID string `json:"correlationId"`
	Reason        string `json:"reason"`
}

type wirePlaceOrder struct {
	CorrelationID string `json:"correlationId"`
	Pair          string `json:"pair"`
	Side          string `json:"side"`
	Amount        string `json:"amount"`
	Price         string `json:"price"`
}

type wireSubscribe struct {
	Pair string `json:"pair"`
}

// Decode parses raw frame bytes into a typed message.
// It returns core.ErrMalformedFrame for frames that are not well-formed
// envelopes or whose payload does not match the declared type, and
// core.ErrUnknownType for discriminators with no registered decoder.
// Both are per-frame faults; the caller logs and drops.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type discriminator", core.ErrMalformedFrame)
	}

	switch env.Type {
	case TypeSnapshot:
		return decodeSnapshot(env.Data)
	case TypeDelta:
		return decodeDelta(env.Data)
	case TypeTicker:
		return decodeTicker(env.Data)
	case TypeTrade:
		return decodeTrade(env.Data)
	case TypeOrderAck:
		return decodeOrderAck(env.Data)
	case TypeOrderReject:
		return decodeOrderReject(env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownType, env.Type)
	}
}

// Encode serializes an outbound message into envelope bytes.
// It is total for well-formed domain messages.
func Encode(msg Message) ([]byte, error) {
	var payload any

	switch m := msg.(type) {
	case *PlaceOrder:
		payload = wirePlaceOrder{
			CorrelationID: m.CorrelationID,
			Pair:          m.Pair,
			Side:          m.Side.String(),
			Amount:        m.Amount.Text('f'),
			Price:         m.Price.Text('f'),
		}
	case *Subscribe:
		payload = wireSubscribe{Pair: m.Pair}
	default:
		return nil, fmt.Errorf("%w: %q is not an outbound message", core.ErrUnknownType, msg.EnvelopeType())
	}

	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return sonic.Marshal(Envelope{Type: msg.EnvelopeType(), Data: data})
}

// ParseSnapshotPayload decodes a bare snapshot payload (no envelope), the
// shape served by the REST snapshot endpoint.
func ParseSnapshotPayload(data []byte) (*Snapshot, error) {
	msg, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return msg.(*Snapshot), nil
}

// ParseTickerPayload decodes a bare ticker payload (no envelope), the
// shape served by the REST ticker endpoint.
func ParseTickerPayload(data []byte) (*core.Ticker, error) {
	msg, err := decodeTicker(data)
	if err != nil {
		return nil, err
	}
	t := msg.(*TickerUpdate).Ticker
	return &t, nil
}

func decodeSnapshot(data json.RawMessage) (Message, error) {
	var raw wireBook
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: snapshot payload: %v", core.ErrMalformedFrame, err)
	}

	bids, err := decodeLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot bids: %v", core.ErrMalformedFrame, err)
	}
	asks, err := decodeLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot asks: %v", core.ErrMalformedFrame, err)
	}

	return &Snapshot{Sequence: raw.Sequence, Bids: bids, Asks: asks}, nil
}

func decodeDelta(data json.RawMessage) (Message, error) {
	var raw wireBook
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: delta payload: %v", core.ErrMalformedFrame, err)
	}

	bids, err := decodeLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: delta bids: %v", core.ErrMalformedFrame, err)
	}
	asks, err := decodeLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: delta asks: %v", core.ErrMalformedFrame, err)
	}

	return &Delta{Sequence: raw.Sequence, Bids: bids, Asks: asks}, nil
}

func decodeTicker(data json.RawMessage) (Message, error) {
	var raw wireTicker
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: ticker payload: %v", core.ErrMalformedFrame, err)
	}

	ticker := core.Ticker{Pair: raw.Pair, Timestamp: time.Now()}
	fields := []struct {
		dest *apd.Decimal
		src  json.Number
	}{
		{&ticker.LastPrice, raw.LastPrice},
		{&ticker.Change24h, raw.Change24h},
		{&ticker.High24h, raw.High24h},
		{&ticker.Low24h, raw.Low24h},
		{&ticker.Volume24h, raw.Volume24h},
	}
	for _, f := range fields {
		if err := parseDecimal(f.dest, f.src); err != nil {
			return nil, fmt.Errorf("%w: ticker: %v", core.ErrMalformedFrame, err)
		}
	}

	return &TickerUpdate{Ticker: ticker}, nil
}

func decodeTrade(data json.RawMessage) (Message, error) {
	var raw wireTrade
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: trade payload: %v", core.ErrMalformedFrame, err)
	}

	trade := core.Trade{ID: raw.ID, Pair: raw.Pair, Timestamp: time.Now()}
	if raw.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			trade.Timestamp = ts
		}
	}
	if err := parseDecimal(&trade.Price, raw.Price); err != nil {
		return nil, fmt.Errorf("%w: trade price: %v", core.ErrMalformedFrame, err)
	}
	if err := parseDecimal(&trade.Amount, raw.Amount); err != nil {
		return nil, fmt.Errorf("%w: trade amount: %v", core.ErrMalformedFrame, err)
	}

	return &TradeExecuted{Trade: trade}, nil
}

func decodeOrderAck(data json.RawMessage) (Message, error) {
	var raw wireOrderAck
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: order_ack payload: %v", core.ErrMalformedFrame, err)
	}
	if raw.CorrelationID == "" {
		return nil, fmt.Errorf("%w: order_ack missing correlationId", core.ErrMalformedFrame)
	}
	return &OrderAck{CorrelationID: raw.CorrelationID, OrderID: raw.OrderID}, nil
}

func decodeOrderReject(data json.RawMessage) (Message, error) {
	var raw wireOrderReject
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: order_reject payload: %v", core.ErrMalformedFrame, err)
	}
	if raw.CorrelationID == "" {
		return nil, fmt.Errorf("%w: order_reject missing correlationId", core.ErrMalformedFrame)
	}
	return &OrderReject{CorrelationID: raw.CorrelationID, Reason: raw.Reason}, nil
}

// decodeLevels parses [[price, amount], ...] pairs. Amounts must not be
// negative; zero marks level removal and is preserved.
func decodeLevels(raw [][]json.Number) ([]core.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	levels := make([]core.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level %d: want [price, amount], got %d elements", i, len(pair))
		}
		var level core.PriceLevel
		if err := parseDecimal(&level.Price, pair[0]); err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		if err := parseDecimal(&level.Amount, pair[1]); err != nil {
			return nil, fmt.Errorf("level %d amount: %w", i, err)
		}
		if level.Amount.Negative {
			return nil, fmt.Errorf("level %d: negative amount %s", i, level.Amount.Text('f'))
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func parseDecimal(dest *apd.Decimal, n json.Number) error {
	if n == "" {
		*dest = apd.Decimal{}
		return nil
	}

	_, _, err := apd.BaseContext.SetString(dest, n.String())
	if err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}
	return nil
}
