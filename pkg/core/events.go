package core

// EventKind discriminates the events delivered through the subscription hub.
type EventKind int

// Event kinds published by the feed client.
const (
	// KindBook carries a post-update order book view.
	KindBook EventKind = iota
	// KindTicker carries a 24-hour market summary.
	KindTicker
	// KindTrade carries an executed trade.
	KindTrade
	// KindState carries a session state transition.
	KindState
	// KindFault carries a recoverable or terminal channel fault.
	KindFault
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	return [...]string{"book", "ticker", "trade", "state", "fault"}[k]
}

// Event is a single item delivered to hub subscribers.
type Event interface {
	Kind() EventKind
}

// BookEvent is published after every applied snapshot or delta.
// Book is an immutable copy; subscribers must not mutate it.
type BookEvent struct {
	Book *OrderBook
}

func (BookEvent) Kind() EventKind { return KindBook }

// TickerEvent is published for every ticker message.
type TickerEvent struct {
	Ticker *Ticker
}

func (TickerEvent) Kind() EventKind { return KindTicker }

// TradeEvent is published for every trade broadcast.
type TradeEvent struct {
	Trade *Trade
}

func (TradeEvent) Kind() EventKind { return KindTrade }

// StateEvent is published on every session state transition.
type StateEvent struct {
	Status SessionStatus
	// Attempt is the reconnect attempt counter at the time of the transition.
	Attempt int
	// Err is the error that caused the transition, if any.
	Err error
}

func (StateEvent) Kind() EventKind { return KindState }

// FaultEvent is published for global channel faults (stale book,
// abandoned connection). Per-caller faults resolve through OrderResult
// instead.
type FaultEvent struct {
	Err *FeedError
}

func (FaultEvent) Kind() EventKind { return KindFault }
