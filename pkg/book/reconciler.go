// Package book maintains the authoritative local order-book state from
// snapshot and delta messages. The book is never allowed to silently
// diverge from the server's view: any sequence gap invalidates it until
// the next snapshot.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketwire/pkg/codec"
	"marketwire/pkg/core"
)

// Reconciler exclusively owns and mutates the bid/ask state for one pair.
// All reads return deep copies; consumers never see a mutable reference.
type Reconciler struct {
	mu     sync.Mutex
	logger zerolog.Logger

	pair     string
	sequence int64
	bids     []core.PriceLevel
	asks     []core.PriceLevel
	primed   bool
	stale    bool
}

// NewReconciler creates a reconciler for the given trading pair.
// The book starts stale until the first snapshot arrives.
func NewReconciler(pair string) *Reconciler {
	return &Reconciler{
		pair:   pair,
		logger: zerolog.Nop(),
	}
}

// SetLogger configures the logger for the reconciler.
func (r *Reconciler) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// ApplySnapshot replaces the entire local state and records the snapshot's
// sequence. It returns the post-update view.
func (r *Reconciler) ApplySnapshot(snap *codec.Snapshot) *core.OrderBook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applySnapshot(snap)
}

// ApplySnapshotIfNewer applies the snapshot unless the book is primed, live,
// and already at the same or a newer sequence. A recovery snapshot fetched
// out of band can lose the race against the stream's own resubscription
// snapshot; applying it anyway would rewind the book. It reports whether the
// snapshot was applied.
func (r *Reconciler) ApplySnapshotIfNewer(snap *codec.Snapshot) (*core.OrderBook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primed && !r.stale && snap.Sequence <= r.sequence {
		r.logger.Debug().
			Int64("local", r.sequence).
			Int64("snapshot", snap.Sequence).
			Msg("snapshot behind the live book, discarded")
		return nil, false
	}
	return r.applySnapshot(snap), true
}

// applySnapshot replaces the book state. Callers hold r.mu.
func (r *Reconciler) applySnapshot(snap *codec.Snapshot) *core.OrderBook {
	r.bids = sortLevels(snap.Bids, true)
	r.asks = sortLevels(snap.Asks, false)
	r.sequence = snap.Sequence
	r.primed = true
	r.stale = false

	r.logger.Debug().
		Int64("sequence", snap.Sequence).
		Int("bids", len(r.bids)).
		Int("asks", len(r.asks)).
		Msg("snapshot applied")

	return r.view()
}

// ApplyDelta applies an incremental change. A delta whose sequence is not
// exactly local+1 marks the book stale and returns core.ErrStaleBook exactly
// once per gap; further deltas are dropped silently until the next snapshot.
// A nil book with nil error means the delta was dropped.
func (r *Reconciler) ApplyDelta(delta *codec.Delta) (*core.OrderBook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stale {
		return nil, nil
	}

	if !r.primed || delta.Sequence != r.sequence+1 {
		r.stale = true
		r.logger.Warn().
			Int64("local", r.sequence).
			Int64("delta", delta.Sequence).
			Bool("primed", r.primed).
			Msg("sequence gap, book is stale")
		return nil, core.ErrStaleBook
	}

	r.bids = applySide(r.bids, delta.Bids, true)
	r.asks = applySide(r.asks, delta.Asks, false)
	r.sequence = delta.Sequence

	return r.view(), nil
}

// MarkStale invalidates the book, e.g. when the transport drops.
func (r *Reconciler) MarkStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = true
}

// IsStale returns true if the book needs a fresh snapshot before further
// deltas can apply.
func (r *Reconciler) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale || !r.primed
}

// Sequence returns the sequence of the last applied message.
func (r *Reconciler) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Book returns an immutable copy of the current state, or nil if no
// snapshot has been applied yet.
func (r *Reconciler) Book() *core.OrderBook {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.primed {
		return nil
	}
	return r.view()
}

func (r *Reconciler) view() *core.OrderBook {
	return &core.OrderBook{
		Pair:      r.pair,
		Sequence:  r.sequence,
		Bids:      copyLevels(r.bids),
		Asks:      copyLevels(r.asks),
		Timestamp: time.Now(),
	}
}

// applySide merges (price, amount) changes into a sorted side. Amount zero
// removes the level, otherwise insert-or-replace preserving strict price
// order: bids descending, asks ascending.
func applySide(levels []core.PriceLevel, changes []core.PriceLevel, desc bool) []core.PriceLevel {
	for i := range changes {
		change := changes[i]
		idx := sort.Search(len(levels), func(j int) bool {
			cmp := levels[j].Price.Cmp(&change.Price)
			if desc {
				return cmp <= 0
			}
			return cmp >= 0
		})

		found := idx < len(levels) && levels[idx].Price.Cmp(&change.Price) == 0

		switch {
		case change.Amount.IsZero():
			if found {
				levels = append(levels[:idx], levels[idx+1:]...)
			}
		case found:
			levels[idx] = change
		default:
			levels = append(levels, core.PriceLevel{})
			copy(levels[idx+1:], levels[idx:])
			levels[idx] = change
		}
	}
	return levels
}

// sortLevels orders snapshot levels and drops zero-amount entries so the
// side invariant holds regardless of server ordering.
func sortLevels(levels []core.PriceLevel, desc bool) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(levels))
	for i := range levels {
		if !levels[i].Amount.IsZero() {
			out = append(out, levels[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		cmp := out[i].Price.Cmp(&out[j].Price)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

func copyLevels(levels []core.PriceLevel) []core.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]core.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
