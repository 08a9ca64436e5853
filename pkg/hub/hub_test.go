package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwire/pkg/core"
)

func TestHub_PublishFanout(t *testing.T) {
	h := New(10)

	first := h.Subscribe(nil)
	second := h.Subscribe(nil)

	ev := core.StateEvent{Status: core.StatusOpen}
	h.Publish(ev)

	assert.Equal(t, ev, <-first.C())
	assert.Equal(t, ev, <-second.C())
}

func TestHub_FilterSelectsKinds(t *testing.T) {
	h := New(10)

	states := h.Subscribe(KindFilter(core.KindState))
	all := h.Subscribe(nil)

	h.Publish(core.TickerEvent{Ticker: &core.Ticker{Pair: "BTC/USDT"}})
	h.Publish(core.StateEvent{Status: core.StatusOpen})

	got := <-states.C()
	assert.Equal(t, core.KindState, got.Kind(), "filtered subscriber skips non-matching events")

	assert.Equal(t, core.KindTicker, (<-all.C()).Kind())
	assert.Equal(t, core.KindState, (<-all.C()).Kind())
}

func TestHub_DeliveryOrder(t *testing.T) {
	h := New(10)
	sub := h.Subscribe(nil)

	for i := 0; i < 5; i++ {
		h.Publish(core.StateEvent{Attempt: i})
	}

	for i := 0; i < 5; i++ {
		ev := <-sub.C()
		assert.Equal(t, i, ev.(core.StateEvent).Attempt)
	}
}

func TestHub_SlowConsumerDropped(t *testing.T) {
	h := New(2)

	slow := h.Subscribe(nil)
	healthy := h.Subscribe(nil)

	// Fill the slow subscriber's queue while the healthy one keeps up.
	h.Publish(core.StateEvent{Attempt: 0})
	h.Publish(core.StateEvent{Attempt: 1})
	assert.Equal(t, 0, (<-healthy.C()).(core.StateEvent).Attempt)
	assert.Equal(t, 1, (<-healthy.C()).(core.StateEvent).Attempt)

	// The third event overflows only the slow subscriber.
	h.Publish(core.StateEvent{Attempt: 2})

	select {
	case err := <-slow.Err():
		assert.ErrorIs(t, err, core.ErrSlowConsumer)
	case <-time.After(time.Second):
		t.Fatal("expected slow consumer error")
	}

	// Queued events remain readable before the closed channel shows.
	assert.Equal(t, 0, (<-slow.C()).(core.StateEvent).Attempt)
	assert.Equal(t, 1, (<-slow.C()).(core.StateEvent).Attempt)
	_, open := <-slow.C()
	assert.False(t, open)

	// The healthy subscriber saw everything.
	assert.Equal(t, 2, (<-healthy.C()).(core.StateEvent).Attempt)
	assert.Equal(t, 1, h.Len())
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New(10)

	sub := h.Subscribe(nil)
	h.Publish(core.StateEvent{Attempt: 1})
	h.Unsubscribe(sub)
	h.Publish(core.StateEvent{Attempt: 2})

	assert.Equal(t, 1, (<-sub.C()).(core.StateEvent).Attempt)
	_, open := <-sub.C()
	assert.False(t, open, "no delivery after unsubscribe")
	assert.Equal(t, 0, h.Len())

	// Unsubscribing twice is a no-op.
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)
}

func TestHub_CloseDrainsQueues(t *testing.T) {
	h := New(10)
	sub := h.Subscribe(nil)

	h.Publish(core.StateEvent{Attempt: 1})
	h.Close(core.ErrClientClosed)

	assert.Equal(t, 1, (<-sub.C()).(core.StateEvent).Attempt, "queued events survive close")
	_, open := <-sub.C()
	assert.False(t, open)
	assert.ErrorIs(t, <-sub.Err(), core.ErrClientClosed)
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	h := New(10)
	h.Close(core.ErrClientClosed)

	sub := h.Subscribe(nil)
	require.NotNil(t, sub)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.ErrorIs(t, <-sub.Err(), core.ErrClientClosed)
}

func TestHub_PublishAfterCloseIsNoop(t *testing.T) {
	h := New(10)
	h.Close(nil)
	h.Publish(core.StateEvent{Attempt: 1})
	assert.Equal(t, 0, h.Len())
}
