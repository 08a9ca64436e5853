package orders

import (
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwire/pkg/codec"
	"marketwire/pkg/core"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func buyRequest(t *testing.T) core.OrderRequest {
	t.Helper()
	req := core.OrderRequest{Pair: "BTC/USDT", Side: core.SideBuy}
	_, _, err := apd.BaseContext.SetString(&req.Amount, "1")
	require.NoError(t, err)
	_, _, err = apd.BaseContext.SetString(&req.Price, "45000")
	require.NoError(t, err)
	return req
}

func TestCorrelator_SubmitEncodesPlaceOrder(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, Config{Timeout: time.Second})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, 1, sender.count())

	var env codec.Envelope
	require.NoError(t, sonic.Unmarshal(sender.sent[0], &env))
	assert.Equal(t, "place_order", env.Type)

	var payload map[string]string
	require.NoError(t, sonic.Unmarshal(env.Data, &payload))
	assert.Equal(t, pending.CorrelationID(), payload["correlationId"])
	assert.Equal(t, "BTC/USDT", payload["pair"])
	assert.Equal(t, "buy", payload["side"])
}

func TestCorrelator_AckResolvesOrder(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Second})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)

	c.Resolve(&codec.OrderAck{CorrelationID: pending.CorrelationID(), OrderID: "ord-7"})

	result := <-pending.Result()
	assert.Equal(t, core.OrderAcknowledged, result.State)
	assert.Equal(t, "ord-7", result.OrderID)
	assert.Equal(t, pending.CorrelationID(), result.CorrelationID)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_RejectResolvesWithoutRetry(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, Config{Timeout: time.Second})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)

	c.Resolve(&codec.OrderReject{CorrelationID: pending.CorrelationID(), Reason: "insufficient_funds"})

	result := <-pending.Result()
	assert.Equal(t, core.OrderRejected, result.State)
	assert.Equal(t, "insufficient_funds", result.Reason)

	assert.Equal(t, 1, sender.count(), "a rejected order is never resubmitted")
}

func TestCorrelator_Timeout(t *testing.T) {
	timeout := 20 * time.Millisecond
	c := New(&fakeSender{}, Config{Timeout: timeout})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)

	select {
	case result := <-pending.Result():
		assert.Equal(t, core.OrderTimedOut, result.State)
		assert.GreaterOrEqual(t, time.Since(pending.SubmittedAt()), timeout,
			"order must stay pending for the full timeout")
	case <-time.After(time.Second):
		t.Fatal("expected timeout resolution")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_LateAckIgnored(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: 20 * time.Millisecond})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)

	result := <-pending.Result()
	require.Equal(t, core.OrderTimedOut, result.State)

	// The real response arrives after the timer fired; nothing changes.
	c.Resolve(&codec.OrderAck{CorrelationID: pending.CorrelationID(), OrderID: "ord-late"})
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_UnknownCorrelationIgnored(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Second})
	c.Resolve(&codec.OrderAck{CorrelationID: "never-issued"})
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_SendFailureUnregisters(t *testing.T) {
	sender := &fakeSender{err: core.ErrSessionUnavailable}
	c := New(sender, Config{Timeout: time.Second})

	pending, err := c.Submit(buyRequest(t))
	assert.Nil(t, pending)
	assert.ErrorIs(t, err, core.ErrSessionUnavailable)
	assert.Equal(t, 0, c.PendingCount(), "nothing is buffered for later")
}

func TestCorrelator_FailAll(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Minute})

	first, err := c.Submit(buyRequest(t))
	require.NoError(t, err)
	second, err := c.Submit(buyRequest(t))
	require.NoError(t, err)
	require.Equal(t, 2, c.PendingCount())

	c.FailAll()

	assert.Equal(t, core.OrderTimedOut, (<-first.Result()).State)
	assert.Equal(t, core.OrderTimedOut, (<-second.Result()).State)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_UniqueCorrelationIDs(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Minute})

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		pending, err := c.Submit(buyRequest(t))
		require.NoError(t, err)
		assert.False(t, seen[pending.CorrelationID()])
		seen[pending.CorrelationID()] = true
	}
}

func TestCorrelator_RateLimit(t *testing.T) {
	c := New(&fakeSender{}, Config{
		Timeout:    time.Minute,
		RateLimit:  2,
		RatePeriod: time.Second,
	})

	_, err := c.Submit(buyRequest(t))
	require.NoError(t, err)
	_, err = c.Submit(buyRequest(t))
	require.NoError(t, err)

	_, err = c.Submit(buyRequest(t))
	assert.ErrorIs(t, err, core.ErrRateLimited)
}

func TestCorrelator_Close(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Minute})

	pending, err := c.Submit(buyRequest(t))
	require.NoError(t, err)

	c.Close()

	assert.Equal(t, core.OrderTimedOut, (<-pending.Result()).State)

	_, err = c.Submit(buyRequest(t))
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestCorrelator_SubmitRequiresPair(t *testing.T) {
	c := New(&fakeSender{}, Config{Timeout: time.Second})
	_, err := c.Submit(core.OrderRequest{})
	assert.Error(t, err)
}
