package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwire/pkg/core"
)

// echoServer echoes every frame and keeps track of accepted sockets so
// tests can drop connections server-side.
type echoServer struct {
	gws.BuiltinEventHandler
	mu    sync.Mutex
	conns []*gws.Conn
}

func (e *echoServer) OnOpen(socket *gws.Conn) {
	e.mu.Lock()
	e.conns = append(e.conns, socket)
	e.mu.Unlock()
}

func (e *echoServer) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.WriteMessage(gws.OpcodeText, message.Bytes())
}

func (e *echoServer) dropAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		_ = c.NetConn().Close()
	}
	e.conns = nil
}

func startEchoServer(t *testing.T) (string, *httptest.Server, *echoServer) {
	t.Helper()
	es := &echoServer{}
	upgrader := gws.NewUpgrader(es, &gws.ServerOption{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv, es
}

func awaitStatus(t *testing.T, s *Session, want core.SessionStatus) StateChange {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case change, ok := <-s.States():
			require.True(t, ok, "state channel closed while waiting for %s", want)
			if change.Status == want {
				return change
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
			return StateChange{}
		}
	}
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession(Config{})

	assert.Equal(t, 10*time.Second, s.config.PingInterval)
	assert.Equal(t, 20*time.Second, s.config.PongWait)
	assert.Equal(t, 256, s.config.FrameBuffer)
	assert.Equal(t, time.Second, s.config.Reconnect.BaseWait)
	assert.Equal(t, 30*time.Second, s.config.Reconnect.MaxWait)
	assert.Equal(t, core.StatusClosed, s.Status())
}

func TestSession_SendWhileClosed(t *testing.T) {
	s := NewSession(Config{})

	err := s.Send([]byte(`{"type":"subscribe","data":{"pair":"BTC/USDT"}}`))
	assert.ErrorIs(t, err, core.ErrSessionUnavailable)
	assert.False(t, s.IsOpen())
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := NewSession(Config{})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, core.StatusClosed, s.Status())
}

func TestSession_CloseDrainsChannels(t *testing.T) {
	s := NewSession(Config{})
	require.NoError(t, s.Close())

	_, framesOpen := <-s.Frames()
	assert.False(t, framesOpen)
	_, statesOpen := <-s.States()
	assert.False(t, statesOpen)
}

func TestSession_CloseConcurrent(t *testing.T) {
	s := NewSession(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() { _ = s.Close() })
		}()
	}
	wg.Wait()
	assert.Equal(t, core.StatusClosed, s.Status())
}

func TestSession_OpenCloseLifecycle(t *testing.T) {
	endpoint, srv, _ := startEchoServer(t)
	defer srv.Close()

	s := NewSession(Config{Reconnect: core.ReconnectConfig{Enabled: false}})
	require.NoError(t, s.Open(endpoint, "token"))

	open := awaitStatus(t, s, core.StatusOpen)
	assert.Equal(t, 0, open.Attempt, "first open carries no reconnect attempts")
	assert.True(t, s.IsOpen())

	payload := []byte(`{"type":"subscribe","data":{"pair":"BTC/USDT"}}`)
	require.NoError(t, s.Send(payload))

	select {
	case frame := <-s.Frames():
		assert.JSONEq(t, string(payload), string(frame))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, core.StatusClosed, s.Status())
}

func TestSession_CloseDuringConnect(t *testing.T) {
	endpoint, srv, _ := startEchoServer(t)
	defer srv.Close()

	s := NewSession(Config{Reconnect: core.ReconnectConfig{Enabled: false}})
	require.NoError(t, s.Open(endpoint, "token"))

	// Close races the in-flight dial; it must terminate either way.
	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close hung while a dial was in flight")
	}
	assert.Equal(t, core.StatusClosed, s.Status())
}

func TestSession_ReopenReportsAttempt(t *testing.T) {
	endpoint, srv, es := startEchoServer(t)
	defer srv.Close()

	s := NewSession(Config{Reconnect: core.ReconnectConfig{
		Enabled:    true,
		BaseWait:   20 * time.Millisecond,
		MaxWait:    100 * time.Millisecond,
		Multiplier: 2.0,
	}})
	require.NoError(t, s.Open(endpoint, "token"))

	first := awaitStatus(t, s, core.StatusOpen)
	assert.Equal(t, 0, first.Attempt)

	// Drop the connection server-side; the session reconnects.
	es.dropAll()

	reopen := awaitStatus(t, s, core.StatusOpen)
	assert.GreaterOrEqual(t, reopen.Attempt, 1, "recovery open reports the attempt that succeeded")

	require.NoError(t, s.Close())
}

func TestSession_OpenAfterClose(t *testing.T) {
	s := NewSession(Config{})
	require.NoError(t, s.Close())

	err := s.Open("wss://exchange.example/ws", "token")
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestSession_Backoff(t *testing.T) {
	s := NewSession(Config{
		Reconnect: core.ReconnectConfig{
			Enabled:    true,
			BaseWait:   100 * time.Millisecond,
			MaxWait:    time.Second,
			Multiplier: 2.0,
		},
	})

	assert.Equal(t, 100*time.Millisecond, s.backoff(0))
	assert.Equal(t, 200*time.Millisecond, s.backoff(1))
	assert.Equal(t, 400*time.Millisecond, s.backoff(2))
	assert.Equal(t, 800*time.Millisecond, s.backoff(3))
	assert.Equal(t, time.Second, s.backoff(4), "capped at MaxWait")
	assert.Equal(t, time.Second, s.backoff(20), "stays at the cap")
}

func TestSession_BackoffJitterStaysInRange(t *testing.T) {
	s := NewSession(Config{
		Reconnect: core.ReconnectConfig{
			Enabled:    true,
			BaseWait:   100 * time.Millisecond,
			MaxWait:    time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
	})

	for i := 0; i < 50; i++ {
		wait := s.backoff(2)
		assert.GreaterOrEqual(t, wait, 200*time.Millisecond)
		assert.LessOrEqual(t, wait, 400*time.Millisecond)
	}
}

func TestState_Transitions(t *testing.T) {
	var state State
	state.Store(core.StatusClosed)

	assert.True(t, state.CompareAndSwap(core.StatusClosed, core.StatusConnecting))
	assert.False(t, state.CompareAndSwap(core.StatusClosed, core.StatusConnecting))
	assert.Equal(t, core.StatusConnecting, state.Load())

	state.Store(core.StatusOpen)
	assert.Equal(t, core.StatusOpen, state.Load())
}
