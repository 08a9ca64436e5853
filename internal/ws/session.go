package ws

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"marketwire/pkg/core"
)

// Config holds configuration options for a transport session.
type Config struct {
	// PingInterval is the duration between keepalive pings.
	PingInterval time.Duration
	// PongWait is the maximum wait for a pong before the connection is dead.
	PongWait time.Duration
	// FrameBuffer is the capacity of the inbound frame channel.
	FrameBuffer int
	// Reconnect is the policy applied after an unexpected close.
	Reconnect core.ReconnectConfig
}

// StateChange notifies a session state transition.
type StateChange struct {
	// Status is the state entered.
	Status core.SessionStatus
	// Attempt is the reconnect counter at the time of the transition.
	Attempt int
	// Err is the error that caused the transition, if any.
	Err error
}

// Session owns one physical duplex connection to the exchange and replaces
// it under the reconnect policy. Frames are delivered in receipt order on a
// single channel; state transitions on a second one. Sending while the
// session is not open fails with core.ErrSessionUnavailable.
type Session struct {
	config  Config
	state   *State
	handler *eventHandler
	logger  zerolog.Logger

	mu       sync.RWMutex
	conn     *gws.Conn
	endpoint string
	token    string
	attempt  int
	opened   bool

	frames   chan []byte
	states   chan StateChange
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type eventHandler struct {
	session *Session
}

// NewSession creates a transport session with the given configuration.
// Default values are applied for any zero-valued configuration fields.
func NewSession(config Config) *Session {
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.FrameBuffer == 0 {
		config.FrameBuffer = 256
	}
	if config.Reconnect.BaseWait == 0 {
		config.Reconnect.BaseWait = 1 * time.Second
	}
	if config.Reconnect.MaxWait == 0 {
		config.Reconnect.MaxWait = 30 * time.Second
	}
	if config.Reconnect.Multiplier < 1 {
		config.Reconnect.Multiplier = 2.0
	}

	s := &Session{
		config:   config,
		state:    &State{},
		frames:   make(chan []byte, config.FrameBuffer),
		states:   make(chan StateChange, 16),
		stopChan: make(chan struct{}),
		logger:   zerolog.Nop(),
	}
	s.state.Store(core.StatusClosed)
	s.handler = &eventHandler{session: s}
	return s
}

// SetLogger configures the logger for the session.
func (s *Session) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Open begins a connection attempt to the endpoint, authenticating with the
// bearer token. It is asynchronous: dial failures degrade into the reconnect
// policy instead of surfacing here. Only an invalid session state is
// reported synchronously. The token is held for replacement connections and
// never read from ambient state.
func (s *Session) Open(endpoint, token string) error {
	select {
	case <-s.stopChan:
		return core.ErrClientClosed
	default:
	}

	if !s.state.CompareAndSwap(core.StatusClosed, core.StatusConnecting) {
		current := s.state.Load()
		if current == core.StatusOpen || current == core.StatusConnecting {
			return nil
		}
		return fmt.Errorf("invalid state for open: %s", current)
	}

	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		s.state.Store(core.StatusClosed)
		return core.ErrClientClosed
	}
	s.opened = true
	s.endpoint = endpoint
	s.token = token
	s.attempt = 0
	s.mu.Unlock()

	s.pushState(StateChange{Status: core.StatusConnecting})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.dial(); err != nil {
			s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("initial dial failed")
			s.state.Store(core.StatusClosed)
			s.scheduleReconnect(err)
		}
	}()

	return nil
}

// Frames returns the channel carrying inbound frames in receipt order.
// The channel is closed after Close drains.
func (s *Session) Frames() <-chan []byte {
	return s.frames
}

// States returns the channel carrying session state transitions.
func (s *Session) States() <-chan StateChange {
	return s.states
}

// Status returns the current session status.
func (s *Session) Status() core.SessionStatus {
	return s.state.Load()
}

// IsOpen returns true if the session has an active connection.
func (s *Session) IsOpen() bool {
	return s.state.Load() == core.StatusOpen
}

// Send transmits a frame on the active connection. It fails with
// core.ErrSessionUnavailable unless the session is open; nothing is buffered.
func (s *Session) Send(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil || s.state.Load() != core.StatusOpen {
		return core.ErrSessionUnavailable
	}

	return s.conn.WriteMessage(gws.OpcodeText, data)
}

// Close cancels reconnection and shuts the session down. Frames already
// queued remain readable until the frame channel drains. Only the first
// call tears down; repeated calls are a no-op.
func (s *Session) Close() error {
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.state.Store(core.StatusClosing)
		close(s.stopChan)
	})
	if !first {
		return nil
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.NetConn().Close()
		s.conn = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.state.Store(core.StatusClosed)

	close(s.frames)
	close(s.states)
	return nil
}

func (s *Session) dial() error {
	s.mu.RLock()
	endpoint := s.endpoint
	token := s.token
	s.mu.RUnlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	socket, _, err := gws.NewClient(s.handler, &gws.ClientOption{
		Addr:          endpoint,
		RequestHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = socket
	s.mu.Unlock()

	// Shutdown may have begun while the dial was in flight; Close saw a
	// nil conn then, so the socket is ours to tear down.
	select {
	case <-s.stopChan:
		_ = socket.NetConn().Close()
		return nil
	default:
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		socket.ReadLoop()
	}()

	return nil
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	s := h.session

	// Close may have won the race against the dial; never resurrect a
	// session that is shutting down.
	if !s.state.CompareAndSwap(core.StatusConnecting, core.StatusOpen) {
		_ = socket.NetConn().Close()
		return
	}

	// The attempt counter at open time tells subscribers whether this is
	// a first connection or a recovery.
	s.mu.Lock()
	attempt := s.attempt
	s.attempt = 0
	endpoint := s.endpoint
	s.mu.Unlock()

	s.logger.Info().Str("endpoint", endpoint).Int("attempt", attempt).Msg("session open")
	s.pushState(StateChange{Status: core.StatusOpen, Attempt: attempt})

	_ = socket.SetDeadline(time.Now().Add(s.config.PingInterval + s.config.PongWait))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	s := h.session

	// Deliberate shutdown: Close already owns the transition.
	if s.state.Load() == core.StatusClosing {
		return
	}

	s.mu.RLock()
	endpoint := s.endpoint
	s.mu.RUnlock()

	s.state.Store(core.StatusClosed)
	s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("session disconnected")
	s.pushState(StateChange{Status: core.StatusClosed, Err: err})

	s.scheduleReconnect(err)
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.session.config.PingInterval + h.session.config.PongWait))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.session.config.PingInterval + h.session.config.PongWait))
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}

	// The message buffer is recycled after Close; frames outlive it.
	frame := make([]byte, len(data))
	copy(frame, data)

	// Blocking send keeps receipt order intact. The single ingestion
	// consumer never stalls for long: slow subscribers are shed at the
	// hub, not here.
	select {
	case h.session.frames <- frame:
	case <-h.session.stopChan:
	}
}

func (s *Session) scheduleReconnect(cause error) {
	if !s.config.Reconnect.Enabled {
		return
	}

	select {
	case <-s.stopChan:
		return
	default:
	}

	s.wg.Add(1)
	go s.reconnectLoop(cause)
}

func (s *Session) reconnectLoop(cause error) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		if s.config.Reconnect.MaxAttempts > 0 && attempt > s.config.Reconnect.MaxAttempts {
			s.logger.Error().
				Int("max_attempts", s.config.Reconnect.MaxAttempts).
				Msg("reconnect budget exhausted, abandoning connection")
			s.pushState(StateChange{
				Status:  core.StatusClosed,
				Attempt: attempt - 1,
				Err:     core.ErrConnectionAbandoned,
			})
			return
		}

		wait := s.backoff(attempt - 1)
		s.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempt).
			Msg("attempting reconnect")

		select {
		case <-time.After(wait):
		case <-s.stopChan:
			return
		}

		if !s.state.CompareAndSwap(core.StatusClosed, core.StatusConnecting) {
			return
		}
		s.pushState(StateChange{Status: core.StatusConnecting, Attempt: attempt, Err: cause})

		if err := s.dial(); err != nil {
			s.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			s.state.Store(core.StatusClosed)
			cause = err
			continue
		}

		return
	}
}

// backoff grows the wait exponentially with an optional full jitter so
// recovering clients do not retry in lockstep.
func (s *Session) backoff(attempt int) time.Duration {
	wait := s.config.Reconnect.BaseWait
	for i := 0; i < attempt; i++ {
		wait = time.Duration(float64(wait) * s.config.Reconnect.Multiplier)
		if wait >= s.config.Reconnect.MaxWait {
			wait = s.config.Reconnect.MaxWait
			break
		}
	}
	if s.config.Reconnect.Jitter && wait > 1 {
		half := wait / 2
		wait = half + time.Duration(rand.Int64N(int64(half)+1))
	}
	return wait
}

func (s *Session) pushState(change StateChange) {
	select {
	case s.states <- change:
	case <-s.stopChan:
	}
}
