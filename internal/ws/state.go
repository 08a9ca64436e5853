package ws

import (
	"sync/atomic"

	"marketwire/pkg/core"
)

// State provides thread-safe atomic access to a core.SessionStatus value.
type State struct {
	state atomic.Int32
}

// Load returns the current session status.
func (s *State) Load() core.SessionStatus {
	return core.SessionStatus(s.state.Load())
}

// Store sets the session status to the given value.
func (s *State) Store(status core.SessionStatus) {
	s.state.Store(int32(status))
}

// CompareAndSwap atomically compares the current status with old and swaps
// to new if equal. It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new core.SessionStatus) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
