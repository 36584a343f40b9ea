package transport

import (
	"sync"

	"go.uber.org/atomic"
)

// Status is a liveness cell read by every relay without locking.
//
// A Status starts up. Once Down has been called it stays down; a reconnect
// gets a fresh Status.
type Status struct {
	alive atomic.Bool
	once  sync.Once
	done  chan struct{}
}

// NewStatus returns a Status that reports alive.
func NewStatus() *Status {
	s := &Status{done: make(chan struct{})}
	s.alive.Store(true)
	return s
}

// Alive reports whether Down has not been called yet.
func (s *Status) Alive() bool {
	if s == nil {
		return false
	}
	return s.alive.Load()
}

// Down marks the status dead and closes Done. It reports whether this call
// was the one that changed the state.
func (s *Status) Down() bool {
	changed := false
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.done)
		changed = true
	})
	return changed
}

// Done is closed once the status goes down.
func (s *Status) Done() <-chan struct{} {
	return s.done
}
