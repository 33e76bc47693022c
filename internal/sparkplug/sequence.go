package sparkplug

import "sync"

// Sequence allocates the per-connection outbound message sequence number.
// Values run 0-255 inclusive and wrap back to 0, so consumers can detect
// message loss and reordering.
type Sequence struct {
	mu      sync.Mutex
	counter uint8
}

// Next returns the current sequence number and advances the counter.
// The uint8 counter wraps from 255 back to 0 automatically.
func (s *Sequence) Next() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.counter
	s.counter++
	return current
}

// Reset restarts the counter at zero. Called when a new session begins,
// since sequence numbers are scoped to one connection.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = 0
}
