package capture

import "sync"

// Slot holds the latest value of T for concurrent readers. Values are cloned
// on the way in and on the way out so neither side can alias the other.
type Slot[T any] struct {
	mu    sync.Mutex
	val   T
	ok    bool
	clone func(T) T
}

// NewSlot creates an empty slot using clone to copy values.
func NewSlot[T any](clone func(T) T) *Slot[T] {
	return &Slot[T]{clone: clone}
}

// Store replaces the held value with a copy of v.
func (s *Slot[T]) Store(v T) {
	cp := s.clone(v)
	s.mu.Lock()
	s.val = cp
	s.ok = true
	s.mu.Unlock()
}

// Load returns a copy of the held value and whether one was stored.
func (s *Slot[T]) Load() (T, bool) {
	s.mu.Lock()
	v, ok := s.val, s.ok
	s.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	return s.clone(v), true
}
