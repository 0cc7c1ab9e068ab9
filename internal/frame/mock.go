package frame

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// MockSource is a Source for testing. It replays Frames in order and then
// repeats the last one (or fails every read when FailReads is set).
type MockSource struct {
	Frames    []Frame
	FailReads bool
	// FailEvery makes every Nth read fail with ErrReadFailed (0 = never).
	FailEvery int

	mu     sync.Mutex
	reads  int
	closed atomic.Bool
}

// NewMockSource returns a MockSource replaying frames.
func NewMockSource(frames ...Frame) *MockSource {
	return &MockSource{Frames: frames}
}

// Read returns the next scripted frame.
func (s *MockSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.FailReads || len(s.Frames) == 0 {
		return Frame{}, fmt.Errorf("%w: mock", ErrReadFailed)
	}
	if s.FailEvery > 0 && s.reads%s.FailEvery == 0 {
		return Frame{}, fmt.Errorf("%w: mock read %d", ErrReadFailed, s.reads)
	}

	idx := s.reads - 1
	if idx >= len(s.Frames) {
		idx = len(s.Frames) - 1
	}
	return s.Frames[idx].Clone(), nil
}

// Close marks the source closed.
func (s *MockSource) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *MockSource) Closed() bool {
	return s.closed.Load()
}

// Reads returns the number of Read calls.
func (s *MockSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Solid returns a BGR frame of the given size filled with one gray value.
func Solid(width, height int, value byte, seq uint64) Frame {
	data := make([]byte, width*height*3)
	for i := range data {
		data[i] = value
	}
	return New(data, width, height, gocv.MatTypeCV8UC3, time.Now(), seq)
}
