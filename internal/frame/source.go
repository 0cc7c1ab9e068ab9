package frame

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"gocv.io/x/gocv"
)

var (
	// ErrSourceUnavailable means the device or stream could not be opened.
	ErrSourceUnavailable = errors.New("video source unavailable")

	// ErrReadFailed means a single frame read failed. Callers should retry.
	ErrReadFailed = errors.New("frame read failed")
)

// Source yields frames from one open video handle.
type Source interface {
	// Read returns the next frame. Errors wrap ErrReadFailed.
	Read(ctx context.Context) (Frame, error)

	// Close releases the underlying device handle.
	Close() error
}

// Opener opens a Source for an identifier. The capture actor calls it once.
type Opener func(ctx context.Context, id string) (Source, error)

// OpenOptions controls how a source is opened.
type OpenOptions struct {
	// Attempts is the number of open attempts before giving up (default 1).
	Attempts uint
	// Delay is the pause between open attempts (default 1s).
	Delay time.Duration
}

// NewOpener returns an Opener backed by gocv.VideoCapture.
func NewOpener(opts OpenOptions) Opener {
	return func(ctx context.Context, id string) (Source, error) {
		return Open(ctx, id, opts)
	}
}

// Open opens a camera index (numeric id) or a stream URL / file path.
// Every failure wraps ErrSourceUnavailable.
func Open(ctx context.Context, id string, opts OpenOptions) (Source, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty source identifier", ErrSourceUnavailable)
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var vc *gocv.VideoCapture
	err := retry.Do(
		func() error {
			c, err := openCapture(id)
			if err != nil {
				if c != nil {
					c.Close()
				}
				return err
			}
			if !c.IsOpened() {
				c.Close()
				return fmt.Errorf("capture for %q did not open", id)
			}
			vc = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, id, err)
	}

	return &videoSource{id: id, capture: vc, buf: gocv.NewMat()}, nil
}

// openCapture picks the backend the same way for every platform:
// numeric ids are local camera indexes, anything else is a URL or path.
func openCapture(id string) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(id); err == nil {
		if runtime.GOOS == "linux" {
			return gocv.OpenVideoCaptureWithAPI(idx, gocv.VideoCaptureV4L2)
		}
		return gocv.OpenVideoCapture(idx)
	}
	return gocv.OpenVideoCapture(id)
}

// videoSource reads from a gocv.VideoCapture.
type videoSource struct {
	id      string
	mu      sync.Mutex
	capture *gocv.VideoCapture
	buf     gocv.Mat
	seq     uint64
	closed  bool
}

func (s *videoSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, fmt.Errorf("%w: source closed", ErrReadFailed)
	}
	if ok := s.capture.Read(&s.buf); !ok || s.buf.Empty() {
		return Frame{}, fmt.Errorf("%w: %s", ErrReadFailed, s.id)
	}

	s.seq++
	f, err := FromMat(s.buf, time.Now(), s.seq)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return f, nil
}

func (s *videoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Close()
	return s.capture.Close()
}
