// Package capture runs the per-session capture loop: it samples frames from
// a video source, asks a detection strategy what it sees, decides whether to
// keep the frame and writes accepted frames to raw storage.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/frame"
)

// State is the lifecycle state of a capture actor.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Default timings.
const (
	DefaultSampleInterval = 100 * time.Millisecond
	DefaultRetryDelay     = 100 * time.Millisecond
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("capture actor already started")

// Config configures an Actor.
type Config struct {
	// SourceID is a camera index or stream URL.
	SourceID string
	// Open opens the source. Defaults to frame.NewOpener with one attempt.
	Open frame.Opener
	// Strategy evaluates frames. The actor closes it on exit.
	Strategy detect.Strategy
	// Decider defaults to NewDecider(Strategy policy, Cooldown).
	Decider  Decider
	Cooldown time.Duration
	Store    Store

	SampleInterval time.Duration
	RetryDelay     time.Duration
	Logger         *slog.Logger

	// OnCapture is called after each saved capture.
	OnCapture func(path string)
}

// Stats is a snapshot of actor counters.
type Stats struct {
	State       State     `json:"state"`
	Frames      uint64    `json:"frames"`
	ReadErrors  uint64    `json:"read_errors"`
	Captured    int       `json:"captured"`
	LastCapture time.Time `json:"last_capture,omitempty"`
	LastPath    string    `json:"last_path,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Actor owns one source handle and one strategy.
type Actor struct {
	sourceID string
	open     frame.Opener
	strategy detect.Strategy
	decider  Decider
	store    Store
	interval time.Duration
	retry    time.Duration
	logger   *slog.Logger
	onCap    func(string)
	now      func() time.Time

	frames  *Slot[frame.Frame]
	regions *Slot[detect.Region]

	started  atomic.Bool
	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// NewActor validates cfg and returns an Actor ready to Run.
func NewActor(cfg Config) (*Actor, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("capture: strategy is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("capture: store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := cfg.Open
	if open == nil {
		open = frame.NewOpener(frame.OpenOptions{})
	}
	decider := cfg.Decider
	if decider == nil {
		decider = NewDecider(cfg.Strategy.Kind().Policy(), cfg.Cooldown)
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return &Actor{
		sourceID: cfg.SourceID,
		open:     open,
		strategy: cfg.Strategy,
		decider:  decider,
		store:    cfg.Store,
		interval: interval,
		retry:    retryDelay,
		logger:   logger.With("actor", "capture", "strategy", cfg.Strategy.Kind()),
		onCap:    cfg.OnCapture,
		now:      time.Now,
		frames:   NewSlot(frame.Frame.Clone),
		regions:  NewSlot(detect.Region.Clone),
		stopCh:   make(chan struct{}),
		stats:    Stats{State: StatePending},
	}, nil
}

// Run opens the source and samples it until Stop is called or ctx is done.
// An unavailable source is fatal: Run returns the error and nothing is captured.
func (a *Actor) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer a.strategy.Close()

	src, err := a.open(ctx, a.sourceID)
	if err != nil {
		a.finish(StateFailed, err)
		a.logger.Error("capture source unavailable", "source", a.sourceID, "error", err)
		return err
	}
	defer src.Close()

	a.setState(StateRunning)
	a.logger.Info("capture started", "source", a.sourceID, "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if a.stopping.Load() {
			break
		}
		select {
		case <-ctx.Done():
		case <-a.stopCh:
		case <-ticker.C:
			a.step(ctx, src)
			continue
		}
		break
	}

	a.finish(StateStopped, nil)
	a.logger.Info("capture stopped", "captured", a.Stats().Captured)
	return nil
}

// step runs one read-observe-decide iteration.
func (a *Actor) step(ctx context.Context, src frame.Source) {
	f, err := src.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.mu.Lock()
		a.stats.ReadErrors++
		a.stats.LastError = err.Error()
		a.mu.Unlock()
		a.logger.Warn("frame read failed", "error", err)
		a.pause(ctx)
		return
	}

	a.mu.Lock()
	a.stats.Frames++
	a.mu.Unlock()
	a.frames.Store(f)

	obs, err := a.strategy.Observe(f)
	if err != nil {
		a.logger.Warn("observe failed", "seq", f.Seq(), "error", err)
		return
	}
	a.regions.Store(obs.Region)

	now := a.now()
	if !a.decider.Decide(obs, now) {
		return
	}

	path, err := a.store.Save(f)
	if err != nil {
		a.mu.Lock()
		a.stats.LastError = err.Error()
		a.mu.Unlock()
		a.logger.Error("save capture failed", "seq", f.Seq(), "error", err)
		return
	}

	a.strategy.Commit()
	a.decider.Captured(now)

	a.mu.Lock()
	a.stats.Captured++
	a.stats.LastCapture = now
	a.stats.LastPath = path
	a.mu.Unlock()

	a.logger.Info("page captured", "path", path, "seq", f.Seq(), "score", obs.Score)
	if a.onCap != nil {
		a.onCap(path)
	}
}

// pause sleeps for the retry delay unless stopped first.
func (a *Actor) pause(ctx context.Context) {
	t := time.NewTimer(a.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-a.stopCh:
	case <-t.C:
	}
}

// Stop asks the loop to exit. It returns immediately; Run releases the
// device on its way out.
func (a *Actor) Stop() {
	a.stopping.Store(true)
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Frame returns a copy of the most recent frame.
func (a *Actor) Frame() (frame.Frame, bool) {
	return a.frames.Load()
}

// Region returns a copy of the most recent detected region.
func (a *Actor) Region() (detect.Region, bool) {
	return a.regions.Load()
}

// Stats returns a snapshot of the actor counters.
func (a *Actor) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Actor) setState(s State) {
	a.mu.Lock()
	a.stats.State = s
	a.mu.Unlock()
}

func (a *Actor) finish(s State, err error) {
	a.mu.Lock()
	a.stats.State = s
	if err != nil {
		a.stats.LastError = err.Error()
	}
	a.mu.Unlock()
}
