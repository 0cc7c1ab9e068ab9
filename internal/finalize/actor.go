// Package finalize assembles processed page images into the session PDF.
//
// The Actor waits on a re-armable one-shot signal. Each signal rebuilds the
// document from whatever is in the processed directory at that moment, so
// firing it again after more pages arrive overwrites the earlier document.
package finalize

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DocumentName is the file name of the assembled document.
const DocumentName = "scan.pdf"

// Outcome describes one finalize run.
type Outcome struct {
	Generation uint64    `json:"generation"`
	Path       string    `json:"path"`
	Pages      int       `json:"pages"`
	At         time.Time `json:"at"`
	Err        error     `json:"-"`

	// requests made before the run started
	covers uint64
}

// Hook runs after each successful finalize (export, notify).
type Hook func(ctx context.Context, o Outcome)

// Config configures an Actor.
type Config struct {
	ProcessedDir string
	FinalPath    string
	Logger       *slog.Logger
	Hooks        []Hook
}

// Actor rebuilds the final document whenever it is triggered.
type Actor struct {
	processedDir string
	finalPath    string
	logger       *slog.Logger
	hooks        []Hook

	trigger chan struct{}

	mu        sync.Mutex
	requested uint64
	last      Outcome
	changed   chan struct{}
}

// NewActor creates the finalize actor.
func NewActor(cfg Config) *Actor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		processedDir: cfg.ProcessedDir,
		finalPath:    cfg.FinalPath,
		logger:       logger.With("actor", "finalize"),
		hooks:        cfg.Hooks,
		trigger:      make(chan struct{}, 1),
		changed:      make(chan struct{}),
	}
}

// Trigger requests a finalize. It never blocks; signals that arrive while
// one is already pending collapse into it.
func (a *Actor) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Run waits for signals until ctx is done.
func (a *Actor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.trigger:
			a.finalize(ctx)
		}
	}
}

func (a *Actor) finalize(ctx context.Context) {
	a.mu.Lock()
	covers := a.requested
	a.mu.Unlock()

	start := time.Now()
	pages, err := Assemble(a.processedDir, a.finalPath)

	o := Outcome{
		Generation: a.Last().Generation + 1,
		Path:       a.finalPath,
		Pages:      pages,
		At:         time.Now(),
		Err:        err,
		covers:     covers,
	}

	if err != nil {
		a.logger.Error("finalize failed", "error", err)
	} else {
		a.logger.Info("document written", "path", a.finalPath, "pages", pages, "duration", time.Since(start))
		// hooks complete before waiters are released
		for _, h := range a.hooks {
			h(ctx, o)
		}
	}

	a.mu.Lock()
	a.last = o
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
}

// Last returns the most recent outcome (Generation 0 if none yet).
func (a *Actor) Last() Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Done returns a channel closed when the next finalize completes.
func (a *Actor) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changed
}

// Finalize triggers a run and waits for one that started after the call,
// so a run already in flight does not count.
func (a *Actor) Finalize(ctx context.Context) (Outcome, error) {
	a.mu.Lock()
	a.requested++
	want := a.requested
	done := a.changed
	a.mu.Unlock()

	a.Trigger()
	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-done:
		}
		a.mu.Lock()
		o := a.last
		done = a.changed
		a.mu.Unlock()
		if o.covers >= want {
			return o, o.Err
		}
	}
}
