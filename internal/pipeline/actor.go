package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/watch"
)

// FailedPrefix marks raw files that never became decodable. The watcher
// ignores dotfiles so they are not retried.
const FailedPrefix = ".failed-"

// ActorConfig configures an Actor.
type ActorConfig struct {
	RawDir         string
	Pipeline       *Pipeline
	RescanInterval time.Duration
	// ReadyAttempts and ReadyDelay bound the wait for a raw file to decode.
	ReadyAttempts uint
	ReadyDelay    time.Duration
	Logger        *slog.Logger
	// OnProcessed is called after each published page.
	OnProcessed func(res *Result)
}

// ActorStats counts pipeline outcomes.
type ActorStats struct {
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	LastError  string `json:"last_error,omitempty"`
}

// Actor processes raw files as they appear.
type Actor struct {
	rawDir   string
	pipeline *Pipeline
	rescan   time.Duration
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
	onDone   func(*Result)

	mu    sync.Mutex
	stats ActorStats
}

// NewActor creates the pipeline actor.
func NewActor(cfg ActorConfig) (*Actor, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline actor: pipeline is required")
	}
	if cfg.RawDir == "" {
		return nil, fmt.Errorf("pipeline actor: raw dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyAttempts == 0 {
		cfg.ReadyAttempts = 10
	}
	if cfg.ReadyDelay <= 0 {
		cfg.ReadyDelay = 50 * time.Millisecond
	}

	return &Actor{
		rawDir:   cfg.RawDir,
		pipeline: cfg.Pipeline,
		rescan:   cfg.RescanInterval,
		attempts: cfg.ReadyAttempts,
		delay:    cfg.ReadyDelay,
		logger:   logger.With("actor", "pipeline"),
		onDone:   cfg.OnProcessed,
	}, nil
}

// Run watches the raw directory and processes files until ctx is done.
// Files already present when Run starts are processed first.
func (a *Actor) Run(ctx context.Context) error {
	w, err := watch.New(watch.Config{Dir: a.rawDir, RescanInterval: a.rescan, Logger: a.logger})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	a.logger.Info("pipeline started", "raw", a.rawDir, "stages", a.pipeline.StageNames())
	for path := range w.Events() {
		a.handle(ctx, path)
		w.Done(path)
	}
	wg.Wait()
	a.logger.Info("pipeline stopped", "processed", a.Stats().Processed)
	return nil
}

func (a *Actor) handle(ctx context.Context, path string) {
	if err := a.waitReady(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		a.fail(path, err)
		failed := filepath.Join(filepath.Dir(path), FailedPrefix+filepath.Base(path))
		if rerr := os.Rename(path, failed); rerr != nil {
			a.logger.Warn("could not set aside undecodable file", "path", path, "error", rerr)
		}
		return
	}

	res, err := a.pipeline.Run(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.fail(path, err)
		return
	}

	a.mu.Lock()
	if res.AlreadyProcessed {
		a.stats.Duplicates++
	} else {
		a.stats.Processed++
	}
	a.mu.Unlock()

	if a.onDone != nil && !res.AlreadyProcessed {
		a.onDone(res)
	}
}

// waitReady retries until path decodes as an image. A vanished file stops
// the wait immediately.
func (a *Actor) waitReady(ctx context.Context, path string) error {
	return retry.Do(
		func() error {
			if _, err := os.Stat(path); err != nil {
				return retry.Unrecoverable(err)
			}
			img := gocv.IMRead(path, gocv.IMReadUnchanged)
			defer img.Close()
			if img.Empty() {
				return fmt.Errorf("%s is not decodable yet", filepath.Base(path))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(a.attempts),
		retry.Delay(a.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (a *Actor) fail(path string, err error) {
	a.mu.Lock()
	a.stats.Failed++
	a.stats.LastError = err.Error()
	a.mu.Unlock()
	a.logger.Error("page processing failed", "path", path, "error", err)
}

// Stats returns a snapshot of the counters.
func (a *Actor) Stats() ActorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
