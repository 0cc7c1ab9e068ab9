// Package watch reports image files appearing in a directory.
//
// Delivery is at-least-once: fsnotify events are the fast path, an initial
// scan picks up files left over from a previous run and a periodic rescan
// covers dropped events. A path is not emitted again while it is in flight;
// consumers call Done when they have finished with it.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// DefaultRescanInterval is how often the directory is listed as a fallback.
const DefaultRescanInterval = 2 * time.Second

// Config configures a Watcher.
type Config struct {
	Dir            string
	RescanInterval time.Duration
	Logger         *slog.Logger
	// Buffer is the Events channel capacity (default 64).
	Buffer int
}

// Watcher emits paths of image files created in Dir.
type Watcher struct {
	dir      string
	interval time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	events   chan string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New starts watching cfg.Dir. Run must be called to deliver events.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("watch: create %s: %w", cfg.Dir, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.RescanInterval
	if interval <= 0 {
		interval = DefaultRescanInterval
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		dir:      cfg.Dir,
		interval: interval,
		logger:   logger.With("watch", cfg.Dir),
		fsw:      fsw,
		events:   make(chan string, buffer),
		inflight: make(map[string]struct{}),
	}, nil
}

// Events returns the channel of new file paths. It is closed when Run returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run delivers events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	if !w.scan(ctx) {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !frame.IsImageFile(ev.Name) {
				continue
			}
			if !w.emit(ctx, ev.Name) {
				return nil
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			// overflow and similar: fall back to a listing
			w.logger.Warn("watch error, rescanning", "error", err)
			if !w.scan(ctx) {
				return nil
			}

		case <-ticker.C:
			if !w.scan(ctx) {
				return nil
			}
		}
	}
}

// Done releases path so it may be emitted again if it reappears.
func (w *Watcher) Done(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

// InFlight returns the number of emitted paths not yet marked Done.
func (w *Watcher) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// scan emits every image file in the directory in name order. It returns
// false when ctx ended.
func (w *Watcher) scan(ctx context.Context) bool {
	paths, err := List(w.dir)
	if err != nil {
		w.logger.Warn("rescan failed", "error", err)
		return ctx.Err() == nil
	}
	for _, p := range paths {
		if !w.emit(ctx, p) {
			return false
		}
	}
	return true
}

// emit sends path unless it is already in flight. It returns false when
// ctx ended before the send.
func (w *Watcher) emit(ctx context.Context, path string) bool {
	w.mu.Lock()
	if _, busy := w.inflight[path]; busy {
		w.mu.Unlock()
		return true
	}
	w.inflight[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.events <- path:
		w.logger.Debug("file ready", "path", path)
		return true
	case <-ctx.Done():
		w.Done(path)
		return false
	}
}

// List returns the image files in dir sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !frame.IsImageFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
