// Package session wires one capture, pipeline and finalize actor per
// scanning run and keeps the process-wide registry of running sessions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackzampolin/pagecam/internal/capture"
	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/finalize"
	"github.com/jackzampolin/pagecam/internal/home"
	"github.com/jackzampolin/pagecam/internal/notify"
	"github.com/jackzampolin/pagecam/internal/pipeline"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidRequest is returned for malformed start requests.
	ErrInvalidRequest = errors.New("invalid session request")

	// ErrInactive is returned when a stored session has no running actors.
	ErrInactive = errors.New("session is not active")

	// ErrNoDocument is returned before the first finalize.
	ErrNoDocument = errors.New("no final document yet")
)

// StateInactive marks a session found on disk without running actors.
const StateInactive = "inactive"

// Status is a point-in-time view of a session.
type Status struct {
	Meta
	State     string    `json:"state"`
	Captured  int       `json:"captured"`
	Processed int       `json:"processed"`
	Pages     int       `json:"pages"`
	Finalized time.Time `json:"finalized,omitempty"`
	Document  string    `json:"document,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Session is one running scan.
type Session struct {
	meta   Meta
	dir    home.SessionDir
	roi    *detect.ROI
	logger *slog.Logger

	capture  *capture.Actor
	pipeline *pipeline.Actor
	finalize *finalize.Actor
	notifier notify.Notifier

	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyMu     sync.Mutex
	notifyClosed bool
	notifyWG     sync.WaitGroup
}

// ID returns the session slug.
func (s *Session) ID() string { return s.meta.ID }

// Meta returns the persisted description.
func (s *Session) Meta() Meta { return s.meta }

// start launches the three actor goroutines.
func (s *Session) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.capture.Run(ctx); err != nil {
			s.logger.Error("capture actor exited", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.pipeline.Run(ctx); err != nil {
			s.logger.Error("pipeline actor exited", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.finalize.Run(ctx)
	}()
}

// close stops every actor and waits for them to exit.
func (s *Session) close() {
	s.capture.Stop()
	s.cancel()
	s.wg.Wait()
	s.drainNotifications()
	s.logger.Info("session closed")
}

// drainNotifications waits for in-flight events. Events emitted afterwards
// are dropped.
func (s *Session) drainNotifications() {
	s.notifyMu.Lock()
	s.notifyClosed = true
	s.notifyMu.Unlock()
	s.notifyWG.Wait()
}

// emit publishes ev without blocking the caller. It is safe to call from
// any goroutine, including after close.
func (s *Session) emit(ev notify.Event) {
	ev.Session = s.meta.ID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	s.notifyMu.Lock()
	if s.notifyClosed {
		s.notifyMu.Unlock()
		s.logger.Debug("event dropped after close", "event", ev.Type)
		return
	}
	s.notifyWG.Add(1)
	s.notifyMu.Unlock()

	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("notify failed", "event", ev.Type, "error", err)
		}
	}()
}

// Status builds the current status.
func (s *Session) Status() Status {
	cs := s.capture.Stats()
	ps := s.pipeline.Stats()
	last := s.finalize.Last()

	st := Status{
		Meta:      s.meta,
		State:     string(cs.State),
		Captured:  cs.Captured,
		Processed: ps.Processed,
		Pages:     last.Pages,
		Finalized: last.At,
		LastError: cs.LastError,
	}
	if st.LastError == "" {
		st.LastError = ps.LastError
	}
	if last.Err != nil {
		st.LastError = last.Err.Error()
	}
	if path := s.dir.FinalPath(finalize.DocumentName); fileExists(path) {
		st.Document = path
	}
	return st
}

// storedStatus describes a session that exists only on disk.
func storedStatus(dir home.SessionDir, m Meta) Status {
	st := Status{Meta: m, State: StateInactive}
	path := dir.FinalPath(finalize.DocumentName)
	if fileExists(path) {
		st.Document = path
		if n, err := finalize.PageCount(path); err == nil {
			st.Pages = n
		}
	}
	if pages, err := finalize.Pages(dir.ProcessedDir()); err == nil {
		st.Processed = len(pages)
	}
	return st
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
