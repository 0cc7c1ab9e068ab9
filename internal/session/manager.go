package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/pagecam/internal/capture"
	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/finalize"
	"github.com/jackzampolin/pagecam/internal/frame"
	"github.com/jackzampolin/pagecam/internal/home"
	"github.com/jackzampolin/pagecam/internal/notify"
	"github.com/jackzampolin/pagecam/internal/ocr"
	"github.com/jackzampolin/pagecam/internal/pipeline"
)

// Settings are the defaults applied to new sessions.
type Settings struct {
	Detection      detect.Config
	SampleInterval time.Duration
	RetryDelay     time.Duration
	OpenAttempts   uint
	JPEGQuality    int
	Contrast       float64
	Brightness     float64
	RescanInterval time.Duration
	OCR            ocr.Config
}

// DefaultSettings mirrors the built-in configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Detection:      detect.DefaultConfig(detect.KindContour),
		SampleInterval: capture.DefaultSampleInterval,
		RetryDelay:     capture.DefaultRetryDelay,
		OpenAttempts:   1,
		JPEGQuality:    95,
		Contrast:       1.2,
		Brightness:     1.1,
		RescanInterval: 2 * time.Second,
		OCR:            ocr.Config{Engine: ocr.EngineTesseract},
	}
}

// Exporter uploads a finished document and returns where it went.
type Exporter interface {
	Export(ctx context.Context, session, path string) (string, error)
}

// StartRequest describes a new session.
type StartRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Source      string         `json:"source"`
	OCR         bool           `json:"ocr"`
	Strategy    detect.Kind    `json:"strategy,omitempty"`  // shorthand for Detection.Strategy
	Detection   *detect.Config `json:"detection,omitempty"` // nil uses the configured defaults
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Home     *home.Dir
	Settings Settings
	// Open overrides how sources are opened (tests).
	Open     frame.Opener
	Notifier notify.Notifier
	Exporter Exporter
	Logger   *slog.Logger
}

// Manager is the process-wide registry of sessions.
type Manager struct {
	home     *home.Dir
	open     frame.Opener
	notifier notify.Notifier
	exporter Exporter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	settings Settings
	sessions map[string]*Session
}

// NewManager creates the registry and the sessions directory.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Home == nil {
		return nil, fmt.Errorf("session manager: home is required")
	}
	if err := cfg.Home.EnsureExists(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		home:     cfg.Home,
		open:     cfg.Open,
		notifier: notifier,
		exporter: cfg.Exporter,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		settings: cfg.Settings,
		sessions: make(map[string]*Session),
	}, nil
}

// SetSettings replaces the defaults for sessions started afterwards.
func (m *Manager) SetSettings(s Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

// Settings returns the current defaults.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (r StartRequest) detection(defaults detect.Config) (detect.Config, error) {
	cfg := defaults
	if r.Detection != nil {
		cfg = *r.Detection
	}
	if r.Strategy != "" {
		kind, err := detect.ParseKind(string(r.Strategy))
		if err != nil {
			return detect.Config{}, err
		}
		if kind != cfg.Strategy {
			// thresholds tuned for another strategy do not carry over
			cfg = detect.Config{Strategy: kind, ROI: cfg.ROI}
		}
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// Start creates the session directories and metadata and launches its
// actors. The session outlives ctx; it runs until Stop/Close/Shutdown.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Status, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Status{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Source) == "" {
		return Status{}, fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	settings := m.settings
	det, err := req.detection(settings.Detection)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	existing, err := m.storedIDs()
	if err != nil {
		return Status{}, err
	}
	for id := range m.sessions {
		existing = append(existing, id)
	}
	id := Slug(req.Name, existing)

	dir := m.home.Session(id)
	if err := dir.Ensure(); err != nil {
		return Status{}, err
	}
	meta := Meta{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Source:      req.Source,
		OCR:         req.OCR,
		Strategy:    det.Strategy,
		Detection:   det,
		CreatedAt:   time.Now().UTC(),
	}
	if err := WriteMeta(dir.MetaPath(), meta); err != nil {
		return Status{}, err
	}

	s, err := m.build(meta, dir, settings)
	if err != nil {
		os.RemoveAll(dir.Path())
		return Status{}, err
	}
	s.start(m.ctx)
	m.sessions[id] = s

	s.logger.Info("session started", "source", req.Source, "strategy", det.Strategy, "ocr", req.OCR)
	return s.Status(), nil
}

// build assembles the actors of one session.
func (m *Manager) build(meta Meta, dir home.SessionDir, settings Settings) (*Session, error) {
	logger := m.logger.With("session", meta.ID)
	s := &Session{
		meta:     meta,
		dir:      dir,
		roi:      detect.NewROI(meta.Detection.ROI),
		logger:   logger,
		notifier: m.notifier,
	}

	strategy, err := detect.New(meta.Detection, s.roi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	store, err := capture.NewFileStore(dir.RawDir(), settings.JPEGQuality, dir.ProcessedDir())
	if err != nil {
		strategy.Close()
		return nil, err
	}

	open := m.open
	if open == nil {
		open = frame.NewOpener(frame.OpenOptions{Attempts: settings.OpenAttempts})
	}

	s.capture, err = capture.NewActor(capture.Config{
		SourceID:       meta.Source,
		Open:           open,
		Strategy:       strategy,
		Cooldown:       meta.Detection.Cooldown,
		Store:          store,
		SampleInterval: settings.SampleInterval,
		RetryDelay:     settings.RetryDelay,
		Logger:         logger,
		OnCapture: func(path string) {
			s.emit(notify.Event{Type: notify.EventCaptured, Path: path})
		},
	})
	if err != nil {
		strategy.Close()
		return nil, err
	}

	var engine ocr.Engine
	if meta.OCR {
		engine, err = ocr.New(settings.OCR)
		if err != nil {
			strategy.Close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	p, err := pipeline.New(pipeline.Config{
		ProcessedDir: dir.ProcessedDir(),
		OCR:          engine,
		Contrast:     settings.Contrast,
		Brightness:   settings.Brightness,
		Logger:       logger,
	})
	if err != nil {
		strategy.Close()
		return nil, err
	}
	s.pipeline, err = pipeline.NewActor(pipeline.ActorConfig{
		RawDir:         dir.RawDir(),
		Pipeline:       p,
		RescanInterval: settings.RescanInterval,
		Logger:         logger,
		OnProcessed: func(res *pipeline.Result) {
			s.emit(notify.Event{Type: notify.EventProcessed, Path: res.Path})
		},
	})
	if err != nil {
		strategy.Close()
		return nil, err
	}

	hooks := []finalize.Hook{}
	if m.exporter != nil {
		exporter := m.exporter
		hooks = append(hooks, func(ctx context.Context, o finalize.Outcome) {
			url, err := exporter.Export(ctx, meta.ID, o.Path)
			if err != nil {
				logger.Warn("export failed", "path", o.Path, "error", err)
				s.emit(notify.Event{Type: notify.EventFinalized, Path: o.Path, Pages: o.Pages})
				return
			}
			s.emit(notify.Event{Type: notify.EventFinalized, Path: o.Path, Pages: o.Pages, URL: url})
		})
	} else {
		hooks = append(hooks, func(_ context.Context, o finalize.Outcome) {
			s.emit(notify.Event{Type: notify.EventFinalized, Path: o.Path, Pages: o.Pages})
		})
	}
	s.finalize = finalize.NewActor(finalize.Config{
		ProcessedDir: dir.ProcessedDir(),
		FinalPath:    dir.FinalPath(finalize.DocumentName),
		Logger:       logger,
		Hooks:        hooks,
	})

	return s, nil
}

// active returns a running session or ErrNotFound/ErrInactive.
func (m *Manager) active(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	if validID(id) && m.home.Session(id).Exists() {
		return nil, fmt.Errorf("%w: %s", ErrInactive, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Stop halts capturing. Processing of pages already captured continues and
// the session can still be finalized.
func (m *Manager) Stop(id string) error {
	s, err := m.active(id)
	if err != nil {
		return err
	}
	s.capture.Stop()
	s.emit(notify.Event{Type: notify.EventStopped})
	return nil
}

// SetROI replaces the region of interest used by the roi strategy.
func (m *Manager) SetROI(id string, rect detect.Rect) error {
	if !rect.Valid() {
		return fmt.Errorf("%w: roi must have positive size", ErrInvalidRequest)
	}
	s, err := m.active(id)
	if err != nil {
		return err
	}
	s.roi.Set(rect)
	return nil
}

// PreviewFrame returns a copy of the most recent frame.
func (m *Manager) PreviewFrame(id string) (frame.Frame, bool, error) {
	s, err := m.active(id)
	if err != nil {
		return frame.Frame{}, false, err
	}
	f, ok := s.capture.Frame()
	return f, ok, nil
}

// PreviewRegion returns a copy of the most recent detected region.
func (m *Manager) PreviewRegion(id string) (detect.Region, bool, error) {
	s, err := m.active(id)
	if err != nil {
		return detect.Region{}, false, err
	}
	r, ok := s.capture.Region()
	return r, ok, nil
}

// TriggerFinalize signals the finalize actor without waiting.
func (m *Manager) TriggerFinalize(id string) error {
	s, err := m.active(id)
	if err != nil {
		return err
	}
	s.finalize.Trigger()
	return nil
}

// Finalize signals the finalize actor and waits for the document.
func (m *Manager) Finalize(ctx context.Context, id string) (finalize.Outcome, error) {
	s, err := m.active(id)
	if err != nil {
		return finalize.Outcome{}, err
	}
	return s.finalize.Finalize(ctx)
}

// FinalDocument returns the path of the session's document.
func (m *Manager) FinalDocument(id string) (string, error) {
	dir := m.home.Session(id)
	if !validID(id) || !dir.Exists() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	path := dir.FinalPath(finalize.DocumentName)
	if !fileExists(path) {
		return "", ErrNoDocument
	}
	return path, nil
}

// Get returns the status of a running or stored session.
func (m *Manager) Get(id string) (Status, error) {
	s, err := m.active(id)
	if err == nil {
		return s.Status(), nil
	}
	if !errors.Is(err, ErrInactive) {
		return Status{}, err
	}
	dir := m.home.Session(id)
	meta, err := ReadMeta(dir.MetaPath())
	if err != nil {
		return Status{}, fmt.Errorf("%w: %s: %v", ErrNotFound, id, err)
	}
	return storedStatus(dir, meta), nil
}

// List returns running sessions followed by stored ones, newest first
// within each group.
func (m *Manager) List() ([]Status, error) {
	m.mu.Lock()
	running := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		running = append(running, s)
	}
	m.mu.Unlock()

	var active, stored []Status
	seen := make(map[string]bool)
	for _, s := range running {
		active = append(active, s.Status())
		seen[s.ID()] = true
	}

	ids, err := m.storedIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		dir := m.home.Session(id)
		meta, err := ReadMeta(dir.MetaPath())
		if err != nil {
			m.logger.Debug("skipping session without valid meta", "id", id, "error", err)
			continue
		}
		stored = append(stored, storedStatus(dir, meta))
	}

	byNewest := func(list []Status) {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	byNewest(active)
	byNewest(stored)
	return append(active, stored...), nil
}

// Close stops a session's actors and waits for them. Its files remain.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.close()
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.close()
	}
	m.logger.Info("session manager shut down", "closed", len(sessions))
}

// storedIDs lists session directories on disk.
func (m *Manager) storedIDs() ([]string, error) {
	entries, err := os.ReadDir(m.home.SessionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// validID rejects ids that would escape the sessions directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}
