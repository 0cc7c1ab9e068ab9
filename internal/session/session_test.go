package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/finalize"
	"github.com/jackzampolin/pagecam/internal/frame"
	"github.com/jackzampolin/pagecam/internal/home"
	"github.com/jackzampolin/pagecam/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) Close() {}

func (r *recordingNotifier) types(session string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, ev := range r.events {
		if ev.Session == session {
			out[ev.Type]++
		}
	}
	return out
}

type fakeExporter struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeExporter) Export(_ context.Context, session, path string) (string, error) {
	f.mu.Lock()
	f.paths = append(f.paths, session+":"+filepath.Base(path))
	f.mu.Unlock()
	return "s3://pagecam/" + session + "/" + filepath.Base(path), nil
}

// testSettings samples quickly and uses the motion strategy, which captures a
// constant scene exactly once.
func testSettings() Settings {
	s := DefaultSettings()
	s.Detection = detect.DefaultConfig(detect.KindMotion)
	s.SampleInterval = 10 * time.Millisecond
	s.RetryDelay = 10 * time.Millisecond
	s.RescanInterval = 100 * time.Millisecond
	s.OCR.Engine = "none"
	return s
}

func mockOpener(frames ...frame.Frame) frame.Opener {
	return func(ctx context.Context, id string) (frame.Source, error) {
		return frame.NewMockSource(frames...), nil
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	dir, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Home = dir
	if cfg.Settings.SampleInterval == 0 {
		cfg.Settings = testSettings()
	}
	if cfg.Open == nil {
		cfg.Open = mockOpener(frame.Solid(64, 48, 230, 1))
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"My Book", nil, "my_book_1"},
		{"My Book", []string{"my_book_1"}, "my_book_2"},
		{"My Book", []string{"my_book_1", "my_book_3"}, "my_book_4"},
		{"My Book", []string{"my_book_2"}, "my_book_3"},
		{"  Notes/../x ", nil, "notesx_1"},
		{"???", nil, "session_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.name, tt.existing); got != tt.want {
				t.Errorf("Slug(%q, %v) = %q, want %q", tt.name, tt.existing, got, tt.want)
			}
		})
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	m := Meta{
		ID:        "book_1",
		Name:      "Book",
		Source:    "0",
		OCR:       true,
		Strategy:  detect.KindROI,
		Detection: detect.DefaultConfig(detect.KindROI),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := WriteMeta(path, m); err != nil {
		t.Fatalf("WriteMeta() error = %v", err)
	}
	got, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta() error = %v", err)
	}
	if got.ID != m.ID || got.Strategy != m.Strategy || !got.CreatedAt.Equal(m.CreatedAt) || !got.OCR {
		t.Errorf("ReadMeta() = %+v, want %+v", got, m)
	}
}

func TestMeta_Invalid(t *testing.T) {
	t.Run("write rejects unknown strategy", func(t *testing.T) {
		m := Meta{ID: "x_1", Name: "x", Source: "0", Strategy: "sift", CreatedAt: time.Now()}
		if err := WriteMeta(filepath.Join(t.TempDir(), "meta.json"), m); err == nil {
			t.Error("WriteMeta() should reject an unknown strategy")
		}
	})

	t.Run("read rejects missing fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.json")
		if err := os.WriteFile(path, []byte(`{"name": "x"}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadMeta(path); err == nil {
			t.Error("ReadMeta() should reject incomplete meta")
		}
	})
}

func TestManager_StartValidation(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing name", StartRequest{Source: "0"}},
		{"missing source", StartRequest{Name: "book"}},
		{"unknown strategy", StartRequest{Name: "book", Source: "0", Strategy: "sift"}},
		{"bad thresholds", StartRequest{Name: "book", Source: "0", Detection: &detect.Config{
			Strategy: detect.KindContour, MinAreaRatio: 2,
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Start(ctx, tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Start() error = %v, want ErrInvalidRequest", err)
			}
		})
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("rejected requests left %d sessions behind", len(list))
	}
}

func TestManager_Lifecycle(t *testing.T) {
	rec := &recordingNotifier{}
	exp := &fakeExporter{}
	m := newTestManager(t, ManagerConfig{Notifier: rec, Exporter: exp})
	ctx := context.Background()

	st, err := m.Start(ctx, StartRequest{Name: "My Book", Source: "0", Description: "test"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.ID != "my_book_1" {
		t.Errorf("ID = %q, want my_book_1", st.ID)
	}
	if st.Strategy != detect.KindMotion {
		t.Errorf("Strategy = %q, want motion", st.Strategy)
	}
	if _, err := os.Stat(m.home.Session(st.ID).MetaPath()); err != nil {
		t.Errorf("meta.json not written: %v", err)
	}

	waitFor(t, "one processed page", func() bool {
		got, err := m.Get(st.ID)
		return err == nil && got.Processed == 1
	})

	f, ok, err := m.PreviewFrame(st.ID)
	if err != nil || !ok || f.Width() != 64 {
		t.Errorf("PreviewFrame() = %dx%d, %v, %v", f.Width(), f.Height(), ok, err)
	}
	if _, ok, err := m.PreviewRegion(st.ID); err != nil || !ok {
		t.Errorf("PreviewRegion() ok = %v, err = %v", ok, err)
	}

	if _, err := m.FinalDocument(st.ID); !errors.Is(err, ErrNoDocument) {
		t.Errorf("FinalDocument() before finalize error = %v, want ErrNoDocument", err)
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := m.Finalize(wctx, st.ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if out.Pages != 1 {
		t.Errorf("Pages = %d, want 1", out.Pages)
	}
	doc, err := m.FinalDocument(st.ID)
	if err != nil {
		t.Fatalf("FinalDocument() error = %v", err)
	}
	if n, err := finalize.PageCount(doc); err != nil || n != 1 {
		t.Errorf("document pages = %d, %v; want 1", n, err)
	}

	if err := m.Stop(st.ID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, "capture stopped", func() bool {
		got, _ := m.Get(st.ID)
		return got.State == "stopped"
	})

	// a second session with the same name gets the next slug
	st2, err := m.Start(ctx, StartRequest{Name: "My Book", Source: "0"})
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if st2.ID != "my_book_2" {
		t.Errorf("second ID = %q, want my_book_2", st2.ID)
	}

	if err := m.Close(st.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.TriggerFinalize(st.ID); !errors.Is(err, ErrInactive) {
		t.Errorf("TriggerFinalize() on closed session error = %v, want ErrInactive", err)
	}
	stored, err := m.Get(st.ID)
	if err != nil {
		t.Fatalf("Get() on closed session error = %v", err)
	}
	if stored.State != StateInactive || stored.Pages != 1 || stored.Document == "" {
		t.Errorf("stored status = %+v", stored)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "my_book_2" || list[1].ID != "my_book_1" {
		t.Errorf("List() = %v", ids(list))
	}

	waitFor(t, "notifications", func() bool {
		got := rec.types("my_book_1")
		return got[notify.EventCaptured] == 1 && got[notify.EventProcessed] == 1 && got[notify.EventFinalized] == 1
	})
	exp.mu.Lock()
	if len(exp.paths) != 1 || exp.paths[0] != "my_book_1:scan.pdf" {
		t.Errorf("exported %v", exp.paths)
	}
	exp.mu.Unlock()
}

func TestManager_SourceUnavailable(t *testing.T) {
	m := newTestManager(t, ManagerConfig{
		Open: func(ctx context.Context, id string) (frame.Source, error) {
			return nil, frame.ErrSourceUnavailable
		},
	})

	st, err := m.Start(context.Background(), StartRequest{Name: "broken", Source: "rtsp://nowhere"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "failed state", func() bool {
		got, _ := m.Get(st.ID)
		return got.State == "failed"
	})
	got, _ := m.Get(st.ID)
	if got.Captured != 0 || got.LastError == "" {
		t.Errorf("status = %+v", got)
	}
}

func TestManager_ROI(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	st, err := m.Start(context.Background(), StartRequest{Name: "roi", Source: "0", Strategy: detect.KindROI})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.SetROI(st.ID, detect.Rect{X: 0, Y: 0, Width: 0, Height: 10}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("SetROI(empty) error = %v, want ErrInvalidRequest", err)
	}
	if err := m.SetROI(st.ID, detect.Rect{X: 8, Y: 8, Width: 32, Height: 24}); err != nil {
		t.Fatalf("SetROI() error = %v", err)
	}
	waitFor(t, "roi region", func() bool {
		r, ok, _ := m.PreviewRegion(st.ID)
		return ok && len(r.Polygon) == 4
	})
	if err := m.SetROI("missing_1", detect.Rect{Width: 1, Height: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetROI(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManager_NotFound(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	for name, err := range map[string]error{
		"Stop":            m.Stop("nope"),
		"TriggerFinalize": m.TriggerFinalize("nope"),
		"Close":           m.Close("nope"),
	} {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s() error = %v, want ErrNotFound", name, err)
		}
	}
	if _, err := m.Get("../etc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(../etc) error = %v, want ErrNotFound", err)
	}
	if _, err := m.FinalDocument("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinalDocument() error = %v, want ErrNotFound", err)
	}
}

func ids(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestSession_EmitAfterClose(t *testing.T) {
	rec := &recordingNotifier{}
	s := &Session{meta: Meta{ID: "book_1"}, logger: slog.Default(), notifier: rec}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.emit(notify.Event{Type: notify.EventStopped})
		}()
	}
	s.drainNotifications()
	wg.Wait()

	before := rec.types("book_1")[notify.EventStopped]
	s.emit(notify.Event{Type: notify.EventStopped})
	s.drainNotifications()
	if got := rec.types("book_1")[notify.EventStopped]; got != before {
		t.Errorf("event delivered after close: %d -> %d", before, got)
	}
	if before > 20 {
		t.Errorf("delivered %d events, want at most 20", before)
	}
}
