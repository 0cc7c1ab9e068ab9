package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestWatcher_InitialScanAndEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "000002.jpg"))
	writeFile(t, filepath.Join(dir, "000001.jpg"))
	writeFile(t, filepath.Join(dir, ".tmp-abc.tmp"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	w, err := New(Config{Dir: dir, RescanInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// leftovers arrive in name order
	if got := next(t, w.Events()); filepath.Base(got) != "000001.jpg" {
		t.Errorf("first event = %s, want 000001.jpg", got)
	}
	if got := next(t, w.Events()); filepath.Base(got) != "000002.jpg" {
		t.Errorf("second event = %s, want 000002.jpg", got)
	}

	// atomic publish: temp file then rename
	tmp := filepath.Join(dir, ".pending.tmp")
	writeFile(t, tmp)
	if err := os.Rename(tmp, filepath.Join(dir, "000003.jpg")); err != nil {
		t.Fatal(err)
	}
	if got := next(t, w.Events()); filepath.Base(got) != "000003.jpg" {
		t.Errorf("third event = %s, want 000003.jpg", got)
	}
}

func TestWatcher_RescanRedeliversAfterDone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.jpg")
	writeFile(t, path)

	w, err := New(Config{Dir: dir, RescanInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if got := next(t, w.Events()); got != path {
		t.Fatalf("event = %s, want %s", got, path)
	}

	// still in flight: rescans must not duplicate it
	select {
	case p := <-w.Events():
		t.Fatalf("in-flight path re-emitted: %s", p)
	case <-time.After(100 * time.Millisecond):
	}
	if w.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", w.InFlight())
	}

	// released but still present (processing failed): delivered again
	w.Done(path)
	if got := next(t, w.Events()); got != path {
		t.Errorf("redelivered = %s, want %s", got, path)
	}
}

func TestWatcher_ClosesEventsOnCancel(t *testing.T) {
	w, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-w.Events(); ok {
		t.Error("Events channel not closed")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", ".hidden.jpg", "c.txt"} {
		writeFile(t, filepath.Join(dir, name))
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "a.jpg" || filepath.Base(got[1]) != "b.png" {
		t.Errorf("List() = %v, want [a.jpg b.png]", got)
	}

	if _, err := List(filepath.Join(dir, "missing")); err == nil {
		t.Error("List(missing) should fail")
	}
}
