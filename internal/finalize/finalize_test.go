package finalize

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"gocv.io/x/gocv"
)

func writeJPEG(t *testing.T, path string, value float64) {
	t.Helper()
	writeSizedJPEG(t, path, value, 30, 40)
}

func writeSizedJPEG(t *testing.T, path string, value float64, width, height int) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), height, width, gocv.MatTypeCV8UC3)
	defer img.Close()
	if ok := gocv.IMWrite(path, img); !ok {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

func TestPages_Order(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0010.jpg", "0002.jpg", "0001.jpg", "0002.txt", ".0003.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, ".work"), 0o755); err != nil {
		t.Fatal(err)
	}

	pages, err := Pages(dir)
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	want := []string{"0001.jpg", "0002.jpg", "0010.jpg"}
	if len(pages) != len(want) {
		t.Fatalf("Pages() = %v, want %v", pages, want)
	}
	for i, p := range pages {
		if filepath.Base(p) != want[i] {
			t.Errorf("page %d = %s, want %s", i, filepath.Base(p), want[i])
		}
	}
}

func TestAssemble_TwoPages(t *testing.T) {
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	os.MkdirAll(processed, 0o755)
	writeJPEG(t, filepath.Join(processed, "000001.jpg"), 60)
	writeJPEG(t, filepath.Join(processed, "000002.jpg"), 200)
	if err := os.WriteFile(filepath.Join(processed, "000001.txt"), []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}

	final := filepath.Join(root, "final", DocumentName)
	n, err := Assemble(processed, final)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if n != 2 {
		t.Errorf("pages = %d, want 2", n)
	}
	count, err := PageCount(final)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("document has %d pages, want 2", count)
	}

	// re-assembly after another page replaces, not appends
	writeJPEG(t, filepath.Join(processed, "000003.jpg"), 120)
	if _, err := Assemble(processed, final); err != nil {
		t.Fatalf("second Assemble() error = %v", err)
	}
	if count, _ := PageCount(final); count != 3 {
		t.Errorf("document has %d pages after re-finalize, want 3", count)
	}

	entries, _ := os.ReadDir(filepath.Dir(final))
	if len(entries) != 1 {
		t.Errorf("final dir has %d entries, want only %s", len(entries), DocumentName)
	}
}

func TestAssemble_Empty(t *testing.T) {
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	os.MkdirAll(processed, 0o755)
	final := filepath.Join(root, "final", DocumentName)

	n, err := Assemble(processed, final)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if n != 0 {
		t.Errorf("pages = %d, want 0", n)
	}
	count, err := PageCount(final)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("empty document has %d pages, want 0", count)
	}
}

func TestAssemble_PageOrder(t *testing.T) {
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	os.MkdirAll(processed, 0o755)

	// pages are sized by their image, so each page is identifiable
	writeSizedJPEG(t, filepath.Join(processed, "000002.jpg"), 200, 80, 50)
	writeSizedJPEG(t, filepath.Join(processed, "000001.jpg"), 60, 40, 60)
	writeSizedJPEG(t, filepath.Join(processed, "000010.jpg"), 120, 100, 30)

	final := filepath.Join(root, "final", DocumentName)
	if _, err := Assemble(processed, final); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	dims, err := api.PageDimsFile(final)
	if err != nil {
		t.Fatalf("PageDimsFile() error = %v", err)
	}
	want := []struct{ w, h float64 }{{40, 60}, {80, 50}, {100, 30}}
	if len(dims) != len(want) {
		t.Fatalf("document has %d pages, want %d", len(dims), len(want))
	}
	for i, d := range dims {
		if math.Abs(d.Width-want[i].w) > 0.5 || math.Abs(d.Height-want[i].h) > 0.5 {
			t.Errorf("page %d is %.0fx%.0f, want %.0fx%.0f", i+1, d.Width, d.Height, want[i].w, want[i].h)
		}
	}
}

func TestActor_TriggerAndRefire(t *testing.T) {
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	os.MkdirAll(processed, 0o755)
	writeJPEG(t, filepath.Join(processed, "000001.jpg"), 80)

	var mu sync.Mutex
	var hooked []int
	a := NewActor(Config{
		ProcessedDir: processed,
		FinalPath:    filepath.Join(root, "final", DocumentName),
		Hooks: []Hook{func(ctx context.Context, o Outcome) {
			mu.Lock()
			hooked = append(hooked, o.Pages)
			mu.Unlock()
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()

	o, err := a.Finalize(wctx)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if o.Generation != 1 || o.Pages != 1 {
		t.Errorf("first outcome = %+v", o)
	}

	writeJPEG(t, filepath.Join(processed, "000002.jpg"), 160)
	o, err = a.Finalize(wctx)
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}
	if o.Generation != 2 || o.Pages != 2 {
		t.Errorf("second outcome = %+v", o)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hooked) != 2 || hooked[1] != 2 {
		t.Errorf("hooks saw %v, want [1 2]", hooked)
	}
}

func TestActor_TriggerNeverBlocks(t *testing.T) {
	a := NewActor(Config{ProcessedDir: t.TempDir(), FinalPath: filepath.Join(t.TempDir(), DocumentName)})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked without a running actor")
	}
	if a.Last().Generation != 0 {
		t.Error("no run should have happened")
	}
}

func TestActor_FinalizeSkipsRunInFlight(t *testing.T) {
	root := t.TempDir()
	processed := filepath.Join(root, "processed")
	os.MkdirAll(processed, 0o755)
	writeJPEG(t, filepath.Join(processed, "000001.jpg"), 80)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	a := NewActor(Config{
		ProcessedDir: processed,
		FinalPath:    filepath.Join(root, "final", DocumentName),
		Hooks: []Hook{func(ctx context.Context, o Outcome) {
			once.Do(func() {
				close(entered)
				<-release
			})
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	// first run lists one page, then blocks in its hook
	a.Trigger()
	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first run did not start")
	}

	writeJPEG(t, filepath.Join(processed, "000002.jpg"), 160)

	type result struct {
		o   Outcome
		err error
	}
	got := make(chan result, 1)
	go func() {
		wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
		defer wcancel()
		o, err := a.Finalize(wctx)
		got <- result{o, err}
	}()

	// the request is queued once the signal is buffered
	deadline := time.Now().Add(5 * time.Second)
	for len(a.trigger) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Finalize did not signal the actor")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	r := <-got
	if r.err != nil {
		t.Fatalf("Finalize() error = %v", r.err)
	}
	if r.o.Generation != 2 || r.o.Pages != 2 {
		t.Errorf("Finalize() = %+v, want the second run with 2 pages", r.o)
	}
}
