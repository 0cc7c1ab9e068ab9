package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/ocr"
)

// fakeEngine returns fixed text or error.
type fakeEngine struct {
	text  string
	err   error
	calls int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, img []byte) (*ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text}, nil
}

// writePage writes a w x h image of background value bg with an optional
// filled black block.
func writePage(t *testing.T, path string, w, h int, bg float64, block image.Rectangle) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(bg, bg, bg, 0), h, w, gocv.MatTypeCV8UC3)
	defer img.Close()
	if !block.Empty() {
		gocv.Rectangle(&img, block, color.RGBA{}, -1)
	}
	if ok := gocv.IMWrite(path, img); !ok {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

func readSize(t *testing.T, path string) (int, int) {
	t.Helper()
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		t.Fatalf("cannot read %s", path)
	}
	return img.Cols(), img.Rows()
}

func sessionDirs(t *testing.T) (raw, processed string) {
	t.Helper()
	root := t.TempDir()
	raw = filepath.Join(root, "raw")
	processed = filepath.Join(root, "processed")
	for _, d := range []string{raw, processed} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return raw, processed
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 0},
		{89, -1},
		{1, 1},
		{45, 45},
		{-1, -1},
		{-89, 1},
		{-90, 0},
		{-45, 45},
	}
	for _, tt := range tests {
		if got := normalizeAngle(tt.in); got != tt.want {
			t.Errorf("normalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCrop_Process(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000001.jpg")
	writePage(t, src, 200, 150, 255, image.Rect(50, 50, 150, 100))

	a := Artifact{Name: "000001.jpg", Path: src, WorkDir: filepath.Join(dir, WorkDirName)}
	out, err := Crop{}.Process(context.Background(), a)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Path != a.WorkPath() {
		t.Errorf("output path = %s, want %s", out.Path, a.WorkPath())
	}
	w, h := readSize(t, out.Path)
	if w < 95 || w > 105 || h < 45 || h > 55 {
		t.Errorf("cropped size = %dx%d, want about 100x50", w, h)
	}
}

func TestCrop_BlankPageKeepsFrame(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000001.jpg")
	writePage(t, src, 120, 80, 255, image.Rectangle{})

	out, err := Crop{}.Process(context.Background(), Artifact{Name: "000001.jpg", Path: src, WorkDir: filepath.Join(dir, "w")})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if w, h := readSize(t, out.Path); w != 120 || h != 80 {
		t.Errorf("size = %dx%d, want full frame 120x80", w, h)
	}
}

func TestDeskew_LevelImageUntouched(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000001.png")
	writePage(t, src, 200, 150, 255, image.Rect(40, 40, 160, 110))

	img := gocv.IMRead(src, gocv.IMReadColor)
	angle, ok := skewAngle(img)
	img.Close()
	if !ok {
		t.Fatal("no content found")
	}
	if angle < -minDeskewAngle || angle > minDeskewAngle {
		t.Errorf("angle = %v, want ~0", angle)
	}

	a := Artifact{Name: "000001.png", Path: src, WorkDir: filepath.Join(dir, WorkDirName)}
	for i := 0; i < 2; i++ {
		out, err := Deskew{}.Process(context.Background(), a)
		if err != nil {
			t.Fatalf("run %d: Process() error = %v", i, err)
		}
		if out.Path != src {
			t.Errorf("run %d: level image was rewritten to %s", i, out.Path)
		}
	}
}

// writeTiltedPage writes a white page with a w x h black block rotated by
// deg degrees about the page center.
func writeTiltedPage(t *testing.T, path string, deg float64, w, h int) {
	t.Helper()
	const size = 300
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), size, size, gocv.MatTypeCV8UC3)
	defer img.Close()

	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	hw, hh := float64(w)/2, float64(h)/2
	var pts []image.Point
	for _, c := range [][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}} {
		x := c[0]*cos - c[1]*sin
		y := c[0]*sin + c[1]*cos
		pts = append(pts, image.Pt(int(math.Round(size/2+x)), int(math.Round(size/2+y))))
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&img, pv, color.RGBA{A: 255})

	if ok := gocv.IMWrite(path, img); !ok {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

func measureSkew(t *testing.T, path string) float64 {
	t.Helper()
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	angle, ok := skewAngle(img)
	if !ok {
		t.Fatalf("no content found in %s", path)
	}
	return angle
}

func TestDeskew_CorrectsTilt(t *testing.T) {
	for _, deg := range []float64{10, -10} {
		dir := t.TempDir()
		src := filepath.Join(dir, "000001.png")
		writeTiltedPage(t, src, deg, 160, 80)

		if before := measureSkew(t, src); math.Abs(math.Abs(before)-10) > 1.5 {
			t.Fatalf("tilt %v: measured %v before deskew, want about 10 degrees", deg, before)
		}

		a := Artifact{Name: "000001.png", Path: src, WorkDir: filepath.Join(dir, WorkDirName)}
		out, err := Deskew{}.Process(context.Background(), a)
		if err != nil {
			t.Fatalf("tilt %v: Process() error = %v", deg, err)
		}
		if out.Path != a.WorkPath() {
			t.Fatalf("tilt %v: tilted image was not rewritten", deg)
		}
		if w, h := readSize(t, out.Path); w != 300 || h != 300 {
			t.Errorf("tilt %v: canvas = %dx%d, want 300x300", deg, w, h)
		}
		if after := measureSkew(t, out.Path); math.Abs(after) >= 1 {
			t.Errorf("tilt %v: residual skew = %v, want < 1 degree", deg, after)
		}
	}
}

// runStages chains the default image stages over a.
func runStages(t *testing.T, a Artifact) Artifact {
	t.Helper()
	stages, err := DefaultRegistry("", 0, 0, nil).Ordered()
	if err != nil {
		t.Fatalf("Ordered() error = %v", err)
	}
	for _, st := range stages {
		next, err := st.Process(context.Background(), a)
		if err != nil {
			t.Fatalf("%s: Process() error = %v", st.Name(), err)
		}
		a = next
	}
	return a
}

func TestStages_ReprocessingIsStable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000001.png")
	page := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 180, 240, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&page, image.Rect(40, 40, 200, 140), color.RGBA{A: 255}, 3)
	gocv.Rectangle(&page, image.Rect(60, 60, 180, 70), color.RGBA{A: 255}, -1)
	gocv.Rectangle(&page, image.Rect(60, 90, 150, 100), color.RGBA{A: 255}, -1)
	ok := gocv.IMWrite(src, page)
	page.Close()
	if !ok {
		t.Fatal("IMWrite failed")
	}

	first := runStages(t, Artifact{Name: "000001.png", Path: src, WorkDir: filepath.Join(dir, "pass1")})
	second := runStages(t, Artifact{Name: "000001.png", Path: first.Path, WorkDir: filepath.Join(dir, "pass2")})
	if first.Path == second.Path {
		t.Fatal("second pass did not produce its own output")
	}

	w1, h1 := readSize(t, first.Path)
	w2, h2 := readSize(t, second.Path)
	if w1 >= 240 || h1 >= 180 {
		t.Errorf("first pass did not crop: %dx%d", w1, h1)
	}
	if w1 != w2 || h1 != h2 {
		t.Fatalf("size changed on reprocessing: %dx%d -> %dx%d", w1, h1, w2, h2)
	}
	if angle := measureSkew(t, second.Path); math.Abs(angle) > minDeskewAngle {
		t.Errorf("reprocessed page skew = %v, want level", angle)
	}

	a := gocv.IMRead(first.Path, gocv.IMReadColor)
	defer a.Close()
	b := gocv.IMRead(second.Path, gocv.IMReadColor)
	defer b.Close()
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)
	if m := diff.Mean(); m.Val1 > 2 || m.Val2 > 2 || m.Val3 > 2 {
		t.Errorf("mean pixel change on reprocessing = %v, want <= 2", m)
	}
}

func TestColor_Apply(t *testing.T) {
	c := NewColor(0, 0)
	if c.Contrast != 1.2 || c.Brightness != 1.1 {
		t.Fatalf("defaults = %+v, want 1.2/1.1", c)
	}

	tests := []struct {
		name string
		in   float64
		want uint8
	}{
		// uniform image: contrast around its own mean is a no-op
		{"mid gray", 100, 110},
		{"saturates", 250, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(tt.in, tt.in, tt.in, 0), 10, 10, gocv.MatTypeCV8UC3)
			defer img.Close()
			out := gocv.NewMat()
			defer out.Close()

			c.apply(img, &out)
			got := out.GetVecbAt(5, 5)
			if got[0] != tt.want || got[2] != tt.want {
				t.Errorf("pixel = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestPipeline_Run(t *testing.T) {
	raw, processed := sessionDirs(t)
	rawPath := filepath.Join(raw, "000001.jpg")
	writePage(t, rawPath, 200, 150, 255, image.Rect(40, 40, 160, 110))

	engine := &fakeEngine{text: "hello page"}
	p, err := New(Config{ProcessedDir: processed, OCR: engine})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := strings.Join(p.StageNames(), ","); got != "crop,deskew,color,ocr" {
		t.Errorf("stages = %s", got)
	}

	res, err := p.Run(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.StageErrors) != 0 {
		t.Errorf("stage errors = %+v", res.StageErrors)
	}
	if _, err := os.Stat(filepath.Join(processed, "000001.jpg")); err != nil {
		t.Errorf("processed image missing: %v", err)
	}
	if _, err := os.Stat(rawPath); !os.IsNotExist(err) {
		t.Errorf("raw file still present: %v", err)
	}
	text, err := os.ReadFile(filepath.Join(processed, "000001.txt"))
	if err != nil || strings.TrimSpace(string(text)) != "hello page" {
		t.Errorf("sidecar = (%q, %v)", text, err)
	}
}

func TestPipeline_OCRUnavailable(t *testing.T) {
	raw, processed := sessionDirs(t)
	rawPath := filepath.Join(raw, "000002.jpg")
	writePage(t, rawPath, 120, 90, 255, image.Rect(20, 20, 100, 70))

	p, err := New(Config{ProcessedDir: processed, OCR: ocr.Disabled{}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if _, err := os.Stat(filepath.Join(processed, "000002.jpg")); err != nil {
		t.Errorf("processed image missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(processed, "000002.txt")); !os.IsNotExist(err) {
		t.Error("sidecar written although the engine is unavailable")
	}
	if len(res.StageErrors) != 1 || !res.StageErrors[0].Skipped || res.StageErrors[0].Stage != StageOCR {
		t.Errorf("stage errors = %+v, want one skipped ocr", res.StageErrors)
	}
}

func TestPipeline_FailingStagePassesThrough(t *testing.T) {
	raw, processed := sessionDirs(t)
	rawPath := filepath.Join(raw, "000003.jpg")
	if err := os.WriteFile(rawPath, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	broken := newMockStage("broken")
	broken.err = errors.New("boom")
	after := &recordStage{name: "after", deps: []string{"broken"}}

	reg := NewRegistry()
	reg.Register(broken)
	reg.Register(after)

	p, err := New(Config{ProcessedDir: processed, Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if after.input != rawPath {
		t.Errorf("next stage got %s, want the unchanged raw path", after.input)
	}
	if len(res.StageErrors) != 1 || res.StageErrors[0].Skipped {
		t.Errorf("stage errors = %+v", res.StageErrors)
	}
	data, err := os.ReadFile(filepath.Join(processed, "000003.jpg"))
	if err != nil || string(data) != "jpeg" {
		t.Errorf("published = (%q, %v)", data, err)
	}
}

// recordStage records its input and passes it on.
type recordStage struct {
	name  string
	deps  []string
	input string
}

func (r *recordStage) Name() string           { return r.name }
func (r *recordStage) Dependencies() []string { return r.deps }
func (r *recordStage) Process(ctx context.Context, a Artifact) (Artifact, error) {
	r.input = a.Path
	return a, nil
}

func TestPipeline_AlreadyProcessed(t *testing.T) {
	raw, processed := sessionDirs(t)
	rawPath := filepath.Join(raw, "000004.jpg")
	for _, p := range []string{rawPath, filepath.Join(processed, "000004.jpg")} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stage := newMockStage("crop")
	reg := NewRegistry()
	reg.Register(stage)
	p, _ := New(Config{ProcessedDir: processed, Registry: reg})

	res, err := p.Run(context.Background(), rawPath)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.AlreadyProcessed {
		t.Error("AlreadyProcessed = false")
	}
	if len(stage.seen) != 0 {
		t.Error("stages ran for an already processed page")
	}
	if _, err := os.Stat(rawPath); !os.IsNotExist(err) {
		t.Error("raw duplicate not removed")
	}
}

func TestActor_ProcessesLeftoversAndRejectsGarbage(t *testing.T) {
	raw, processed := sessionDirs(t)
	writePage(t, filepath.Join(raw, "000001.jpg"), 100, 80, 255, image.Rect(20, 20, 80, 60))
	if err := os.WriteFile(filepath.Join(raw, "000002.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := New(Config{ProcessedDir: processed})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	done := make(chan struct{}, 4)
	a, err := NewActor(ActorConfig{
		RawDir:        raw,
		Pipeline:      p,
		ReadyAttempts: 2,
		ReadyDelay:    time.Millisecond,
		OnProcessed: func(res *Result) {
			got = append(got, res.Name)
			done <- struct{}{}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("leftover raw file was not processed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-stopped

	if len(got) != 1 || got[0] != "000001.jpg" {
		t.Errorf("processed = %v, want [000001.jpg]", got)
	}
	if _, err := os.Stat(filepath.Join(raw, FailedPrefix+"000002.jpg")); err != nil {
		t.Errorf("garbage file not set aside: %v", err)
	}
	if a.Stats().Processed != 1 {
		t.Errorf("stats = %+v", a.Stats())
	}
}
