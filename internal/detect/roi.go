package detect

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// roiSampleSize is the fixed size ROI crops are downsampled to before SSIM.
var roiSampleSize = image.Pt(256, 256)

// ROI holds the externally configured region of interest. Set may be called
// from any goroutine; the capture loop picks the change up on its next frame.
type ROI struct {
	mu   sync.RWMutex
	rect *Rect
}

// NewROI creates a holder, optionally with an initial rectangle.
func NewROI(initial *Rect) *ROI {
	r := &ROI{}
	if initial != nil {
		r.Set(*initial)
	}
	return r
}

// Set replaces the region of interest.
func (r *ROI) Set(rect Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rect
	r.rect = &cp
}

// Clear removes the region of interest.
func (r *ROI) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rect = nil
}

// Get returns the current region and whether one is set.
func (r *ROI) Get() (Rect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rect == nil {
		return Rect{}, false
	}
	return *r.rect, true
}

// ROIStrategy compares a fixed region of the frame against the region as it
// looked at the last capture using structural similarity.
type ROIStrategy struct {
	threshold float64
	roi       *ROI

	reference gocv.Mat
	pending   gocv.Mat
	lastRect  image.Rectangle
}

// NewROIStrategy creates the roi strategy.
func NewROIStrategy(cfg Config, roi *ROI) *ROIStrategy {
	return &ROIStrategy{
		threshold: cfg.SimilarityThreshold,
		roi:       roi,
		reference: gocv.NewMat(),
		pending:   gocv.NewMat(),
	}
}

func (s *ROIStrategy) Kind() Kind { return KindROI }

func (s *ROIStrategy) Observe(f frame.Frame) (Observation, error) {
	rect, ok := s.roi.Get()
	if !ok {
		return Observation{}, nil
	}

	area := rect.Rectangle().Intersect(image.Rect(0, 0, f.Width(), f.Height()))
	if area.Empty() {
		return Observation{}, nil
	}

	// a moved ROI makes the old reference meaningless
	if area != s.lastRect {
		s.reference.Close()
		s.reference = gocv.NewMat()
		s.lastRect = area
	}

	img, err := f.Mat()
	if err != nil {
		return Observation{}, fmt.Errorf("roi observe: %w", err)
	}
	defer img.Close()

	crop := img.Region(area)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(crop, &gray)

	sample := gocv.NewMat()
	gocv.Resize(gray, &sample, roiSampleSize, 0, 0, gocv.InterpolationArea)

	s.pending.Close()
	s.pending = sample

	obs := Observation{
		Region:   Region{Polygon: rectPolygon(area)},
		Detected: true,
	}

	hasRef := !s.reference.Empty()
	if hasRef {
		obs.Score = SSIM(s.reference, sample)
	}
	obs.Changed = similarityChanged(obs.Score, s.threshold, hasRef)
	obs.Region.Changed = obs.Changed
	return obs, nil
}

func (s *ROIStrategy) Commit() {
	if s.pending.Empty() {
		return
	}
	s.reference.Close()
	s.reference = s.pending.Clone()
}

func (s *ROIStrategy) Close() error {
	s.reference.Close()
	s.pending.Close()
	return nil
}

// similarityChanged decides "new page" from a similarity score: any score
// below the threshold, or no reference at all.
func similarityChanged(score, threshold float64, hasRef bool) bool {
	if !hasRef {
		return true
	}
	return score < threshold
}

func rectPolygon(r image.Rectangle) []image.Point {
	return []image.Point{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}
