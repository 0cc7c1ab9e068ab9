package detect

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// Hue/saturation bins for page color histograms.
const (
	histHueBins = 50
	histSatBins = 60
)

// Histogram locates a page like Contour (with aspect bounds) and compares
// the HSV color histogram of the located page with the page at the last
// capture.
type Histogram struct {
	bounds    quadBounds
	threshold float64

	reference gocv.Mat
	pending   gocv.Mat
}

// NewHistogram creates the histogram strategy.
func NewHistogram(cfg Config) *Histogram {
	return &Histogram{
		bounds: quadBounds{
			minArea:   cfg.MinAreaRatio,
			maxArea:   cfg.MaxAreaRatio,
			minAspect: cfg.MinAspect,
			maxAspect: cfg.MaxAspect,
		},
		threshold: cfg.CorrelationThreshold,
		reference: gocv.NewMat(),
		pending:   gocv.NewMat(),
	}
}

func (h *Histogram) Kind() Kind { return KindHistogram }

func (h *Histogram) Observe(f frame.Frame) (Observation, error) {
	img, err := f.Mat()
	if err != nil {
		return Observation{}, fmt.Errorf("histogram observe: %w", err)
	}
	defer img.Close()

	pts, _, ok := findQuad(img, h.bounds)
	if !ok {
		return Observation{}, nil
	}

	box := boundingBox(pts, img.Cols(), img.Rows())
	if box.Empty() {
		return Observation{}, nil
	}
	crop := img.Region(box)
	defer crop.Close()

	hist := pageHistogram(crop)
	h.pending.Close()
	h.pending = hist

	obs := Observation{
		Region:   Region{Polygon: pts},
		Detected: true,
	}
	hasRef := !h.reference.Empty()
	if hasRef {
		obs.Score = float64(gocv.CompareHist(h.reference, hist, gocv.HistCmpCorrel))
	}
	obs.Changed = correlationChanged(obs.Score, h.threshold, hasRef)
	obs.Region.Changed = obs.Changed
	return obs, nil
}

func (h *Histogram) Commit() {
	if h.pending.Empty() {
		return
	}
	h.reference.Close()
	h.reference = h.pending.Clone()
}

func (h *Histogram) Close() error {
	h.reference.Close()
	h.pending.Close()
	return nil
}

// correlationChanged reports a new page when correlation with the reference
// drops below threshold, or when there is no reference.
func correlationChanged(corr, threshold float64, hasRef bool) bool {
	if !hasRef {
		return true
	}
	return corr < threshold
}

// pageHistogram returns the normalized 2D hue/saturation histogram of a BGR image.
func pageHistogram(img gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	if img.Channels() == 1 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
		gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)
	} else {
		gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{hsv}, []int{0, 1}, mask, &hist,
		[]int{histHueBins, histSatBins}, []float64{0, 180, 0, 256}, false)
	gocv.Normalize(hist, &hist, 0, 1, gocv.NormMinMax)
	return hist
}
