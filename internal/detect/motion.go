package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// motionDiffThreshold is the per-pixel intensity delta that counts as change.
const motionDiffThreshold = 25

// Motion captures a frame once the scene has settled and differs from the
// last captured frame. Stability compares against the previous frame; the
// page-change test compares against the last capture.
type Motion struct {
	threshold int

	previous  gocv.Mat
	reference gocv.Mat
	pending   gocv.Mat
}

// NewMotion creates the motion strategy.
func NewMotion(cfg Config) *Motion {
	return &Motion{
		threshold: cfg.MotionThreshold,
		previous:  gocv.NewMat(),
		reference: gocv.NewMat(),
		pending:   gocv.NewMat(),
	}
}

func (m *Motion) Kind() Kind { return KindMotion }

func (m *Motion) Observe(f frame.Frame) (Observation, error) {
	img, err := f.Mat()
	if err != nil {
		return Observation{}, fmt.Errorf("motion observe: %w", err)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(img, &gray)

	cur := gocv.NewMat()
	gocv.GaussianBlur(gray, &cur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	var obs Observation
	if sameSize(m.previous, cur) {
		moving := changedPixels(m.previous, cur)
		obs.Detected = moving < m.threshold
		obs.Score = float64(moving)
	} else {
		// no previous frame to judge stability: treat the first frame as settled
		obs.Detected = true
	}

	if sameSize(m.reference, cur) {
		diff := changedPixels(m.reference, cur)
		obs.Changed = diff >= m.threshold
		obs.Score = float64(diff)
	} else {
		obs.Changed = true
	}
	obs.Region.Changed = obs.Changed

	m.previous.Close()
	m.previous = cur.Clone()
	m.pending.Close()
	m.pending = cur
	return obs, nil
}

func (m *Motion) Commit() {
	if m.pending.Empty() {
		return
	}
	m.reference.Close()
	m.reference = m.pending.Clone()
}

func (m *Motion) Close() error {
	m.previous.Close()
	m.reference.Close()
	m.pending.Close()
	return nil
}

func sameSize(a, b gocv.Mat) bool {
	return !a.Empty() && !b.Empty() && a.Rows() == b.Rows() && a.Cols() == b.Cols()
}

// changedPixels counts pixels whose intensity differs by more than
// motionDiffThreshold.
func changedPixels(a, b gocv.Mat) int {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, motionDiffThreshold, 255, gocv.ThresholdBinary)

	return gocv.CountNonZero(mask)
}
