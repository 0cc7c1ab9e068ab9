package detect

import (
	"fmt"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// Contour finds the largest quadrilateral covering enough of the frame.
// It keeps no comparison memory; the edge-trigger policy provides the
// "one capture per appearance" behaviour.
type Contour struct {
	bounds quadBounds
}

// NewContour creates the contour strategy.
func NewContour(cfg Config) *Contour {
	return &Contour{bounds: quadBounds{
		minArea:   cfg.MinAreaRatio,
		maxArea:   cfg.MaxAreaRatio,
		minAspect: cfg.MinAspect,
		maxAspect: cfg.MaxAspect,
	}}
}

func (c *Contour) Kind() Kind { return KindContour }

func (c *Contour) Observe(f frame.Frame) (Observation, error) {
	img, err := f.Mat()
	if err != nil {
		return Observation{}, fmt.Errorf("contour observe: %w", err)
	}
	defer img.Close()

	pts, ratio, ok := findQuad(img, c.bounds)
	if !ok {
		return Observation{}, nil
	}
	return Observation{
		Region:   Region{Polygon: pts, Changed: true},
		Detected: true,
		Changed:  true,
		Score:    ratio,
	}, nil
}

func (c *Contour) Commit() {}

func (c *Contour) Close() error { return nil }
