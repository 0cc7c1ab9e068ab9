// Package detect finds page boundaries in video frames.
//
// A Strategy turns one frame into an Observation: an optional polygon for the
// preview overlay plus the "is a page present" and "is it a new page" signals
// the capture state machine acts on. Each strategy keeps its own comparison
// memory. A reference computed during Observe stays pending until Commit is
// called for a frame that was actually captured, so comparisons are always
// against the last captured page and never against the last seen frame.
package detect

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// Kind names a detection strategy.
type Kind string

const (
	KindContour   Kind = "contour"
	KindMotion    Kind = "motion"
	KindROI       Kind = "roi"
	KindHistogram Kind = "histogram"
)

// Policy is the capture decision policy a strategy is paired with.
type Policy int

const (
	// PolicyEdgeTrigger captures once per contiguous run of detections.
	PolicyEdgeTrigger Policy = iota
	// PolicyContinuous captures whenever the observation differs from the
	// last captured reference, gated by a cooldown.
	PolicyContinuous
)

func (p Policy) String() string {
	if p == PolicyEdgeTrigger {
		return "edge-trigger"
	}
	return "continuous"
}

// ErrUnknownStrategy is returned for an unrecognised Kind.
var ErrUnknownStrategy = errors.New("unknown detection strategy")

// ParseKind parses a strategy name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindContour, KindMotion, KindROI, KindHistogram:
		return k, nil
	case "":
		return KindContour, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Policy returns the decision policy used with this strategy.
func (k Kind) Policy() Policy {
	if k == KindContour {
		return PolicyEdgeTrigger
	}
	return PolicyContinuous
}

// Region is the detected area published for preview consumers.
type Region struct {
	// Polygon is the ordered outline, normally four points. Nil when nothing
	// was located (the motion strategy never produces one).
	Polygon []image.Point `json:"polygon,omitempty"`
	// Changed reports that the observation differs from the last capture.
	Changed bool `json:"changed"`
}

// Clone returns a deep copy.
func (r Region) Clone() Region {
	out := Region{Changed: r.Changed}
	if r.Polygon != nil {
		out.Polygon = make([]image.Point, len(r.Polygon))
		copy(out.Polygon, r.Polygon)
	}
	return out
}

// Empty reports whether no polygon was found.
func (r Region) Empty() bool {
	return len(r.Polygon) == 0
}

// Observation is one strategy evaluation of one frame.
type Observation struct {
	Region Region
	// Detected means a page-like region is present (contour, histogram),
	// the frame is stable (motion) or the ROI could be evaluated (roi).
	Detected bool
	// Changed means the observation differs from the committed reference.
	// Always true when no reference exists yet.
	Changed bool
	// Score is the strategy's raw signal: area ratio, differing pixels,
	// SSIM or histogram correlation.
	Score float64
}

// Strategy evaluates frames. Implementations are used from a single
// goroutine (the capture actor) and are not safe for concurrent use.
type Strategy interface {
	// Kind returns the strategy name.
	Kind() Kind

	// Observe evaluates one frame against the strategy's private memory.
	Observe(f frame.Frame) (Observation, error)

	// Commit promotes the reference computed by the last Observe. Called
	// only after that frame was captured.
	Commit()

	// Close releases native resources.
	Close() error
}

// Rect is a JSON/YAML friendly rectangle.
type Rect struct {
	X      int `json:"x" yaml:"x" mapstructure:"x"`
	Y      int `json:"y" yaml:"y" mapstructure:"y"`
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// Rectangle converts to image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Valid reports whether the rectangle has a positive area.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.X >= 0 && r.Y >= 0
}

// Config selects a strategy and its thresholds. Zero values are filled from
// DefaultConfig for the chosen strategy by WithDefaults.
type Config struct {
	Strategy Kind `json:"strategy" yaml:"strategy" mapstructure:"strategy"`

	// MinAreaRatio and MaxAreaRatio bound quad area / frame area.
	// MaxAreaRatio <= 0 means unbounded.
	MinAreaRatio float64 `json:"min_area_ratio" yaml:"min_area_ratio" mapstructure:"min_area_ratio"`
	MaxAreaRatio float64 `json:"max_area_ratio" yaml:"max_area_ratio" mapstructure:"max_area_ratio"`

	// MinAspect and MaxAspect bound bounding-box width/height. <= 0 means unbounded.
	MinAspect float64 `json:"min_aspect" yaml:"min_aspect" mapstructure:"min_aspect"`
	MaxAspect float64 `json:"max_aspect" yaml:"max_aspect" mapstructure:"max_aspect"`

	// SimilarityThreshold is the SSIM below which the ROI counts as a new page.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// CorrelationThreshold is the histogram correlation below which the
	// located page counts as new.
	CorrelationThreshold float64 `json:"correlation_threshold" yaml:"correlation_threshold" mapstructure:"correlation_threshold"`

	// MotionThreshold is the differing-pixel count separating "stable"
	// from "moving", and "same page" from "new page".
	MotionThreshold int `json:"motion_threshold" yaml:"motion_threshold" mapstructure:"motion_threshold"`

	// Cooldown is the minimum spacing between two captures.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`

	// ROI is the initial region of interest for the roi strategy.
	ROI *Rect `json:"roi,omitempty" yaml:"roi,omitempty" mapstructure:"roi"`
}

// DefaultConfig returns the defaults for a strategy.
func DefaultConfig(kind Kind) Config {
	switch kind {
	case KindHistogram:
		return Config{
			Strategy:             KindHistogram,
			MinAreaRatio:         0.20,
			MaxAreaRatio:         0.90,
			MinAspect:            0.5,
			MaxAspect:            2.0,
			CorrelationThreshold: 0.7,
			Cooldown:             time.Second,
		}
	case KindROI:
		return Config{
			Strategy:            KindROI,
			SimilarityThreshold: 0.90,
			Cooldown:            2 * time.Second,
		}
	case KindMotion:
		return Config{
			Strategy:        KindMotion,
			MotionThreshold: 5000,
			Cooldown:        time.Second,
		}
	default:
		return Config{
			Strategy:     KindContour,
			MinAreaRatio: 0.20,
		}
	}
}

// WithDefaults fills zero-valued thresholds from DefaultConfig(c.Strategy).
func (c Config) WithDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = KindContour
	}
	d := DefaultConfig(c.Strategy)
	if c.MinAreaRatio == 0 {
		c.MinAreaRatio = d.MinAreaRatio
	}
	if c.MaxAreaRatio == 0 {
		c.MaxAreaRatio = d.MaxAreaRatio
	}
	if c.MinAspect == 0 {
		c.MinAspect = d.MinAspect
	}
	if c.MaxAspect == 0 {
		c.MaxAspect = d.MaxAspect
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.CorrelationThreshold == 0 {
		c.CorrelationThreshold = d.CorrelationThreshold
	}
	if c.MotionThreshold == 0 {
		c.MotionThreshold = d.MotionThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Strategy)); err != nil {
		return err
	}
	if c.MinAreaRatio < 0 || c.MinAreaRatio > 1 {
		return fmt.Errorf("min_area_ratio must be within [0, 1], got %v", c.MinAreaRatio)
	}
	if c.MaxAreaRatio > 0 && c.MaxAreaRatio < c.MinAreaRatio {
		return fmt.Errorf("max_area_ratio %v is below min_area_ratio %v", c.MaxAreaRatio, c.MinAreaRatio)
	}
	if c.MaxAspect > 0 && c.MaxAspect < c.MinAspect {
		return fmt.Errorf("max_aspect %v is below min_aspect %v", c.MaxAspect, c.MinAspect)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be within [0, 1], got %v", c.SimilarityThreshold)
	}
	if c.CorrelationThreshold < -1 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("correlation_threshold must be within [-1, 1], got %v", c.CorrelationThreshold)
	}
	if c.MotionThreshold < 0 {
		return fmt.Errorf("motion_threshold must not be negative")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if c.ROI != nil && !c.ROI.Valid() {
		return fmt.Errorf("roi must have a positive size")
	}
	return nil
}

// New builds the strategy selected by cfg. roi is consulted on every
// Observe by the roi strategy and ignored by the others.
func New(cfg Config, roi *ROI) (Strategy, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case KindContour:
		return NewContour(cfg), nil
	case KindMotion:
		return NewMotion(cfg), nil
	case KindROI:
		if roi == nil {
			roi = NewROI(cfg.ROI)
		}
		return NewROIStrategy(cfg, roi), nil
	case KindHistogram:
		return NewHistogram(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}
