package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/ocr"
)

// Stage names.
const (
	StageCrop   = "crop"
	StageDeskew = "deskew"
	StageColor  = "color"
	StageOCR    = "ocr"
)

const (
	cropThreshold  = 200
	minDeskewAngle = 0.05 // degrees
)

// readImage loads a color image, failing on anything undecodable.
func readImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return img, fmt.Errorf("cannot decode image %s", path)
	}
	return img, nil
}

// writeImage writes img to the artifact's work path.
func writeImage(a Artifact, img gocv.Mat) (Artifact, error) {
	if err := os.MkdirAll(a.WorkDir, 0o755); err != nil {
		return a, fmt.Errorf("create work dir: %w", err)
	}
	out := a.WorkPath()
	if ok := gocv.IMWrite(out, img); !ok {
		return a, fmt.Errorf("write %s failed", out)
	}
	next := a
	next.Path = out
	return next, nil
}

// Crop trims the image to the bounding box of its largest dark region.
type Crop struct{}

func (Crop) Name() string           { return StageCrop }
func (Crop) Dependencies() []string { return nil }

func (Crop) Process(ctx context.Context, a Artifact) (Artifact, error) {
	img, err := readImage(a.Path)
	if err != nil {
		return a, err
	}
	defer img.Close()

	box := contentBox(img)
	if box.Empty() {
		return writeImage(a, img)
	}
	region := img.Region(box)
	defer region.Close()
	cropped := region.Clone()
	defer cropped.Close()
	return writeImage(a, cropped)
}

// contentBox returns the bounding box of the largest contour in the
// inverse-thresholded image, or the empty rectangle when there is none.
func contentBox(img gocv.Mat) image.Rectangle {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, cropThreshold, 255, gocv.ThresholdBinaryInv)

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return image.Rectangle{}
	}
	return gocv.BoundingRect(contours.At(best)).Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
}

// Deskew rotates the image so its content block is level.
type Deskew struct{}

func (Deskew) Name() string           { return StageDeskew }
func (Deskew) Dependencies() []string { return []string{StageCrop} }

func (Deskew) Process(ctx context.Context, a Artifact) (Artifact, error) {
	img, err := readImage(a.Path)
	if err != nil {
		return a, err
	}
	defer img.Close()

	angle, ok := skewAngle(img)
	if !ok || math.Abs(angle) < minDeskewAngle {
		return a, nil
	}

	center := image.Pt(img.Cols()/2, img.Rows()/2)
	rot := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer rot.Close()

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.WarpAffineWithParams(img, &rotated, rot, image.Pt(img.Cols(), img.Rows()),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})

	return writeImage(a, rotated)
}

// skewAngle measures the rotation of the content pixels' minimum-area
// rectangle, normalized into (-45, 45] degrees.
func skewAngle(img gocv.Mat) (float64, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	nz := gocv.NewMat()
	defer nz.Close()
	gocv.FindNonZero(bin, &nz)
	if nz.Rows() < 3 {
		return 0, false
	}

	pts := make([]image.Point, 0, nz.Rows())
	for i := 0; i < nz.Rows(); i++ {
		v := nz.GetVeciAt(i, 0)
		pts = append(pts, image.Pt(int(v[0]), int(v[1])))
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	rect := gocv.MinAreaRect(pv)
	return normalizeAngle(rect.Angle), true
}

// normalizeAngle maps a minAreaRect angle from either OpenCV convention
// ([-90, 0) or (0, 90]) into (-45, 45].
func normalizeAngle(angle float64) float64 {
	for angle > 45 {
		angle -= 90
	}
	for angle <= -45 {
		angle += 90
	}
	return angle
}

// Color applies a contrast then a brightness enhancement.
type Color struct {
	Contrast   float64
	Brightness float64
}

// NewColor returns the color stage; zero factors default to 1.2 and 1.1.
func NewColor(contrast, brightness float64) Color {
	if contrast <= 0 {
		contrast = 1.2
	}
	if brightness <= 0 {
		brightness = 1.1
	}
	return Color{Contrast: contrast, Brightness: brightness}
}

func (Color) Name() string           { return StageColor }
func (Color) Dependencies() []string { return []string{StageDeskew} }

func (c Color) Process(ctx context.Context, a Artifact) (Artifact, error) {
	img, err := readImage(a.Path)
	if err != nil {
		return a, err
	}
	defer img.Close()

	out := gocv.NewMat()
	defer out.Close()
	c.apply(img, &out)
	return writeImage(a, out)
}

// apply scales contrast around the mean luminance, then scales brightness.
// The 8-bit conversions saturate at 0 and 255.
func (c Color) apply(img gocv.Mat, dst *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	mean := gray.Mean().Val1

	contrasted := gocv.NewMat()
	defer contrasted.Close()
	img.ConvertToWithParams(&contrasted, gocv.MatTypeCV8UC3,
		float32(c.Contrast), float32(mean*(1-c.Contrast)))

	contrasted.ConvertToWithParams(dst, gocv.MatTypeCV8UC3, float32(c.Brightness), 0)
}

// OCR writes a text sidecar next to the processed image.
type OCR struct {
	Engine       ocr.Engine
	ProcessedDir string
}

func (OCR) Name() string           { return StageOCR }
func (OCR) Dependencies() []string { return []string{StageColor} }

func (o OCR) Process(ctx context.Context, a Artifact) (Artifact, error) {
	if o.Engine == nil {
		return a, ErrStageUnavailable
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return a, fmt.Errorf("read image: %w", err)
	}

	res, err := o.Engine.Recognize(ctx, data)
	if err != nil {
		if errors.Is(err, ocr.ErrEngineUnavailable) {
			return a, fmt.Errorf("%w: %v", ErrStageUnavailable, err)
		}
		return a, fmt.Errorf("%s: %w", o.Engine.Name(), err)
	}

	if err := os.WriteFile(SidecarPath(o.ProcessedDir, a.Name), []byte(res.Text+"\n"), 0o644); err != nil {
		return a, fmt.Errorf("write sidecar: %w", err)
	}
	return a, nil
}

// SidecarPath is the OCR text file for an image name: processed/<stem>.txt.
func SidecarPath(processedDir, name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(processedDir, stem+".txt")
}
