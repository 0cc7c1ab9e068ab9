package detect

import (
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// quadBounds limits which quadrilaterals count as a page.
type quadBounds struct {
	minArea   float64
	maxArea   float64 // <= 0: unbounded
	minAspect float64 // <= 0: unbounded
	maxAspect float64 // <= 0: unbounded
}

// accepts reports whether area ratio and aspect ratio fall within bounds.
func (b quadBounds) accepts(areaRatio, aspect float64) bool {
	if areaRatio < b.minArea {
		return false
	}
	if b.maxArea > 0 && areaRatio > b.maxArea {
		return false
	}
	if b.minAspect > 0 && aspect < b.minAspect {
		return false
	}
	if b.maxAspect > 0 && aspect > b.maxAspect {
		return false
	}
	return true
}

// toGray converts a BGR, BGRA or gray image to single-channel gray.
func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}

// findQuad locates the largest four-cornered contour within bounds.
// It returns the corner points, the area ratio and whether one was found.
func findQuad(img gocv.Mat, b quadBounds) ([]image.Point, float64, bool) {
	frameArea := float64(img.Rows() * img.Cols())
	if frameArea == 0 {
		return nil, 0, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(img, &gray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type candidate struct {
		idx  int
		area float64
	}
	cands := make([]candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		cands = append(cands, candidate{idx: i, area: gocv.ContourArea(contours.At(i))})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].area > cands[j].area })

	for _, c := range cands {
		contour := contours.At(c.idx)
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*peri, true)
		if approx.Size() != 4 {
			approx.Close()
			continue
		}

		ratio := gocv.ContourArea(approx) / frameArea
		box := gocv.BoundingRect(approx)
		if box.Dy() == 0 {
			approx.Close()
			continue
		}
		aspect := float64(box.Dx()) / float64(box.Dy())
		if !b.accepts(ratio, aspect) {
			approx.Close()
			continue
		}

		pts := approx.ToPoints()
		approx.Close()
		return pts, ratio, true
	}
	return nil, 0, false
}

// boundingBox returns the axis-aligned box around pts clipped to the image.
func boundingBox(pts []image.Point, width, height int) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		if p.X < r.Min.X {
			r.Min.X = p.X
		}
		if p.Y < r.Min.Y {
			r.Min.Y = p.Y
		}
		if p.X > r.Max.X {
			r.Max.X = p.X
		}
		if p.Y > r.Max.Y {
			r.Max.Y = p.Y
		}
	}
	return r.Intersect(image.Rect(0, 0, width, height))
}
