package detect

import (
	"image"

	"gocv.io/x/gocv"
)

// SSIM constants for 8-bit images: (0.01*255)^2 and (0.03*255)^2.
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// SSIM returns the mean structural similarity of two single-channel images
// of equal size, using an 11x11 Gaussian window (sigma 1.5). Identical
// images score 1. Mismatched inputs score 0.
func SSIM(a, b gocv.Mat) float64 {
	if a.Empty() || b.Empty() || a.Rows() != b.Rows() || a.Cols() != b.Cols() ||
		a.Channels() != 1 || b.Channels() != 1 {
		return 0
	}

	var mats []*gocv.Mat
	newMat := func() *gocv.Mat {
		m := gocv.NewMat()
		mats = append(mats, &m)
		return &m
	}
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	blur := func(src gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.GaussianBlur(src, dst, image.Pt(11, 11), 1.5, 1.5, gocv.BorderDefault)
		return dst
	}
	mul := func(x, y gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.Multiply(x, y, dst)
		return dst
	}
	sub := func(x, y gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.Subtract(x, y, dst)
		return dst
	}
	add := func(x, y gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.Add(x, y, dst)
		return dst
	}

	i1 := newMat()
	a.ConvertTo(i1, gocv.MatTypeCV32F)
	i2 := newMat()
	b.ConvertTo(i2, gocv.MatTypeCV32F)

	mu1 := blur(*i1)
	mu2 := blur(*i2)
	mu1Sq := mul(*mu1, *mu1)
	mu2Sq := mul(*mu2, *mu2)
	mu12 := mul(*mu1, *mu2)

	sigma1Sq := sub(*blur(*mul(*i1, *i1)), *mu1Sq)
	sigma2Sq := sub(*blur(*mul(*i2, *i2)), *mu2Sq)
	sigma12 := sub(*blur(*mul(*i1, *i2)), *mu12)

	// numerator: (2*mu1*mu2 + C1) * (2*sigma12 + C2)
	t1 := mu12.Clone()
	mats = append(mats, &t1)
	t1.MultiplyFloat(2)
	t1.AddFloat(ssimC1)
	t2 := sigma12.Clone()
	mats = append(mats, &t2)
	t2.MultiplyFloat(2)
	t2.AddFloat(ssimC2)
	num := mul(t1, t2)

	// denominator: (mu1^2 + mu2^2 + C1) * (sigma1^2 + sigma2^2 + C2)
	d1 := add(*mu1Sq, *mu2Sq)
	d1.AddFloat(ssimC1)
	d2 := add(*sigma1Sq, *sigma2Sq)
	d2.AddFloat(ssimC2)
	den := mul(*d1, *d2)

	ssimMap := newMat()
	gocv.Divide(*num, *den, ssimMap)

	return ssimMap.Mean().Val1
}
