// Package frame provides immutable video frame snapshots and the camera/stream
// source that produces them.
package frame

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Frame is an immutable snapshot of one camera read.
//
// The pixel buffer is owned by the Frame and never mutated after creation.
// Clone hands out an independent copy so a reader never aliases the buffer of
// the actor that produced it.
type Frame struct {
	data      []byte
	width     int
	height    int
	matType   gocv.MatType
	timestamp time.Time
	seq       uint64
}

// New creates a frame from raw pixel bytes. The slice is copied.
func New(data []byte, width, height int, matType gocv.MatType, at time.Time, seq uint64) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{
		data:      buf,
		width:     width,
		height:    height,
		matType:   matType,
		timestamp: at,
		seq:       seq,
	}
}

// FromMat snapshots a gocv.Mat into a Frame. The Mat is not retained.
func FromMat(m gocv.Mat, at time.Time, seq uint64) (Frame, error) {
	if m.Empty() {
		return Frame{}, fmt.Errorf("empty mat")
	}
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	return Frame{
		data:      src.ToBytes(),
		width:     m.Cols(),
		height:    m.Rows(),
		matType:   m.Type(),
		timestamp: at,
		seq:       seq,
	}, nil
}

// Mat returns a new gocv.Mat holding a copy of the pixels.
// The caller owns the Mat and must Close it.
func (f Frame) Mat() (gocv.Mat, error) {
	if f.IsZero() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	view, err := gocv.NewMatFromBytes(f.height, f.width, f.matType, f.data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build mat: %w", err)
	}
	defer view.Close()
	return view.Clone(), nil
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	if f.data == nil {
		return f
	}
	return New(f.data, f.width, f.height, f.matType, f.timestamp, f.seq)
}

// IsZero reports whether the frame carries no pixels.
func (f Frame) IsZero() bool {
	return len(f.data) == 0 || f.width == 0 || f.height == 0
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.height }

// Area returns width*height.
func (f Frame) Area() int { return f.width * f.height }

// Type returns the OpenCV pixel type of the buffer.
func (f Frame) Type() gocv.MatType { return f.matType }

// Timestamp returns the capture time.
func (f Frame) Timestamp() time.Time { return f.timestamp }

// Seq returns the read sequence number assigned by the source.
func (f Frame) Seq() uint64 { return f.seq }

// Bytes returns a copy of the pixel buffer.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// EncodeJPEG encodes the frame as JPEG at the given quality (1-100).
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	m, err := f.Mat()
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return EncodeJPEG(m, quality)
}

// EncodeJPEG encodes a Mat as JPEG. A quality <= 0 uses the OpenCV default.
func EncodeJPEG(m gocv.Mat, quality int) ([]byte, error) {
	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	if quality > 0 {
		buf, err = gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	} else {
		buf, err = gocv.IMEncode(gocv.JPEGFileExt, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// IsImageFile reports whether name is a visible JPEG or PNG file.
func IsImageFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
