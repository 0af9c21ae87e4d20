// Package vision holds the OpenCV side of the rig: camera capture with lens
// correction, per-region activity counting, previews and chessboard
// calibration.
package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"flyassay/internal/experiment"
)

// Frame wraps a BGR gocv.Mat.
type Frame struct {
	mat gocv.Mat
}

// NewFrame takes ownership of mat.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

// Mat exposes the underlying image. It is closed with the frame.
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// Bytes returns the raw bgr24 pixels.
func (f *Frame) Bytes() []byte {
	return f.mat.ToBytes()
}

func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

func matOf(f experiment.Frame) (gocv.Mat, error) {
	vf, ok := f.(*Frame)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("unsupported frame type %T", f)
	}
	return vf.mat, nil
}

// encodeJPEG copies the encoded bytes out of the native buffer.
func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
