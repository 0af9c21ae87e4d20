package vision

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"flyassay/internal/calibration"
)

// Undistorter corrects lens distortion with a saved calibration. The optimal
// camera matrix is computed once per frame size with alpha 1, so no pixels
// are cropped.
type Undistorter struct {
	mtx  gocv.Mat
	dist gocv.Mat

	mu     sync.Mutex
	size   image.Point
	newMtx gocv.Mat
	ready  bool
}

// NewUndistorter builds the camera and distortion matrices.
func NewUndistorter(data *calibration.Data) (*Undistorter, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	mtx := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r, row := range data.CameraMatrix {
		for c, v := range row {
			mtx.SetDoubleAt(r, c, v)
		}
	}

	coeffs := data.Coefficients()
	dist := gocv.NewMatWithSize(1, len(coeffs), gocv.MatTypeCV64F)
	for i, v := range coeffs {
		dist.SetDoubleAt(0, i, v)
	}

	return &Undistorter{mtx: mtx, dist: dist}, nil
}

// Apply returns a corrected copy of src.
func (u *Undistorter) Apply(src gocv.Mat) gocv.Mat {
	u.mu.Lock()
	defer u.mu.Unlock()

	size := image.Pt(src.Cols(), src.Rows())
	if !u.ready || size != u.size {
		if u.ready {
			u.newMtx.Close()
		}
		u.newMtx, _ = gocv.GetOptimalNewCameraMatrixWithParams(u.mtx, u.dist, size, 1.0, size, false)
		u.size = size
		u.ready = true
	}

	dst := gocv.NewMat()
	gocv.Undistort(src, &dst, u.mtx, u.dist, u.newMtx)
	return dst
}

func (u *Undistorter) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ready {
		u.newMtx.Close()
		u.ready = false
	}
	u.dist.Close()
	return u.mtx.Close()
}
