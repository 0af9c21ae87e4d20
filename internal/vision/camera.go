package vision

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"flyassay/internal/experiment"
	"flyassay/internal/logger"
)

var errEmptyFrame = errors.New("camera returned an empty frame")

// Camera reads frames from a capture device. Frames are lens corrected when
// an Undistorter is set.
type Camera struct {
	vc        *gocv.VideoCapture
	undistort *Undistorter
	dims      image.Point
	logger    *logger.Logger
}

// OpenCamera opens the device, turns off automatic exposure and gain so the
// background model stays stable, and discards warmup frames. The camera owns
// undistort from here on.
func OpenCamera(device, warmup int, undistort *Undistorter, logger *logger.Logger) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %d is not available", device)
	}

	vc.Set(gocv.VideoCaptureAutoExposure, 0)
	vc.Set(gocv.VideoCaptureGain, 0)

	c := &Camera{vc: vc, undistort: undistort, logger: logger}

	mat := gocv.NewMat()
	defer mat.Close()
	for i := 0; i < warmup; i++ {
		vc.Read(&mat)
	}
	if !vc.Read(&mat) || mat.Empty() {
		vc.Close()
		return nil, fmt.Errorf("camera %d: %w", device, errEmptyFrame)
	}
	c.dims = image.Pt(mat.Cols(), mat.Rows())

	logger.Info("📷 Camera %d opened at %dx%d", device, c.dims.X, c.dims.Y)
	return c, nil
}

// ReadMat reads one frame, corrected when calibrated. The caller owns the Mat.
func (c *Camera) ReadMat() (gocv.Mat, error) {
	mat := gocv.NewMat()
	if !c.vc.Read(&mat) || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errEmptyFrame
	}
	if c.undistort == nil {
		return mat, nil
	}
	corrected := c.undistort.Apply(mat)
	mat.Close()
	return corrected, nil
}

// ReadRaw reads one uncorrected frame.
func (c *Camera) ReadRaw() (gocv.Mat, error) {
	mat := gocv.NewMat()
	if !c.vc.Read(&mat) || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errEmptyFrame
	}
	return mat, nil
}

func (c *Camera) Read() (experiment.Frame, error) {
	mat, err := c.ReadMat()
	if err != nil {
		return nil, err
	}
	return NewFrame(mat), nil
}

func (c *Camera) Dimensions() image.Point {
	return c.dims
}

// Undistorter returns the correction in use, or nil.
func (c *Camera) Undistorter() *Undistorter {
	return c.undistort
}

// Close releases the device and the undistorter.
func (c *Camera) Close() error {
	if c.undistort != nil {
		c.undistort.Close()
	}
	return c.vc.Close()
}

// MeasureFPS times rounds of reads and returns the median rate.
func (c *Camera) MeasureFPS(reads, rounds int) (float64, error) {
	if reads < 1 || rounds < 1 {
		return 0, errors.New("reads and rounds must be positive")
	}
	mat := gocv.NewMat()
	defer mat.Close()

	rates := make([]float64, 0, rounds)
	for r := 0; r < rounds; r++ {
		start := time.Now()
		for i := 0; i < reads; i++ {
			if !c.vc.Read(&mat) {
				return 0, errEmptyFrame
			}
		}
		rates = append(rates, float64(reads)/time.Since(start).Seconds())
	}
	sort.Float64s(rates)
	fps := rates[len(rates)/2]
	c.logger.Info("Measured %.2f fps over %d rounds", fps, rounds)
	return fps, nil
}
