package vision

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"flyassay/internal/calibration"
	"flyassay/internal/logger"
)

// DefaultPattern is the inner corner count of the printed chessboard.
var DefaultPattern = image.Pt(6, 6)

// Calibrator collects chessboard views from a live camera and solves for the
// camera matrix and distortion coefficients.
type Calibrator struct {
	Pattern image.Point
	Samples int
	Show    bool // display detections while collecting
	logger  *logger.Logger
}

func NewCalibrator(pattern image.Point, samples int, logger *logger.Logger) *Calibrator {
	return &Calibrator{Pattern: pattern, Samples: samples, logger: logger}
}

// objectPoints is the flat chessboard in square units.
func (c *Calibrator) objectPoints() gocv.Point3fVector {
	pts := make([]gocv.Point3f, 0, c.Pattern.X*c.Pattern.Y)
	for y := 0; y < c.Pattern.Y; y++ {
		for x := 0; x < c.Pattern.X; x++ {
			pts = append(pts, gocv.Point3f{X: float32(x), Y: float32(y)})
		}
	}
	return gocv.NewPoint3fVectorFromPoints(pts)
}

// Run reads raw frames until Samples chessboards were found, then calibrates.
func (c *Calibrator) Run(cam *Camera) (*calibration.Data, error) {
	if c.Samples < 1 {
		return nil, errors.New("at least one calibration sample is required")
	}

	objPoints := gocv.NewPoints3fVector()
	defer objPoints.Close()
	imgPoints := gocv.NewPoints2fVector()
	defer imgPoints.Close()

	var window *gocv.Window
	if c.Show {
		window = gocv.NewWindow("calibration")
		defer window.Close()
	}

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.001)
	gray := gocv.NewMat()
	defer gray.Close()

	var size image.Point
	found := 0
	for found < c.Samples {
		frame, err := cam.ReadRaw()
		if err != nil {
			return nil, err
		}
		size = image.Pt(frame.Cols(), frame.Rows())
		if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
			frame.Close()
			return nil, err
		}

		corners := gocv.NewMat()
		if gocv.FindChessboardCorners(gray, c.Pattern, &corners, gocv.CalibCBFastCheck) {
			gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

			obj := c.objectPoints()
			objPoints.Append(obj)
			obj.Close()
			img := gocv.NewPoint2fVectorFromMat(corners)
			imgPoints.Append(img)
			img.Close()

			found++
			c.logger.Info("Chessboard %d/%d found", found, c.Samples)
			gocv.DrawChessboardCorners(&frame, c.Pattern, corners, true)
		}
		corners.Close()

		if window != nil {
			window.IMShow(frame)
			window.WaitKey(1)
		}
		frame.Close()
	}

	mtx := gocv.NewMat()
	defer mtx.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objPoints, imgPoints, size, &mtx, &dist, &rvecs, &tvecs, gocv.CalibFlag(0))
	c.logger.Info("Calibration RMS reprojection error %.4f", rms)

	return &calibration.Data{
		ReprojectionError: rms,
		CameraMatrix:      matRows(mtx),
		DistCoeff:         matRows(dist),
	}, nil
}

func matRows(m gocv.Mat) [][]float64 {
	out := make([][]float64, m.Rows())
	for r := range out {
		out[r] = make([]float64, m.Cols())
		for c := range out[r] {
			out[r][c] = m.GetDoubleAt(r, c)
		}
	}
	return out
}
