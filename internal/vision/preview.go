package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"flyassay/internal/roi"
)

var regionColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// Preview grabs one corrected frame, outlines the regions and returns JPEG.
func Preview(cam *Camera, set roi.Set) ([]byte, error) {
	mat, err := cam.ReadMat()
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if err := DrawRegions(&mat, set); err != nil {
		return nil, err
	}
	return encodeJPEG(mat)
}

// DrawRegions outlines and labels each region.
func DrawRegions(mat *gocv.Mat, set roi.Set) error {
	for _, r := range set {
		rect := r.Rect()
		if err := gocv.Rectangle(mat, rect, regionColor, 2); err != nil {
			return err
		}
		pt := image.Pt(rect.Min.X+4, rect.Min.Y+16)
		if err := gocv.PutText(mat, r.Name, pt, gocv.FontHersheySimplex, 0.5, regionColor, 1); err != nil {
			return err
		}
	}
	return nil
}

// SideBySide joins the raw and corrected frames horizontally.
func SideBySide(raw gocv.Mat, u *Undistorter) gocv.Mat {
	corrected := u.Apply(raw)
	defer corrected.Close()
	out := gocv.NewMat()
	gocv.Hconcat(raw, corrected, &out)
	return out
}

// Show streams frames to a window until a key is pressed or next fails.
func Show(title string, next func() (gocv.Mat, error)) error {
	window := gocv.NewWindow(title)
	defer window.Close()
	for {
		mat, err := next()
		if err != nil {
			return err
		}
		window.IMShow(mat)
		mat.Close()
		if window.WaitKey(1) >= 0 {
			return nil
		}
	}
}
