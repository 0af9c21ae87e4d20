package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"flyassay/internal/experiment"
	"flyassay/internal/roi"
)

// Background model and cleanup parameters for counting moving flies.
const (
	knnHistory       = 5
	knnDistThreshold = 300
	medianKernel     = 7
	contourThickness = 2
)

// contourColor outlines moving flies in blue.
var contourColor = color.RGBA{B: 255}

// Counter counts moving blobs per region. Each region keeps its own KNN
// background model.
type Counter struct {
	regions     map[string]roi.Region
	subtractors map[string]*gocv.BackgroundSubtractorKNN
	kernel      gocv.Mat
	mask        gocv.Mat
	blurred     gocv.Mat
}

// NewCounter prepares one background subtractor per region.
func NewCounter(set roi.Set) (*Counter, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	c := &Counter{
		regions:     make(map[string]roi.Region, len(set)),
		subtractors: make(map[string]*gocv.BackgroundSubtractorKNN, len(set)),
		kernel:      gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3)),
		mask:        gocv.NewMat(),
		blurred:     gocv.NewMat(),
	}
	for _, r := range set {
		knn := gocv.NewBackgroundSubtractorKNNWithParams(knnHistory, knnDistThreshold, false)
		c.regions[r.Name] = r
		c.subtractors[r.Name] = &knn
	}
	return c, nil
}

// Count runs the region through its background model and returns the number
// of external contours. Contours are drawn onto the frame.
func (c *Counter) Count(region string, f experiment.Frame) (int, error) {
	knn, ok := c.subtractors[region]
	if !ok {
		return 0, fmt.Errorf("unknown region %s", region)
	}
	mat, err := matOf(f)
	if err != nil {
		return 0, err
	}
	rect, err := c.regions[region].Clamp(f.Bounds())
	if err != nil {
		return 0, err
	}

	crop := mat.Region(rect)
	defer crop.Close()

	knn.Apply(crop, &c.mask)
	gocv.MedianBlur(c.mask, &c.blurred, medianKernel)
	gocv.Dilate(c.blurred, &c.mask, c.kernel)

	contours := gocv.FindContours(c.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	gocv.DrawContours(&crop, contours, -1, contourColor, contourThickness)
	return contours.Size(), nil
}

// Snapshot encodes the region of the frame, including any drawn contours.
func (c *Counter) Snapshot(region string, f experiment.Frame) ([]byte, error) {
	r, ok := c.regions[region]
	if !ok {
		return nil, fmt.Errorf("unknown region %s", region)
	}
	mat, err := matOf(f)
	if err != nil {
		return nil, err
	}
	rect, err := r.Clamp(f.Bounds())
	if err != nil {
		return nil, err
	}
	crop := mat.Region(rect)
	defer crop.Close()
	return encodeJPEG(crop)
}

func (c *Counter) Close() error {
	for _, knn := range c.subtractors {
		knn.Close()
	}
	c.blurred.Close()
	c.mask.Close()
	return c.kernel.Close()
}
