package experiment

import (
	"image"
	"time"
)

// Frame is one captured, lens-corrected video frame.
type Frame interface {
	// Bytes returns the raw bgr24 pixels.
	Bytes() []byte
	Bounds() image.Rectangle
	Close() error
}

// Source delivers frames from the camera.
type Source interface {
	Read() (Frame, error)
	Dimensions() image.Point
	Close() error
}

// Counter counts active flies in one region of a frame.
type Counter interface {
	Count(region string, f Frame) (int, error)
	Close() error
}

// Snapshotter is implemented by counters that can export the annotated crop
// of the last counted region as JPEG.
type Snapshotter interface {
	Snapshot(region string, f Frame) ([]byte, error)
}

// VideoSink receives raw frames for encoding.
type VideoSink interface {
	WriteFrame(raw []byte) error
	Close() error
}

// Publisher receives live updates for viewers.
type Publisher interface {
	Publish(update LiveUpdate)
}

// SnapshotSink stores annotated region crops.
type SnapshotSink interface {
	AddSnapshot(region string, elapsed time.Duration, jpeg []byte)
}

// Sample is one queue element: a frame, when it was taken, and whether the
// stimulus window was open.
type Sample struct {
	Elapsed time.Duration
	Frame   Frame
	Stim    bool
}

// LiveUpdate is published after every analysed frame.
type LiveUpdate struct {
	Timestring  string             `json:"timestring"`
	Elapsed     float64            `json:"elapsed"`
	Stimulation bool               `json:"stimulation"`
	FPS         float64            `json:"fps"`
	Lag         int                `json:"lag"`
	Counts      map[string]int     `json:"counts"`
	Order       []string           `json:"order"`
	Window      map[string][]Point `json:"window,omitempty"`
}
