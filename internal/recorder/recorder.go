// Package recorder pipes raw frames into an external ffmpeg process.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

// Options describe the encoded stream.
type Options struct {
	Width  int
	Height int
	FPS    float64
	Output string
	// Stderr receives the encoder's diagnostics. Nil discards them. Never a
	// pipe read back by this process: a full pipe stalls the encoder.
	Stderr io.Writer
}

// FileName returns <dir>/video--<timestring>.avi.
func FileName(dir, timestring string) string {
	return filepath.Join(dir, "video--"+timestring+".avi")
}

// Args builds the ffmpeg arguments for bgr24 frames read from stdin.
func Args(opts Options) []string {
	return []string{
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-vcodec", "libx264rgb",
		"-preset", "fast",
		"-crf", "15",
		opts.Output,
	}
}

// Writer feeds frames to a running encoder.
type Writer struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	frameSize int

	mu     sync.Mutex
	closed bool
	frames int
}

// Start launches bin with Args(opts).
func Start(bin string, opts Options) (*Writer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", opts.FPS)
	}
	cmd := exec.Command(bin, Args(opts)...)
	cmd.Stderr = opts.Stderr
	return start(cmd, opts.Width*opts.Height*3)
}

func start(cmd *exec.Cmd, frameSize int) (*Writer, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return &Writer{cmd: cmd, stdin: stdin, frameSize: frameSize}, nil
}

// WriteFrame writes one raw frame. Frames of the wrong size are rejected, they
// would shear every following frame.
func (w *Writer) WriteFrame(raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("encoder closed")
	}
	if w.frameSize > 0 && len(raw) != w.frameSize {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", len(raw), w.frameSize)
	}
	if _, err := w.stdin.Write(raw); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.frames++
	return nil
}

// Frames returns how many frames were written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close ends the stream and waits for the encoder to finish the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	closeErr := w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder exited: %w", err)
	}
	return closeErr
}
