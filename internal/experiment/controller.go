package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flyassay/internal/logger"
	"flyassay/internal/stimulus"
)

// maxReadFailures consecutive failed reads end the run.
const maxReadFailures = 30

// ErrCameraLost is returned when the camera stops delivering frames.
var ErrCameraLost = errors.New("camera stopped delivering frames")

// Controller is the capture side: camera reads capped to the frame rate,
// raw video out, LED timing, and the queue feed.
type Controller struct {
	source   Source
	stim     stimulus.Stimulator
	video    VideoSink
	settings Settings
	logger   *logger.Logger
	now      func() time.Time

	frames     int
	stimWarned bool
}

// NewController wires a capture loop. video may be nil.
func NewController(source Source, stim stimulus.Stimulator, video VideoSink, settings Settings, logger *logger.Logger) *Controller {
	if stim == nil {
		stim = &stimulus.Disabled{}
	}
	return &Controller{
		source:   source,
		stim:     stim,
		video:    video,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Frames returns the number of frames queued so far.
func (c *Controller) Frames() int {
	return c.frames
}

// Run captures until the experiment duration has elapsed or ctx is cancelled,
// then closes out. Hardware is released before returning.
func (c *Controller) Run(ctx context.Context, out chan<- Sample) error {
	defer close(out)
	defer c.release()

	interval := c.settings.FrameInterval()
	if interval <= 0 {
		return fmt.Errorf("frame rate cap %g is too high", c.settings.FPSCap)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	schedule := c.settings.Schedule()
	start := c.now()
	failures := 0

	c.logger.Info("Capture started: %v at up to %.1f fps", c.settings.Duration, c.settings.FPSCap)

	for {
		select {
		case <-ctx.Done():
			c.logger.Warning("Capture stopped early after %d frames", c.frames)
			return nil
		case <-ticker.C:
		}

		frame, err := c.source.Read()
		if err != nil {
			failures++
			c.logger.Warning("Failed to read frame (%d in a row): %v", failures, err)
			if failures >= maxReadFailures {
				return fmt.Errorf("%w: %v", ErrCameraLost, err)
			}
			continue
		}
		failures = 0

		if c.video != nil {
			if err := c.video.WriteFrame(frame.Bytes()); err != nil {
				c.logger.Error("Dropping video output: %v", err)
				c.video.Close()
				c.video = nil
			}
		}

		elapsed := c.now().Sub(start)
		stimOn := c.updateStimulus(schedule, elapsed)

		select {
		case out <- Sample{Elapsed: elapsed, Frame: frame, Stim: stimOn}:
			c.frames++
		case <-ctx.Done():
			frame.Close()
			c.logger.Warning("Capture stopped early after %d frames", c.frames)
			return nil
		}

		if elapsed >= c.settings.Duration {
			c.logger.Info("Capture finished: %d frames in %v", c.frames, elapsed)
			return nil
		}
	}
}

// updateStimulus switches the LEDs on state changes only and returns whether
// the stimulation window is open.
func (c *Controller) updateStimulus(schedule stimulus.Schedule, elapsed time.Duration) bool {
	active := schedule.Active(elapsed)
	if !c.settings.UseStimulator {
		return active
	}

	var err error
	switch {
	case active && !c.stim.IsOn():
		err = c.stim.On(c.settings.LEDFrequency, c.settings.LEDPulseWidth)
	case !active && c.stim.IsOn():
		err = c.stim.Off()
	}
	if err != nil {
		if !c.stimWarned {
			c.logger.Warning("Stimulus did not acknowledge: %v", err)
			c.stimWarned = true
		}
	} else {
		c.stimWarned = false
	}
	return active
}

func (c *Controller) release() {
	if err := c.stim.Close(); err != nil {
		c.logger.Error("Failed to close stimulus: %v", err)
	}
	if c.video != nil {
		if err := c.video.Close(); err != nil {
			c.logger.Error("Failed to finish video: %v", err)
		}
	}
	if err := c.source.Close(); err != nil {
		c.logger.Error("Failed to release camera: %v", err)
	}
}
