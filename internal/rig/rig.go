// Package rig opens the physical devices of the assay: the calibrated camera,
// the Arduino LED driver and the ffmpeg encoder.
package rig

import (
	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/recorder"
	"flyassay/internal/roi"
	"flyassay/internal/stimulus"
	"flyassay/internal/vision"
)

// Rig implements the hardware factory used by the experiment manager.
type Rig struct {
	config *config.Config
	logger *logger.Logger
}

func New(config *config.Config, logger *logger.Logger) *Rig {
	return &Rig{config: config, logger: logger}
}

func (r *Rig) openCamera(calib *calibration.Data) (*vision.Camera, error) {
	u, err := vision.NewUndistorter(calib)
	if err != nil {
		return nil, err
	}
	cam, err := vision.OpenCamera(r.config.CameraDevice, r.config.WarmupFrames, u, r.logger)
	if err != nil {
		u.Close()
		return nil, err
	}
	return cam, nil
}

// OpenSource opens the lens-corrected camera.
func (r *Rig) OpenSource(calib *calibration.Data) (experiment.Source, error) {
	cam, err := r.openCamera(calib)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func (r *Rig) NewCounter(set roi.Set) (experiment.Counter, error) {
	c, err := vision.NewCounter(set)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Rig) OpenStimulator() (stimulus.Stimulator, error) {
	a, err := stimulus.Open(stimulus.PortConfig{
		Name:        r.config.SerialPort,
		Baud:        r.config.BaudRate,
		ReadTimeout: r.config.SerialTimeout,
		Settle:      r.config.SerialSettle,
	}, r.logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Rig) StartVideo(opts recorder.Options) (experiment.VideoSink, error) {
	w, err := recorder.Start(r.config.FFmpegBin, opts)
	if err != nil {
		return nil, err
	}
	r.logger.Info("🎬 Recording %s", opts.Output)
	return w, nil
}

// Preview opens the camera for a single annotated frame.
func (r *Rig) Preview(calib *calibration.Data, set roi.Set) ([]byte, error) {
	cam, err := r.openCamera(calib)
	if err != nil {
		return nil, err
	}
	defer cam.Close()
	return vision.Preview(cam, set)
}
