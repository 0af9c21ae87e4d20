// Package experiment runs one activity assay: a capture loop that reads
// frames and times the LED stimulus, and an analysis loop that counts moving
// flies per region, joined by a single queue.
package experiment

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"flyassay/internal/stimulus"
)

// Settings are the per-run experiment options.
type Settings struct {
	Duration      time.Duration
	StimOnset     time.Duration
	StimDuration  time.Duration
	LEDFrequency  float64 // Hz
	LEDPulseWidth float64 // ms the LED stays on per flash
	FPSCap        float64
	WriteVideo    bool
	WriteCSV      bool
	UseStimulator bool
	SaveDir       string // Parent directory; each run gets its own folder
}

// Validate rejects settings that cannot produce a run.
func (s Settings) Validate() error {
	if s.Duration <= 0 {
		return errors.New("experiment duration must be positive")
	}
	if s.FPSCap <= 0 {
		return errors.New("frame rate cap must be positive")
	}
	if s.FrameInterval() <= 0 {
		return fmt.Errorf("frame rate cap %g is too high", s.FPSCap)
	}
	if s.StimOnset < 0 || s.StimDuration < 0 {
		return errors.New("stimulus timing must not be negative")
	}
	if s.UseStimulator && (s.LEDFrequency < 0 || s.LEDPulseWidth < 0) {
		return errors.New("LED frequency and pulse width must not be negative")
	}
	if s.SaveDir == "" {
		return errors.New("save directory is required")
	}
	return nil
}

// FrameInterval is the minimum spacing between captured frames.
func (s Settings) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.FPSCap)
}

// Schedule returns the stimulation window.
func (s Settings) Schedule() stimulus.Schedule {
	return stimulus.Schedule{Onset: s.StimOnset, Duration: s.StimDuration}
}

// Timestring names the run's folder and output files.
func Timestring(now time.Time, s Settings) string {
	ts := now.Format("2006-01-02 15.04.05")
	if s.UseStimulator {
		ts += fmt.Sprintf(" - %s Hz %s Pulse width",
			strconv.FormatFloat(s.LEDFrequency, 'f', -1, 64),
			strconv.FormatFloat(s.LEDPulseWidth, 'f', -1, 64))
	}
	return ts
}

// ParsedTimestring is what a run folder name records about the run.
type ParsedTimestring struct {
	Started       time.Time
	UseStimulator bool
	LEDFrequency  float64
	LEDPulseWidth float64
}

// ParseTimestring reads a name produced by Timestring, in loc.
func ParseTimestring(ts string, loc *time.Location) (ParsedTimestring, error) {
	const layout = "2006-01-02 15.04.05"
	var p ParsedTimestring
	if len(ts) < len(layout) {
		return p, fmt.Errorf("timestring %q is too short", ts)
	}
	started, err := time.ParseInLocation(layout, ts[:len(layout)], loc)
	if err != nil {
		return p, fmt.Errorf("bad timestring %q: %w", ts, err)
	}
	p.Started = started

	rest := ts[len(layout):]
	if rest == "" {
		return p, nil
	}
	var freq, pulse float64
	if _, err := fmt.Sscanf(rest, " - %g Hz %g Pulse width", &freq, &pulse); err != nil {
		return p, fmt.Errorf("bad stimulus suffix in %q: %w", ts, err)
	}
	p.UseStimulator = true
	p.LEDFrequency = freq
	p.LEDPulseWidth = pulse
	return p, nil
}
