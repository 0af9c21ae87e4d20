package model

import "time"

// Experiment run states.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// Experiment represents one recorded assay run.
type Experiment struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	Timestring    string     `json:"timestring"`
	Directory     string     `json:"directory"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Duration      float64    `json:"duration"`
	StimOnset     float64    `json:"stim_onset"`
	StimDuration  float64    `json:"stim_duration"`
	LEDFrequency  float64    `json:"led_frequency"`
	LEDPulseWidth float64    `json:"led_pulse_width"`
	FPSCap        float64    `json:"fps_cap"`
	UseStimulator bool       `json:"use_stimulator"`
	Frames        int        `json:"frames"`
	MaxLag        int        `json:"max_lag"`
}
