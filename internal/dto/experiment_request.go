package dto

// StartRequest overrides the configured experiment defaults. Durations are in
// seconds. Nil fields keep the default.
type StartRequest struct {
	Duration      *float64 `json:"duration"`
	StimOnset     *float64 `json:"stim_onset"`
	StimDuration  *float64 `json:"stim_duration"`
	LEDFrequency  *float64 `json:"led_frequency"`
	LEDPulseWidth *float64 `json:"led_pulse_width"`
	FPSCap        *float64 `json:"fps_cap"`
	WriteVideo    *bool    `json:"write_video"`
	WriteCSV      *bool    `json:"write_csv"`
	UseArduino    *bool    `json:"use_arduino"`
	SaveDir       *string  `json:"save_dir"`
}

// StatusResponse describes the current or last run.
type StatusResponse struct {
	Running      bool    `json:"running"`
	Starting     bool    `json:"starting,omitempty"`
	ExperimentID int64   `json:"experiment_id,omitempty"`
	RunID        string  `json:"run_id,omitempty"`
	Timestring   string  `json:"timestring,omitempty"`
	Directory    string  `json:"directory,omitempty"`
	Elapsed      float64 `json:"elapsed"`
	Frames       int     `json:"frames"`
	MaxLag       int     `json:"max_lag"`
	LastError    string  `json:"last_error,omitempty"`
}

// PathRequest names a file on the rig.
type PathRequest struct {
	Path string `json:"path"`
}

// LineRequest adds a beam-crossing region centred on a clicked point.
type LineRequest struct {
	Name   string `json:"name,omitempty"`
	Mode   string `json:"mode"` // vertical or horizontal
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	FrameW int    `json:"frame_width"`
	FrameH int    `json:"frame_height"`
}
