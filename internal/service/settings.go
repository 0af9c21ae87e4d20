package service

import (
	"time"

	"flyassay/internal/dto"
	"flyassay/internal/experiment"
)

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ApplyRequest overrides s with the fields set in req.
func ApplyRequest(s experiment.Settings, req dto.StartRequest) experiment.Settings {
	if req.Duration != nil {
		s.Duration = seconds(*req.Duration)
	}
	if req.StimOnset != nil {
		s.StimOnset = seconds(*req.StimOnset)
	}
	if req.StimDuration != nil {
		s.StimDuration = seconds(*req.StimDuration)
	}
	if req.LEDFrequency != nil {
		s.LEDFrequency = *req.LEDFrequency
	}
	if req.LEDPulseWidth != nil {
		s.LEDPulseWidth = *req.LEDPulseWidth
	}
	if req.FPSCap != nil {
		s.FPSCap = *req.FPSCap
	}
	if req.WriteVideo != nil {
		s.WriteVideo = *req.WriteVideo
	}
	if req.WriteCSV != nil {
		s.WriteCSV = *req.WriteCSV
	}
	if req.UseArduino != nil {
		s.UseStimulator = *req.UseArduino
	}
	if req.SaveDir != nil && *req.SaveDir != "" {
		s.SaveDir = *req.SaveDir
	}
	return s
}
