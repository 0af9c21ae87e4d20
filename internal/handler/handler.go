package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"flyassay/internal/calibration"
	"flyassay/internal/dto"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/roi"
	"flyassay/internal/service"
)

// Controller is the experiment session the API drives.
type Controller interface {
	DefaultSettings() experiment.Settings
	Start(settings experiment.Settings) (*model.Experiment, error)
	Stop() error
	Status() dto.StatusResponse

	SetRegions(set roi.Set) error
	Regions() roi.Set
	SetCalibration(data *calibration.Data) error
	Calibration() *calibration.Data
	Preview() ([]byte, error)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning), errors.Is(err, service.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoRegions), errors.Is(err, service.ErrNoCalibration):
		return http.StatusPreconditionFailed
	case errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, roi.ErrNotRegionFile), errors.Is(err, roi.ErrEmptyRegion),
		errors.Is(err, calibration.ErrNotCalibrationFile):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, logger, status, map[string]string{"error": err.Error()})
}
