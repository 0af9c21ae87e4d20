package handler

import (
	"net/http"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/logger"
	"flyassay/internal/service"
)

// GetCalibrationHandler handles GET /api/calibration.
func GetCalibrationHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := ctrl.Calibration()
		if data == nil {
			writeError(w, logger, service.ErrNoCalibration)
			return
		}
		writeJSON(w, logger, http.StatusOK, data)
	}
}

// LoadCalibrationHandler handles POST /api/calibration/load.
func LoadCalibrationHandler(ctrl Controller, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := requestPath(r, cfg.CalibrationPath)
		data, err := calibration.Load(path)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := ctrl.SetCalibration(data); err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("Loaded calibration from %s", path)
		writeJSON(w, logger, http.StatusOK, data)
	}
}

// PreviewHandler handles GET /api/preview with a corrected JPEG frame.
func PreviewHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, err := ctrl.Preview()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(img)
	}
}
