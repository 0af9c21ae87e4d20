package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"flyassay/internal/dto"
	"flyassay/internal/logger"
	"flyassay/internal/service"
)

// StartExperimentHandler handles POST /api/experiment/start. The optional JSON
// body overrides the configured defaults.
func StartExperimentHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		settings := service.ApplyRequest(ctrl.DefaultSettings(), req)
		exp, err := ctrl.Start(settings)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, exp)
	}
}

// StopExperimentHandler handles POST /api/experiment/stop.
func StopExperimentHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.Stop(); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, ctrl.Status())
	}
}

// StatusHandler handles GET /api/experiment/status.
func StatusHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, ctrl.Status())
	}
}
