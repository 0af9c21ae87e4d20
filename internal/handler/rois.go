package handler

import (
	"encoding/json"
	"image"
	"io"
	"net/http"

	"flyassay/internal/config"
	"flyassay/internal/dto"
	"flyassay/internal/logger"
	"flyassay/internal/roi"
)

// GetRegionsHandler handles GET /api/rois.
func GetRegionsHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := ctrl.Regions()
		if set == nil {
			set = roi.Set{}
		}
		writeJSON(w, logger, http.StatusOK, set)
	}
}

// PutRegionsHandler handles PUT /api/rois with a region file body and saves
// it to the configured path.
func PutRegionsHandler(ctrl Controller, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var set roi.Set
		if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
			writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := ctrl.SetRegions(set); err != nil {
			writeError(w, logger, err)
			return
		}
		if cfg.ROIPath != "" {
			if err := roi.Save(cfg.ROIPath, set); err != nil {
				writeError(w, logger, err)
				return
			}
			logger.Info("Saved regions to %s", cfg.ROIPath)
		}
		writeJSON(w, logger, http.StatusOK, set)
	}
}

// LoadRegionsHandler handles POST /api/rois/load. An empty path loads the
// configured region file.
func LoadRegionsHandler(ctrl Controller, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := requestPath(r, cfg.ROIPath)
		set, err := roi.Load(path)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := ctrl.SetRegions(set); err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("Loaded regions %v from %s", set.Names(), path)
		writeJSON(w, logger, http.StatusOK, set)
	}
}

// AddLineRegionHandler handles POST /api/rois/line. The line spans the whole
// frame; an unnamed line takes the next free arena name.
func AddLineRegionHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.LineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Width <= 0 || req.FrameW <= 0 || req.FrameH <= 0 {
			http.Error(w, "width and frame size must be positive", http.StatusBadRequest)
			return
		}

		current := ctrl.Regions()
		name := req.Name
		if name == "" {
			name = current.NextName()
		}
		line, err := roi.NewLine(name, roi.LineMode(req.Mode), image.Pt(req.X, req.Y), req.Width, image.Rect(0, 0, req.FrameW, req.FrameH))
		if err != nil {
			writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		set := current.With(line)
		if err := ctrl.SetRegions(set); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, set)
	}
}

// requestPath reads an optional {"path": ...} body.
func requestPath(r *http.Request, fallback string) string {
	var req dto.PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return fallback
	}
	if req.Path == "" {
		return fallback
	}
	return req.Path
}
