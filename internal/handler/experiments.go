package handler

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"flyassay/internal/dto"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/repository"
)

// ExperimentsData is the paginated experiment list.
type ExperimentsData struct {
	Experiments []model.Experiment `json:"experiments"`
	CurrentPage int                `json:"current_page"`
	Limit       int                `json:"limit"`
}

// ListExperimentsHandler handles GET /api/experiments.
func ListExperimentsHandler(experimentRepo repository.ExperimentRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 50)

		filter := &dto.ExperimentFilters{
			Status:     q.Get("status"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}
		if !filter.DateBefore.IsZero() {
			filter.DateBefore = filter.DateBefore.Add(24*time.Hour - time.Nanosecond)
		}

		experiments, err := experimentRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying experiments from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if experiments == nil {
			experiments = []model.Experiment{}
		}

		writeJSON(w, logger, http.StatusOK, ExperimentsData{Experiments: experiments, CurrentPage: page, Limit: limit})
	}
}

// experimentFromPath loads the {id} experiment, writing the error response
// when it is missing.
func experimentFromPath(w http.ResponseWriter, r *http.Request, experimentRepo repository.ExperimentRepository, logger *logger.Logger) *model.Experiment {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid experiment id", http.StatusBadRequest)
		return nil
	}
	exp, err := experimentRepo.GetByID(id)
	if err != nil {
		logger.Error("Error loading experiment %d: %v", id, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil
	}
	if exp == nil {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return nil
	}
	return exp
}

// GetExperimentHandler handles GET /api/experiments/{id}.
func GetExperimentHandler(experimentRepo repository.ExperimentRepository, sampleRepo repository.SampleRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp := experimentFromPath(w, r, experimentRepo, logger)
		if exp == nil {
			return
		}
		regions, err := sampleRepo.GetRegionNames(exp.ID)
		if err != nil {
			logger.Error("Error getting regions for experiment %d: %v", exp.ID, err)
		}
		if regions == nil {
			regions = []string{}
		}
		writeJSON(w, logger, http.StatusOK, struct {
			*model.Experiment
			Regions []string `json:"regions"`
		}{exp, regions})
	}
}

// DeleteExperimentHandler handles DELETE /api/experiments/{id}. With
// ?files=true the run folder is removed as well.
func DeleteExperimentHandler(experimentRepo repository.ExperimentRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp := experimentFromPath(w, r, experimentRepo, logger)
		if exp == nil {
			return
		}
		if exp.Status == model.StatusRunning {
			http.Error(w, "Experiment is still running", http.StatusConflict)
			return
		}
		if err := experimentRepo.Delete(exp.ID); err != nil {
			logger.Error("Failed to delete experiment %d: %v", exp.ID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("files") == "true" {
			if err := os.RemoveAll(exp.Directory); err != nil {
				logger.Error("Failed to delete %s: %v", exp.Directory, err)
			}
		}

		logger.Info("Deleted experiment %s", exp.Timestring)
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "deleted", "timestring": exp.Timestring})
	}
}

// GetSamplesHandler handles GET /api/experiments/{id}/samples[?region=roi1].
func GetSamplesHandler(experimentRepo repository.ExperimentRepository, sampleRepo repository.SampleRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp := experimentFromPath(w, r, experimentRepo, logger)
		if exp == nil {
			return
		}
		samples, err := sampleRepo.GetByExperiment(exp.ID, r.URL.Query().Get("region"))
		if err != nil {
			logger.Error("Error querying samples: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if samples == nil {
			samples = []model.Sample{}
		}
		writeJSON(w, logger, http.StatusOK, samples)
	}
}

// GetSnapshotsHandler handles GET /api/experiments/{id}/snapshots.
func GetSnapshotsHandler(experimentRepo repository.ExperimentRepository, snapshotRepo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp := experimentFromPath(w, r, experimentRepo, logger)
		if exp == nil {
			return
		}
		snaps, err := snapshotRepo.GetByExperiment(exp.ID)
		if err != nil {
			logger.Error("Error querying snapshots: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if snaps == nil {
			snaps = []model.Snapshot{}
		}
		writeJSON(w, logger, http.StatusOK, snaps)
	}
}

func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
