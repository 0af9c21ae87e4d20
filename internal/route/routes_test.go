package route

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/dto"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/repository/sqlite"
	"flyassay/internal/roi"
	ws "flyassay/internal/service/websocket"
)

type stubController struct{}

func (stubController) DefaultSettings() experiment.Settings                 { return experiment.Settings{} }
func (stubController) Start(experiment.Settings) (*model.Experiment, error) { return &model.Experiment{}, nil }
func (stubController) Stop() error                                          { return nil }
func (stubController) Status() dto.StatusResponse                           { return dto.StatusResponse{} }
func (stubController) SetRegions(roi.Set) error                             { return nil }
func (stubController) Regions() roi.Set                                     { return nil }
func (stubController) SetCalibration(*calibration.Data) error               { return nil }
func (stubController) Calibration() *calibration.Data                       { return nil }
func (stubController) Preview() ([]byte, error)                             { return nil, nil }

func TestSetupRoutes(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	log := logger.Discard()
	repos := Repositories{
		Experiments: sqlite.NewExperimentRepository(db),
		Samples:     sqlite.NewSampleRepository(db),
		Snapshots:   sqlite.NewSnapshotRepository(db),
	}
	h := SetupRoutes(stubController{}, ws.NewHubService(log), repos, &config.Config{DataDirectory: t.TempDir()}, log)

	tests := []struct {
		method   string
		path     string
		expected int
	}{
		{http.MethodGet, "/api/experiment/status", http.StatusOK},
		{http.MethodPost, "/api/experiment/stop", http.StatusOK},
		{http.MethodGet, "/api/rois", http.StatusOK},
		{http.MethodGet, "/api/experiments", http.StatusOK},
		{http.MethodGet, "/api/experiments/42", http.StatusNotFound},
		{http.MethodGet, "/missing-page", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.AddCookie(&http.Cookie{Name: "authenticated", Value: "true"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.expected, rec.Code, "%s %s", tt.method, tt.path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/experiments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
