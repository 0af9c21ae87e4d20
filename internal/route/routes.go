package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"flyassay/internal/config"
	"flyassay/internal/handler"
	"flyassay/internal/logger"
	"flyassay/internal/middleware"
	"flyassay/internal/repository"
	ws "flyassay/internal/service/websocket"
)

// Repositories groups the stores read by the record endpoints.
type Repositories struct {
	Experiments repository.ExperimentRepository
	Samples     repository.SampleRepository
	Snapshots   repository.SnapshotRepository
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the control API, the live feed, record browsing,
// logs and auth, and wraps the router with the authentication middleware.
func SetupRoutes(ctrl handler.Controller, hub *ws.HubService, repos Repositories, cfg *config.Config, logger *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	api := r.PathPrefix("/api").Subrouter()

	// Experiment control
	api.HandleFunc("/experiment/start", handler.StartExperimentHandler(ctrl, logger)).Methods(http.MethodPost)
	api.HandleFunc("/experiment/stop", handler.StopExperimentHandler(ctrl, logger)).Methods(http.MethodPost)
	api.HandleFunc("/experiment/status", handler.StatusHandler(ctrl, logger)).Methods(http.MethodGet)
	api.HandleFunc("/live", handler.LiveWebsocketHandler(hub, logger))

	// Regions, calibration and preview
	api.HandleFunc("/rois", handler.GetRegionsHandler(ctrl, logger)).Methods(http.MethodGet)
	api.HandleFunc("/rois", handler.PutRegionsHandler(ctrl, cfg, logger)).Methods(http.MethodPut)
	api.HandleFunc("/rois/line", handler.AddLineRegionHandler(ctrl, logger)).Methods(http.MethodPost)
	api.HandleFunc("/rois/load", handler.LoadRegionsHandler(ctrl, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/calibration", handler.GetCalibrationHandler(ctrl, logger)).Methods(http.MethodGet)
	api.HandleFunc("/calibration/load", handler.LoadCalibrationHandler(ctrl, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/preview", handler.PreviewHandler(ctrl, logger)).Methods(http.MethodGet)

	// Stored runs
	api.HandleFunc("/experiments", handler.ListExperimentsHandler(repos.Experiments, logger)).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{id:[0-9]+}", handler.GetExperimentHandler(repos.Experiments, repos.Samples, logger)).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{id:[0-9]+}", handler.DeleteExperimentHandler(repos.Experiments, logger)).Methods(http.MethodDelete)
	api.HandleFunc("/experiments/{id:[0-9]+}/samples", handler.GetSamplesHandler(repos.Experiments, repos.Samples, logger)).Methods(http.MethodGet)
	api.HandleFunc("/experiments/{id:[0-9]+}/snapshots", handler.GetSnapshotsHandler(repos.Experiments, repos.Snapshots, logger)).Methods(http.MethodGet)

	// Snapshot thumbnails live under each run folder
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data/", http.FileServer(http.Dir(cfg.DataDirectory))))

	// Log endpoints
	r.HandleFunc("/logs/{level}", handler.ShowLogsHandler(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/logs/{level}/clear", handler.ClearLogsHandler(logger)).Methods(http.MethodPost)

	// Auth endpoints
	r.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	r.PathPrefix("/").HandlerFunc(dynamicHTMLHandler)

	return middleware.AuthMiddleware(r)
}
