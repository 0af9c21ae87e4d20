package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/logger"
	"flyassay/internal/repository/sqlite"
	"flyassay/internal/rig"
	"flyassay/internal/roi"
	"flyassay/internal/route"
	"flyassay/internal/service"
	"flyassay/internal/service/storage"
	"flyassay/internal/service/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	buffer     *storage.SnapshotBuffer
	hubService *websocket.HubService
	manager    *service.Manager
	router     http.Handler
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	if err := os.MkdirAll(cfg.DataDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	repos := route.Repositories{
		Experiments: sqlite.NewExperimentRepository(db),
		Samples:     sqlite.NewSampleRepository(db),
		Snapshots:   sqlite.NewSnapshotRepository(db),
	}
	hub := websocket.NewHubService(log)
	buffer := storage.NewSnapshotBuffer(cfg, log, repos.Snapshots)
	mng := service.NewManager(cfg, rig.New(cfg, log), hub, buffer, repos.Experiments, repos.Samples, log)

	if data, err := calibration.Load(cfg.CalibrationPath); err != nil {
		log.Warning("No camera calibration loaded: %v", err)
	} else if err := mng.SetCalibration(data); err != nil {
		log.Warning("Calibration %s rejected: %v", cfg.CalibrationPath, err)
	}
	if set, err := roi.Load(cfg.ROIPath); err != nil {
		log.Warning("No regions loaded: %v", err)
	} else if err := mng.SetRegions(set); err != nil {
		log.Warning("Regions %s rejected: %v", cfg.ROIPath, err)
	}

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		buffer:     buffer,
		hubService: hub,
		manager:    mng,
		router:     route.SetupRoutes(mng, hub, repos, cfg, log),
	}, nil
}

// Run serves until SIGINT/SIGTERM. A running experiment is stopped and saved
// before the background services shut down.
func (a *App) Run() error {
	defer a.logger.Close()
	defer a.db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: fmt.Sprintf(":%d", a.config.Port), Handler: a.router}

	background, bgCtx := errgroup.WithContext(context.Background())
	serviceCtx, cancelServices := context.WithCancel(bgCtx)
	background.Go(func() error { a.hubService.Run(serviceCtx); return nil })
	background.Go(func() error { a.buffer.Run(serviceCtx); return nil })

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	fmt.Printf("🪰 Fly Activity Assay\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🔑 Password: %s\n", a.config.Password)
	fmt.Printf("📁 Data: %s\n", a.config.DataDirectory)
	a.logger.Info("Server listening on :%d", a.config.Port)

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	}

	if stopErr := a.manager.Stop(); stopErr == nil {
		a.logger.Warning("Experiment stopped by shutdown")
	} else if !errors.Is(stopErr, service.ErrNotRunning) {
		a.logger.Error("Failed to stop experiment: %v", stopErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("Server shutdown: %v", shutdownErr)
	}

	cancelServices()
	background.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
