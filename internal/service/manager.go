package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/dto"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/recorder"
	"flyassay/internal/repository"
	"flyassay/internal/results"
	"flyassay/internal/roi"
	"flyassay/internal/stimulus"
)

var (
	ErrAlreadyRunning  = errors.New("an experiment is already running")
	ErrNotRunning      = errors.New("no experiment is running")
	ErrNoRegions       = errors.New("no regions of interest defined")
	ErrNoCalibration   = errors.New("no camera calibration loaded")
	ErrInvalidSettings = errors.New("invalid experiment settings")
	ErrStartAborted    = errors.New("experiment stopped while starting")
)

// FPS measurement used when no frame rate cap is configured.
const (
	fpsMeasureReads  = 30
	fpsMeasureRounds = 5
)

// Hardware opens the rig's devices for one run.
type Hardware interface {
	OpenSource(calib *calibration.Data) (experiment.Source, error)
	NewCounter(set roi.Set) (experiment.Counter, error)
	OpenStimulator() (stimulus.Stimulator, error)
	StartVideo(opts recorder.Options) (experiment.VideoSink, error)
	Preview(calib *calibration.Data, set roi.Set) ([]byte, error)
}

// SnapshotStore collects annotated crops per run.
type SnapshotStore interface {
	ForRun(experimentID int64, directory, timestring string) experiment.SnapshotSink
	Flush()
}

type fpsMeter interface {
	MeasureFPS(reads, rounds int) (float64, error)
}

// activeRun is set as soon as Start accepts a run. analyzer stays nil while
// the hardware is being opened.
type activeRun struct {
	experiment model.Experiment
	settings   experiment.Settings
	analyzer   *experiment.Analyzer
	ctx        context.Context
	cancel     context.CancelFunc
	stopped    bool
	done       chan struct{}
}

// Manager runs one experiment at a time and keeps the regions and
// calibration used for the next run.
type Manager struct {
	config         *config.Config
	hardware       Hardware
	publisher      experiment.Publisher
	snapshots      SnapshotStore
	experimentRepo repository.ExperimentRepository
	sampleRepo     repository.SampleRepository
	logger         *logger.Logger
	now            func() time.Time

	mu      sync.Mutex
	regions roi.Set
	calib   *calibration.Data
	run     *activeRun
	last    dto.StatusResponse
}

// NewManager creates a manager. publisher, snapshots and the repositories may
// be nil.
func NewManager(config *config.Config, hardware Hardware, publisher experiment.Publisher, snapshots SnapshotStore,
	experimentRepo repository.ExperimentRepository, sampleRepo repository.SampleRepository, logger *logger.Logger) *Manager {
	return &Manager{
		config:         config,
		hardware:       hardware,
		publisher:      publisher,
		snapshots:      snapshots,
		experimentRepo: experimentRepo,
		sampleRepo:     sampleRepo,
		logger:         logger,
		now:            time.Now,
	}
}

// DefaultSettings returns the configured experiment defaults.
func (m *Manager) DefaultSettings() experiment.Settings {
	return experiment.Settings{
		Duration:      m.config.ExperimentDuration,
		StimOnset:     m.config.StimOnset,
		StimDuration:  m.config.StimDuration,
		LEDFrequency:  m.config.LEDFrequency,
		LEDPulseWidth: m.config.LEDPulseWidth,
		FPSCap:        m.config.FPSCap,
		WriteVideo:    m.config.WriteVideo,
		WriteCSV:      m.config.WriteCSV,
		UseStimulator: m.config.UseArduino,
		SaveDir:       m.config.DataDirectory,
	}
}

// SetRegions replaces the regions for the next run.
func (m *Manager) SetRegions(set roi.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return ErrAlreadyRunning
	}
	m.regions = set
	m.logger.Info("Regions set: %v", set.Names())
	return nil
}

func (m *Manager) Regions() roi.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions
}

// SetCalibration replaces the lens correction for the next run.
func (m *Manager) SetCalibration(data *calibration.Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return ErrAlreadyRunning
	}
	m.calib = data
	m.logger.Info("Calibration set, reprojection error %.4f", data.ReprojectionError)
	return nil
}

func (m *Manager) Calibration() *calibration.Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calib
}

// Preview returns one corrected frame with the regions outlined.
func (m *Manager) Preview() ([]byte, error) {
	m.mu.Lock()
	if m.run != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	calib, regions := m.calib, m.regions
	m.mu.Unlock()

	if calib == nil {
		return nil, ErrNoCalibration
	}
	return m.hardware.Preview(calib, regions)
}

// devices are the opened hardware of one run.
type devices struct {
	source  experiment.Source
	counter experiment.Counter
	stim    stimulus.Stimulator
	video   experiment.VideoSink
}

func (d *devices) close() {
	if d.video != nil {
		d.video.Close()
	}
	if d.stim != nil {
		d.stim.Close()
	}
	if d.counter != nil {
		d.counter.Close()
	}
	if d.source != nil {
		d.source.Close()
	}
}

// Start opens the hardware, records the run and starts capture and analysis.
// The run folder is <save dir>/<timestring>. The manager lock is not held
// while devices open, so Status and Stop stay responsive.
func (m *Manager) Start(settings experiment.Settings) (*model.Experiment, error) {
	m.mu.Lock()
	if m.run != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if len(m.regions) == 0 {
		m.mu.Unlock()
		return nil, ErrNoRegions
	}
	if m.calib == nil {
		m.mu.Unlock()
		return nil, ErrNoCalibration
	}
	check := settings
	if check.FPSCap <= 0 {
		check.FPSCap = 1
	}
	if err := check.Validate(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.run = run
	regions, calib := m.regions, m.calib
	m.mu.Unlock()

	exp, err := m.launch(run, settings, regions, calib)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.run = nil
		m.mu.Unlock()
		close(run.done)
		return nil, err
	}
	return exp, nil
}

// launch opens the devices for a placeholder run and hands them to execute.
func (m *Manager) launch(run *activeRun, settings experiment.Settings, regions roi.Set, calib *calibration.Data) (*model.Experiment, error) {
	dev, err := m.openDevices(&settings, regions, calib)
	if err != nil {
		return nil, err
	}

	startedAt := m.now()
	timestring := experiment.Timestring(startedAt, settings)
	dir := filepath.Join(settings.SaveDir, timestring)
	if err := os.MkdirAll(dir, 0755); err != nil {
		dev.close()
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	if settings.WriteVideo {
		dims := dev.source.Dimensions()
		dev.video, err = m.hardware.StartVideo(recorder.Options{
			Width:  dims.X,
			Height: dims.Y,
			FPS:    settings.FPSCap,
			Output: recorder.FileName(dir, timestring),
		})
		if err != nil {
			dev.close()
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if run.stopped {
		dev.close()
		return nil, ErrStartAborted
	}

	exp := model.Experiment{
		RunID:         uuid.NewString(),
		Timestring:    timestring,
		Directory:     dir,
		Status:        model.StatusRunning,
		StartedAt:     startedAt,
		Duration:      settings.Duration.Seconds(),
		StimOnset:     settings.StimOnset.Seconds(),
		StimDuration:  settings.StimDuration.Seconds(),
		LEDFrequency:  settings.LEDFrequency,
		LEDPulseWidth: settings.LEDPulseWidth,
		FPSCap:        settings.FPSCap,
		UseStimulator: settings.UseStimulator,
	}
	if m.experimentRepo != nil {
		if exp.ID, err = m.experimentRepo.Insert(&exp); err != nil {
			dev.close()
			return nil, err
		}
	}

	var sink experiment.SnapshotSink
	if m.snapshots != nil {
		sink = m.snapshots.ForRun(exp.ID, dir, timestring)
	}
	analyzer := experiment.NewAnalyzer(dev.counter, m.publisher, sink, experiment.AnalyzerOptions{
		Timestring:       timestring,
		Regions:          regions.Names(),
		PlotOrder:        roi.PlotOrder(regions),
		WindowSize:       m.config.PlotWindow,
		WindowEvery:      m.config.PlotWindow - 1,
		SnapshotInterval: m.config.SnapshotInterval,
	}, m.logger)
	controller := experiment.NewController(dev.source, dev.stim, dev.video, settings, m.logger)

	run.experiment = exp
	run.settings = settings
	run.analyzer = analyzer

	queueSize := m.config.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	queue := make(chan experiment.Sample, queueSize)

	go m.execute(run.ctx, run, controller, analyzer, dev.counter, queue)

	m.logger.Info("🧪 Experiment %s started in %s", exp.RunID, dir)
	return &exp, nil
}

// openDevices opens camera, counter and stimulus. A zero frame rate cap is
// replaced with the measured camera rate.
func (m *Manager) openDevices(settings *experiment.Settings, regions roi.Set, calib *calibration.Data) (*devices, error) {
	dev := &devices{}
	var err error
	if dev.source, err = m.hardware.OpenSource(calib); err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}
	if settings.FPSCap <= 0 {
		meter, ok := dev.source.(fpsMeter)
		if !ok {
			dev.close()
			return nil, errors.New("frame rate cap is required for this camera")
		}
		if settings.FPSCap, err = meter.MeasureFPS(fpsMeasureReads, fpsMeasureRounds); err != nil {
			dev.close()
			return nil, fmt.Errorf("failed to measure frame rate: %w", err)
		}
		if err := settings.Validate(); err != nil {
			dev.close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	}
	if dev.counter, err = m.hardware.NewCounter(regions); err != nil {
		dev.close()
		return nil, err
	}
	if settings.UseStimulator {
		if dev.stim, err = m.hardware.OpenStimulator(); err != nil {
			dev.close()
			return nil, fmt.Errorf("failed to open stimulus: %w", err)
		}
	}
	return dev, nil
}

// execute joins capture and analysis, then saves the results.
func (m *Manager) execute(ctx context.Context, run *activeRun, controller *experiment.Controller, analyzer *experiment.Analyzer, counter experiment.Counter, queue chan experiment.Sample) {
	defer close(run.done)
	defer run.cancel()

	var summary experiment.Summary
	var g errgroup.Group
	g.Go(func() error {
		return controller.Run(ctx, queue)
	})
	g.Go(func() error {
		summary = analyzer.Run(queue)
		return nil
	})
	runErr := g.Wait()
	counter.Close()

	m.mu.Lock()
	stopped := run.stopped
	m.mu.Unlock()

	status := model.StatusFinished
	switch {
	case runErr != nil:
		status = model.StatusFailed
		m.logger.Error("Experiment %s failed: %v", run.experiment.RunID, runErr)
	case stopped:
		status = model.StatusStopped
	}

	saveErr := m.save(run, summary)
	if m.snapshots != nil {
		m.snapshots.Flush()
	}

	if m.experimentRepo != nil && run.experiment.ID != 0 {
		if err := m.experimentRepo.Finish(run.experiment.ID, status, m.now(), summary.Frames, summary.MaxLag); err != nil {
			m.logger.Error("Failed to record end of experiment: %v", err)
		}
	}

	last := dto.StatusResponse{
		ExperimentID: run.experiment.ID,
		RunID:        run.experiment.RunID,
		Timestring:   run.experiment.Timestring,
		Directory:    run.experiment.Directory,
		Elapsed:      summary.Elapsed.Seconds(),
		Frames:       summary.Frames,
		MaxLag:       summary.MaxLag,
	}
	if err := errors.Join(runErr, saveErr); err != nil {
		last.LastError = err.Error()
	}

	m.mu.Lock()
	m.last = last
	m.run = nil
	m.mu.Unlock()

	m.logger.Info("🏁 Experiment %s %s: %d frames, max lag %d", run.experiment.RunID, status, summary.Frames, summary.MaxLag)
}

// save writes the CSV files and stores the samples.
func (m *Manager) save(run *activeRun, summary experiment.Summary) error {
	var errs []error
	if run.settings.WriteCSV {
		paths, err := results.WriteAll(run.experiment.Directory, run.experiment.Timestring, summary.Records)
		if err != nil {
			m.logger.Error("Failed to write results: %v", err)
			errs = append(errs, err)
		}
		for _, p := range paths {
			m.logger.Info("Saved %s", p)
		}
	}

	if m.sampleRepo != nil && run.experiment.ID != 0 {
		var samples []model.Sample
		for region, records := range summary.Records {
			for _, rec := range records {
				samples = append(samples, model.Sample{
					ExperimentID: run.experiment.ID,
					Region:       region,
					Elapsed:      rec.Elapsed,
					Count:        float64(rec.Count),
					Stimulation:  rec.Stimulation,
				})
			}
		}
		if len(samples) > 0 {
			if err := m.sampleRepo.InsertBatch(samples); err != nil {
				m.logger.Error("Failed to store samples: %v", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Stop is the emergency stop. It returns once results are saved.
func (m *Manager) Stop() error {
	m.mu.Lock()
	run := m.run
	if run == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	run.stopped = true
	run.cancel()
	starting := run.analyzer == nil
	m.mu.Unlock()

	if starting {
		m.logger.Warning("🛑 Experiment stopped while starting")
	} else {
		m.logger.Warning("🛑 Experiment %s stopped", run.experiment.RunID)
	}
	<-run.done
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

// Status reports the running experiment, or the last one.
func (m *Manager) Status() dto.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run == nil {
		return m.last
	}
	if m.run.analyzer == nil {
		return dto.StatusResponse{Running: true, Starting: true}
	}
	p := m.run.analyzer.Progress()
	return dto.StatusResponse{
		Running:      true,
		ExperimentID: m.run.experiment.ID,
		RunID:        m.run.experiment.RunID,
		Timestring:   m.run.experiment.Timestring,
		Directory:    m.run.experiment.Directory,
		Elapsed:      p.Elapsed.Seconds(),
		Frames:       p.Frames,
		MaxLag:       p.MaxLag,
	}
}
