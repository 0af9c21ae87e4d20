package service

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/dto"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/recorder"
	"flyassay/internal/repository/sqlite"
	"flyassay/internal/results"
	"flyassay/internal/roi"
	"flyassay/internal/stimulus"
)

// ==================== Fakes ====================

type fakeFrame struct{}

func (fakeFrame) Bytes() []byte           { return make([]byte, 12) }
func (fakeFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 2, 2) }
func (fakeFrame) Close() error            { return nil }

type fakeSource struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (s *fakeSource) Read() (experiment.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return fakeFrame{}, nil
}

func (s *fakeSource) Dimensions() image.Point { return image.Pt(2, 2) }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) MeasureFPS(reads, rounds int) (float64, error) { return 50, nil }

type fakeCounter struct{}

func (fakeCounter) Count(region string, f experiment.Frame) (int, error) { return 2, nil }
func (fakeCounter) Close() error                                         { return nil }

type fakeVideo struct {
	mu     sync.Mutex
	frames int
	opts   recorder.Options
}

func (v *fakeVideo) WriteFrame(raw []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames++
	return nil
}

func (v *fakeVideo) Close() error { return nil }

type fakeHardware struct {
	source    *fakeSource
	video     *fakeVideo
	sourceErr error
	stimOpens int
	opening   chan struct{} // closed when OpenSource is entered
	gate      chan struct{} // OpenSource waits for it when set
}

func (h *fakeHardware) OpenSource(calib *calibration.Data) (experiment.Source, error) {
	if h.opening != nil {
		close(h.opening)
	}
	if h.gate != nil {
		<-h.gate
	}
	if h.sourceErr != nil {
		return nil, h.sourceErr
	}
	h.source = &fakeSource{}
	return h.source, nil
}

func (h *fakeHardware) NewCounter(set roi.Set) (experiment.Counter, error) {
	return fakeCounter{}, nil
}

func (h *fakeHardware) OpenStimulator() (stimulus.Stimulator, error) {
	h.stimOpens++
	return &stimulus.Disabled{}, nil
}

func (h *fakeHardware) StartVideo(opts recorder.Options) (experiment.VideoSink, error) {
	h.video = &fakeVideo{opts: opts}
	return h.video, nil
}

func (h *fakeHardware) Preview(calib *calibration.Data, set roi.Set) ([]byte, error) {
	return []byte("jpeg"), nil
}

func testCalibration() *calibration.Data {
	return &calibration.Data{
		ReprojectionError: 0.2,
		CameraMatrix:      [][]float64{{1, 0, 1}, {0, 1, 1}, {0, 0, 1}},
		DistCoeff:         [][]float64{{0, 0, 0, 0, 0}},
	}
}

func testRegions() roi.Set {
	return roi.Set{
		{Name: "roi1", Start: image.Pt(0, 0), End: image.Pt(1, 1)},
		{Name: "roi2", Start: image.Pt(1, 1), End: image.Pt(2, 2)},
	}
}

type testEnv struct {
	manager  *Manager
	hardware *fakeHardware
	expRepo  *sqlite.ExperimentRepository
	sampRepo *sqlite.SampleRepository
	dataDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		DataDirectory: filepath.Join(dir, "data"),
		QueueSize:     16,
		PlotWindow:    10,
		FPSCap:        100,
		WriteCSV:      true,
		WriteVideo:    true,
	}
	hw := &fakeHardware{}
	expRepo := sqlite.NewExperimentRepository(db)
	sampRepo := sqlite.NewSampleRepository(db)
	m := NewManager(cfg, hw, nil, nil, expRepo, sampRepo, logger.Discard())
	m.now = func() time.Time { return time.Date(2015, 6, 8, 18, 38, 0, 0, time.Local) }

	return &testEnv{manager: m, hardware: hw, expRepo: expRepo, sampRepo: sampRepo, dataDir: cfg.DataDirectory}
}

func (e *testEnv) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, e.manager.SetRegions(testRegions()))
	require.NoError(t, e.manager.SetCalibration(testCalibration()))
}

// ==================== Manager ====================

func TestManager_StartRequiresRegionsAndCalibration(t *testing.T) {
	env := newTestEnv(t)
	settings := env.manager.DefaultSettings()
	settings.Duration = time.Second

	_, err := env.manager.Start(settings)
	assert.ErrorIs(t, err, ErrNoRegions)

	require.NoError(t, env.manager.SetRegions(testRegions()))
	_, err = env.manager.Start(settings)
	assert.ErrorIs(t, err, ErrNoCalibration)

	_, err = env.manager.Preview()
	assert.ErrorIs(t, err, ErrNoCalibration)

	assert.ErrorIs(t, env.manager.Stop(), ErrNotRunning)
}

func TestManager_RunToCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	settings := env.manager.DefaultSettings()
	settings.Duration = 200 * time.Millisecond

	exp, err := env.manager.Start(settings)
	require.NoError(t, err)
	assert.Equal(t, "2015-06-08 18.38.00", exp.Timestring)
	assert.NotEmpty(t, exp.RunID)

	_, err = env.manager.Start(settings)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, env.manager.SetRegions(testRegions()), ErrAlreadyRunning)

	env.manager.Wait()

	status := env.manager.Status()
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
	assert.Greater(t, status.Frames, 0)

	stored, err := env.expRepo.GetByID(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, stored.Status)
	assert.Equal(t, status.Frames, stored.Frames)

	runDir := filepath.Join(env.dataDir, exp.Timestring)
	for _, region := range []string{"roi1", "roi2"} {
		rows, err := results.Read(results.FileName(runDir, exp.Timestring, region))
		require.NoError(t, err)
		assert.Len(t, rows, status.Frames)
		assert.Equal(t, 2.0, rows[0].Count)

		samples, err := env.sampRepo.GetByExperiment(exp.ID, region)
		require.NoError(t, err)
		assert.Len(t, samples, status.Frames)
	}

	assert.Equal(t, recorder.FileName(runDir, exp.Timestring), env.hardware.video.opts.Output)
	assert.Equal(t, 2, env.hardware.video.opts.Width)
	assert.True(t, env.hardware.source.closed)
}

func TestManager_EmergencyStop(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	settings := env.manager.DefaultSettings()
	settings.Duration = time.Hour
	settings.UseStimulator = true
	settings.WriteCSV = false

	exp, err := env.manager.Start(settings)
	require.NoError(t, err)
	assert.Equal(t, 1, env.hardware.stimOpens)
	assert.Contains(t, exp.Timestring, "Pulse width")

	require.Eventually(t, func() bool { return env.manager.Status().Frames > 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, env.manager.Status().Running)

	require.NoError(t, env.manager.Stop())

	stored, err := env.expRepo.GetByID(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, stored.Status)
	require.NotNil(t, stored.FinishedAt)

	_, err = os.Stat(results.FileName(exp.Directory, exp.Timestring, "roi1"))
	assert.True(t, os.IsNotExist(err), "CSV output disabled")
}

func TestManager_MeasuresFrameRate(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	settings := env.manager.DefaultSettings()
	settings.Duration = 50 * time.Millisecond
	settings.FPSCap = 0

	exp, err := env.manager.Start(settings)
	require.NoError(t, err)
	env.manager.Wait()
	assert.Equal(t, 50.0, exp.FPSCap)
	assert.Equal(t, 50.0, env.hardware.video.opts.FPS)
}

func TestManager_CameraFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	env.hardware.sourceErr = errors.New("no device")
	settings := env.manager.DefaultSettings()
	settings.Duration = time.Second

	_, err := env.manager.Start(settings)
	require.Error(t, err)
	assert.False(t, env.manager.Status().Running)

	all, _ := env.expRepo.GetAll(nil)
	assert.Empty(t, all)
}

type startResult struct {
	exp *model.Experiment
	err error
}

func startAsync(m *Manager, settings experiment.Settings) <-chan startResult {
	result := make(chan startResult, 1)
	go func() {
		exp, err := m.Start(settings)
		result <- startResult{exp, err}
	}()
	return result
}

func TestManager_StatusWhileStarting(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	env.hardware.opening = make(chan struct{})
	env.hardware.gate = make(chan struct{})

	settings := env.manager.DefaultSettings()
	settings.Duration = 50 * time.Millisecond
	result := startAsync(env.manager, settings)
	<-env.hardware.opening

	status := make(chan dto.StatusResponse, 1)
	go func() { status <- env.manager.Status() }()
	select {
	case s := <-status:
		assert.True(t, s.Running)
		assert.True(t, s.Starting)
	case <-time.After(time.Second):
		t.Fatal("Status blocked while the camera was opening")
	}

	assert.Len(t, env.manager.Regions(), 2)
	_, err := env.manager.Start(settings)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, env.manager.SetCalibration(testCalibration()), ErrAlreadyRunning)

	close(env.hardware.gate)
	res := <-result
	require.NoError(t, res.err)
	env.manager.Wait()

	final := env.manager.Status()
	assert.False(t, final.Running)
	assert.Equal(t, res.exp.ID, final.ExperimentID)
}

func TestManager_StopWhileStarting(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	env.hardware.opening = make(chan struct{})
	env.hardware.gate = make(chan struct{})

	settings := env.manager.DefaultSettings()
	settings.Duration = time.Hour
	result := startAsync(env.manager, settings)
	<-env.hardware.opening

	stopped := make(chan error, 1)
	go func() { stopped <- env.manager.Stop() }()
	require.Eventually(t, func() bool {
		env.manager.mu.Lock()
		defer env.manager.mu.Unlock()
		return env.manager.run != nil && env.manager.run.stopped
	}, time.Second, time.Millisecond)

	close(env.hardware.gate)
	res := <-result
	assert.ErrorIs(t, res.err, ErrStartAborted)
	require.NoError(t, <-stopped)

	assert.False(t, env.manager.Status().Running)
	assert.True(t, env.hardware.source.closed)
	all, _ := env.expRepo.GetAll(nil)
	assert.Empty(t, all)

	env.hardware.gate = nil
	env.hardware.opening = nil
	settings.Duration = 50 * time.Millisecond
	_, err := env.manager.Start(settings)
	require.NoError(t, err)
	env.manager.Wait()
}

func TestManager_Preview(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	img, err := env.manager.Preview()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img)
}

func TestApplyRequest(t *testing.T) {
	base := experiment.Settings{Duration: time.Minute, LEDFrequency: 5, WriteVideo: true, SaveDir: "/data"}
	dur, freq, video, dir := 90.5, 10.0, false, ""

	got := ApplyRequest(base, dto.StartRequest{Duration: &dur, LEDFrequency: &freq, WriteVideo: &video, SaveDir: &dir})
	assert.Equal(t, 90500*time.Millisecond, got.Duration)
	assert.Equal(t, 10.0, got.LEDFrequency)
	assert.False(t, got.WriteVideo)
	assert.Equal(t, "/data", got.SaveDir, "empty save dir keeps the default")
}

// ==================== Importer ====================

func TestImporter_ImportDirectory(t *testing.T) {
	env := newTestEnv(t)
	dataDir := t.TempDir()

	ts := "2015-06-08 18.38.00 - 5 Hz 5 Pulse width"
	runDir := filepath.Join(dataDir, ts)
	require.NoError(t, os.MkdirAll(runDir, 0755))
	_, err := results.WriteAll(runDir, ts, map[string][]results.Record{
		"roi1": {{Elapsed: 0.5, Count: 1}, {Elapsed: 1.0, Count: 3, Stimulation: true}, {Elapsed: 1.5, Count: 2, Stimulation: true}},
		"roi2": {{Elapsed: 0.5, Count: 0}},
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "empty"), 0755))

	imp := NewImporter(env.expRepo, env.sampRepo, logger.Discard())
	imp.location = time.UTC

	report, err := imp.ImportDirectory(dataDir)
	require.NoError(t, err)
	assert.Equal(t, []string{ts}, report.Imported)
	assert.Equal(t, 4, report.Samples)

	exp, err := env.expRepo.GetByTimestring(ts)
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, model.StatusFinished, exp.Status)
	assert.True(t, exp.UseStimulator)
	assert.Equal(t, 3, exp.Frames)
	assert.Equal(t, 1.0, exp.StimOnset)
	assert.Equal(t, 0.5, exp.StimDuration)
	assert.True(t, exp.StartedAt.Equal(time.Date(2015, 6, 8, 18, 38, 0, 0, time.UTC)))

	names, _ := env.sampRepo.GetRegionNames(exp.ID)
	assert.Equal(t, []string{"roi1", "roi2"}, names)

	again, err := imp.ImportDirectory(dataDir)
	require.NoError(t, err)
	assert.Empty(t, again.Imported)
	assert.Equal(t, []string{ts}, again.Skipped)
}

type failingSampleRepo struct {
	*sqlite.SampleRepository
	fail bool
}

func (r *failingSampleRepo) InsertBatch(samples []model.Sample) error {
	if r.fail {
		return errors.New("disk full")
	}
	return r.SampleRepository.InsertBatch(samples)
}

func TestImporter_FailedSamplesLeaveNoRun(t *testing.T) {
	env := newTestEnv(t)
	dataDir := t.TempDir()

	ts := "2015-06-08 18.38.00"
	runDir := filepath.Join(dataDir, ts)
	require.NoError(t, os.MkdirAll(runDir, 0755))
	_, err := results.WriteAll(runDir, ts, map[string][]results.Record{
		"roi1": {{Elapsed: 0.5, Count: 1}, {Elapsed: 1.0, Count: 3}},
	})
	require.NoError(t, err)

	samples := &failingSampleRepo{SampleRepository: env.sampRepo, fail: true}
	imp := NewImporter(env.expRepo, samples, logger.Discard())

	_, err = imp.ImportDirectory(dataDir)
	require.Error(t, err)
	exp, err := env.expRepo.GetByTimestring(ts)
	require.NoError(t, err)
	assert.Nil(t, exp, "partial run is removed")

	samples.fail = false
	report, err := imp.ImportDirectory(dataDir)
	require.NoError(t, err)
	assert.Equal(t, []string{ts}, report.Imported)
	assert.Equal(t, 2, report.Samples)
}
