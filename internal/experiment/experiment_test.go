package experiment

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flyassay/internal/logger"
)

// ==================== Fakes ====================

type fakeFrame struct {
	id     int
	closed bool
}

func (f *fakeFrame) Bytes() []byte           { return []byte{byte(f.id)} }
func (f *fakeFrame) Bounds() image.Rectangle { return image.Rect(0, 0, 4, 4) }
func (f *fakeFrame) Close() error            { f.closed = true; return nil }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type fakeSource struct {
	clock  *fakeClock
	step   time.Duration
	reads  int
	fail   error
	closed bool
}

func (s *fakeSource) Read() (Frame, error) {
	s.clock.t = s.clock.t.Add(s.step)
	s.reads++
	if s.fail != nil {
		return nil, s.fail
	}
	return &fakeFrame{id: s.reads}, nil
}

func (s *fakeSource) Dimensions() image.Point { return image.Pt(4, 4) }
func (s *fakeSource) Close() error            { s.closed = true; return nil }

type fakeStim struct {
	on     bool
	calls  []string
	closed bool
}

func (s *fakeStim) On(frequency, pulseWidth float64) error {
	s.calls = append(s.calls, "on")
	s.on = true
	return nil
}

func (s *fakeStim) Off() error {
	s.calls = append(s.calls, "off")
	s.on = false
	return nil
}

func (s *fakeStim) IsOn() bool   { return s.on }
func (s *fakeStim) Close() error { s.closed = true; return nil }

type fakeVideo struct {
	frames int
	closed bool
}

func (v *fakeVideo) WriteFrame(raw []byte) error { v.frames++; return nil }
func (v *fakeVideo) Close() error                { v.closed = true; return nil }

type fakeCounter struct {
	counts map[string]int
}

func (c *fakeCounter) Count(region string, f Frame) (int, error) {
	n, ok := c.counts[region]
	if !ok {
		return 0, errors.New("unknown region")
	}
	return n + f.(*fakeFrame).id, nil
}

func (c *fakeCounter) Close() error { return nil }

func (c *fakeCounter) Snapshot(region string, f Frame) ([]byte, error) {
	return []byte(region), nil
}

type fakePublisher struct {
	updates []LiveUpdate
}

func (p *fakePublisher) Publish(u LiveUpdate) { p.updates = append(p.updates, u) }

type fakeSnapshots struct {
	taken map[string][]time.Duration
}

func (s *fakeSnapshots) AddSnapshot(region string, elapsed time.Duration, jpeg []byte) {
	if s.taken == nil {
		s.taken = make(map[string][]time.Duration)
	}
	s.taken[region] = append(s.taken[region], elapsed)
}

func testSettings() Settings {
	return Settings{
		Duration:      time.Second,
		StimOnset:     300 * time.Millisecond,
		StimDuration:  300 * time.Millisecond,
		LEDFrequency:  5,
		LEDPulseWidth: 5,
		FPSCap:        1000,
		UseStimulator: true,
		SaveDir:       "/tmp",
	}
}

func drain(ch <-chan Sample) []Sample {
	var out []Sample
	for s := range ch {
		out = append(out, s)
	}
	return out
}

// ==================== Controller ====================

func TestController_RunsForDuration(t *testing.T) {
	clock := &fakeClock{t: time.Date(2015, 6, 8, 18, 38, 0, 0, time.UTC)}
	source := &fakeSource{clock: clock, step: 100 * time.Millisecond}
	stim := &fakeStim{}
	video := &fakeVideo{}

	c := NewController(source, stim, video, testSettings(), logger.Discard())
	c.now = clock.Now

	out := make(chan Sample, 32)
	require.NoError(t, c.Run(context.Background(), out))

	samples := drain(out)
	require.Len(t, samples, 10)
	assert.Equal(t, 10, c.Frames())
	assert.Equal(t, 10, video.frames)
	assert.Equal(t, time.Second, samples[9].Elapsed)

	var stimulated []time.Duration
	for _, s := range samples {
		if s.Stim {
			stimulated = append(stimulated, s.Elapsed)
		}
	}
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond}, stimulated)
	assert.Equal(t, []string{"on", "off"}, stim.calls)

	assert.True(t, stim.closed)
	assert.True(t, video.closed)
	assert.True(t, source.closed)
}

func TestController_StimulatorDisabled(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	source := &fakeSource{clock: clock, step: 100 * time.Millisecond}
	stim := &fakeStim{}
	settings := testSettings()
	settings.UseStimulator = false

	c := NewController(source, stim, nil, settings, logger.Discard())
	c.now = clock.Now

	out := make(chan Sample, 32)
	require.NoError(t, c.Run(context.Background(), out))

	stimulated := 0
	for _, s := range drain(out) {
		if s.Stim {
			stimulated++
		}
	}
	assert.Equal(t, 3, stimulated, "schedule is still recorded")
	assert.Empty(t, stim.calls)
}

func TestController_Cancelled(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	source := &fakeSource{clock: clock, step: time.Millisecond}
	stim := &fakeStim{}

	c := NewController(source, stim, nil, testSettings(), logger.Discard())
	c.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Sample)
	require.NoError(t, c.Run(ctx, out))

	_, open := <-out
	assert.False(t, open, "queue is closed on stop")
	assert.True(t, stim.closed)
	assert.True(t, source.closed)
}

func TestController_CameraLost(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	source := &fakeSource{clock: clock, step: time.Millisecond, fail: errors.New("no frame")}

	settings := testSettings()
	settings.Duration = time.Hour
	c := NewController(source, nil, nil, settings, logger.Discard())
	c.now = clock.Now

	out := make(chan Sample, 1)
	err := c.Run(context.Background(), out)
	require.ErrorIs(t, err, ErrCameraLost)
	assert.Equal(t, maxReadFailures, source.reads)
	assert.Empty(t, drain(out))
}

func TestController_RejectsSubNanosecondInterval(t *testing.T) {
	source := &fakeSource{clock: &fakeClock{t: time.Now()}, step: time.Millisecond}

	settings := testSettings()
	settings.FPSCap = 2e9
	c := NewController(source, nil, nil, settings, logger.Discard())

	out := make(chan Sample)
	assert.NotPanics(t, func() {
		assert.Error(t, c.Run(context.Background(), out))
	})
	_, open := <-out
	assert.False(t, open)
	assert.True(t, source.closed)
}

// ==================== Analyzer ====================

func TestAnalyzer_CountsAndPublishes(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"roi1": 0, "roi2": 10}}
	pub := &fakePublisher{}
	snaps := &fakeSnapshots{}

	a := NewAnalyzer(counter, pub, snaps, AnalyzerOptions{
		Timestring:       "run",
		Regions:          []string{"roi1", "roi2"},
		WindowSize:       3,
		WindowEvery:      2,
		SnapshotInterval: 200 * time.Millisecond,
	}, logger.Discard())

	in := make(chan Sample, 8)
	var frames []*fakeFrame
	for i := 1; i <= 5; i++ {
		f := &fakeFrame{id: i}
		frames = append(frames, f)
		in <- Sample{Elapsed: time.Duration(i) * 100 * time.Millisecond, Frame: f, Stim: i == 3}
	}
	close(in)

	sum := a.Run(in)

	assert.Equal(t, 5, sum.Frames)
	assert.Equal(t, 4, sum.MaxLag, "first sample sees four waiting behind it")
	assert.Equal(t, 500*time.Millisecond, sum.Elapsed)
	require.Len(t, sum.Records["roi1"], 5)
	assert.Equal(t, 3, sum.Records["roi1"][2].Count)
	assert.True(t, sum.Records["roi1"][2].Stimulation)
	assert.Equal(t, 15, sum.Records["roi2"][4].Count)
	assert.InDelta(t, 0.5, sum.Records["roi2"][4].Elapsed, 1e-9)

	for _, f := range frames {
		assert.True(t, f.closed)
	}

	require.Len(t, pub.updates, 5)
	assert.Equal(t, 0.0, pub.updates[0].FPS)
	assert.InDelta(t, 10, pub.updates[1].FPS, 1e-6)
	assert.Equal(t, []string{"roi1", "roi2"}, pub.updates[0].Order)
	assert.NotNil(t, pub.updates[0].Window)
	assert.Nil(t, pub.updates[2].Window)
	last := pub.updates[3].Window["roi1"]
	require.Len(t, last, 3)
	assert.Equal(t, Point{Elapsed: 0.2, Count: 2}, last[0])

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}, snaps.taken["roi1"])

	assert.Equal(t, Progress{Frames: 5, MaxLag: 4, Elapsed: 500 * time.Millisecond}, a.Progress())
}

func TestAnalyzer_CountFailureRecordsZero(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{}}
	a := NewAnalyzer(counter, nil, nil, AnalyzerOptions{Regions: []string{"roi9"}, WindowSize: 10}, logger.Discard())

	in := make(chan Sample, 1)
	f := &fakeFrame{id: 1}
	in <- Sample{Elapsed: time.Second, Frame: f}
	close(in)

	sum := a.Run(in)
	require.Len(t, sum.Records["roi9"], 1)
	assert.Equal(t, 0, sum.Records["roi9"][0].Count)
	assert.True(t, f.closed)
}

// ==================== Window ====================

func TestWindow_DropsOldest(t *testing.T) {
	w := newWindow(3)
	assert.Empty(t, w.Points())
	for i := 1; i <= 5; i++ {
		w.Push(Point{Elapsed: float64(i), Count: i})
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []Point{{3, 3}, {4, 4}, {5, 5}}, w.Points())
}

// ==================== Settings ====================

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		ok     bool
	}{
		{"defaults", func(s *Settings) {}, true},
		{"zero duration", func(s *Settings) { s.Duration = 0 }, false},
		{"zero fps", func(s *Settings) { s.FPSCap = 0 }, false},
		{"fps above nanosecond ticks", func(s *Settings) { s.FPSCap = 2e9 }, false},
		{"fps at nanosecond ticks", func(s *Settings) { s.FPSCap = 1e9 }, true},
		{"negative onset", func(s *Settings) { s.StimOnset = -time.Second }, false},
		{"negative frequency", func(s *Settings) { s.LEDFrequency = -1 }, false},
		{"negative frequency unused", func(s *Settings) { s.LEDFrequency = -1; s.UseStimulator = false }, true},
		{"no save dir", func(s *Settings) { s.SaveDir = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.modify(&s)
			if err := s.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestTimestring(t *testing.T) {
	now := time.Date(2015, 6, 8, 18, 38, 5, 0, time.UTC)
	s := testSettings()
	assert.Equal(t, "2015-06-08 18.38.05 - 5 Hz 5 Pulse width", Timestring(now, s))

	s.LEDFrequency = 2.5
	assert.Equal(t, "2015-06-08 18.38.05 - 2.5 Hz 5 Pulse width", Timestring(now, s))

	s.UseStimulator = false
	assert.Equal(t, "2015-06-08 18.38.05", Timestring(now, s))
}

func TestParseTimestring(t *testing.T) {
	p, err := ParseTimestring("2015-06-08 18.38.05 - 2.5 Hz 5 Pulse width", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 6, 8, 18, 38, 5, 0, time.UTC), p.Started)
	assert.True(t, p.UseStimulator)
	assert.Equal(t, 2.5, p.LEDFrequency)
	assert.Equal(t, 5.0, p.LEDPulseWidth)

	p, err = ParseTimestring("2015-06-08 18.38.05", time.UTC)
	require.NoError(t, err)
	assert.False(t, p.UseStimulator)

	_, err = ParseTimestring("control flies", time.UTC)
	assert.Error(t, err)
	_, err = ParseTimestring("2015-06-08 18.38.05 and more", time.UTC)
	assert.Error(t, err)
}
