package experiment

import (
	"sync"
	"time"

	"flyassay/internal/logger"
	"flyassay/internal/results"
)

// AnalyzerOptions tune the consumer.
type AnalyzerOptions struct {
	Timestring       string
	Regions          []string // counting order
	PlotOrder        []string // panel order sent to viewers
	WindowSize       int
	WindowEvery      int // attach the plot window to every n-th update
	SnapshotInterval time.Duration
}

// Summary is what the analysis loop produced.
type Summary struct {
	Records map[string][]results.Record
	Frames  int
	MaxLag  int
	Elapsed time.Duration
}

// Progress is a point-in-time view of a running analysis.
type Progress struct {
	Frames  int
	MaxLag  int
	Elapsed time.Duration
}

// Analyzer is the consumer side of the queue.
type Analyzer struct {
	counter   Counter
	publisher Publisher
	snapshots SnapshotSink
	opts      AnalyzerOptions
	logger    *logger.Logger

	windows map[string]*window

	mu       sync.Mutex
	progress Progress
}

// NewAnalyzer builds a consumer. publisher and snapshots may be nil.
func NewAnalyzer(counter Counter, publisher Publisher, snapshots SnapshotSink, opts AnalyzerOptions, logger *logger.Logger) *Analyzer {
	if opts.WindowEvery < 1 {
		opts.WindowEvery = 1
	}
	if len(opts.PlotOrder) == 0 {
		opts.PlotOrder = opts.Regions
	}
	windows := make(map[string]*window, len(opts.Regions))
	for _, name := range opts.Regions {
		windows[name] = newWindow(opts.WindowSize)
	}
	return &Analyzer{
		counter:   counter,
		publisher: publisher,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger,
		windows:   windows,
	}
}

// Progress returns the counters of the running analysis.
func (a *Analyzer) Progress() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// Run consumes samples until in is closed. Every frame is closed once
// counted, also when counting fails.
func (a *Analyzer) Run(in <-chan Sample) Summary {
	records := make(map[string][]results.Record, len(a.opts.Regions))
	var (
		prev         time.Duration
		lastSnapshot time.Duration = -1
		frames       int
		maxLag       int
		countFailed  bool
	)

	for s := range in {
		lag := len(in)
		if lag > maxLag {
			maxLag = lag
		}
		fps := 0.0
		if frames > 0 && s.Elapsed > prev {
			fps = 1 / (s.Elapsed - prev).Seconds()
		}
		prev = s.Elapsed
		frames++

		takeSnapshot := a.snapshots != nil && a.opts.SnapshotInterval > 0 &&
			(lastSnapshot < 0 || s.Elapsed-lastSnapshot >= a.opts.SnapshotInterval)
		if takeSnapshot {
			lastSnapshot = s.Elapsed
		}

		counts := make(map[string]int, len(a.opts.Regions))
		elapsed := s.Elapsed.Seconds()
		for _, name := range a.opts.Regions {
			n, err := a.counter.Count(name, s.Frame)
			if err != nil {
				if !countFailed {
					a.logger.Warning("Failed to count %s at %.2fs: %v", name, elapsed, err)
					countFailed = true
				}
				n = 0
			}
			counts[name] = n
			records[name] = append(records[name], results.Record{Elapsed: elapsed, Count: n, Stimulation: s.Stim})
			a.windows[name].Push(Point{Elapsed: elapsed, Count: n})

			if takeSnapshot {
				a.snapshot(name, s)
			}
		}
		s.Frame.Close()

		a.mu.Lock()
		a.progress = Progress{Frames: frames, MaxLag: maxLag, Elapsed: s.Elapsed}
		a.mu.Unlock()

		if a.publisher != nil {
			update := LiveUpdate{
				Timestring:  a.opts.Timestring,
				Elapsed:     elapsed,
				Stimulation: s.Stim,
				FPS:         fps,
				Lag:         lag,
				Counts:      counts,
				Order:       a.opts.PlotOrder,
			}
			if frames == 1 || frames%a.opts.WindowEvery == 0 {
				update.Window = a.windowPoints()
			}
			a.publisher.Publish(update)
		}
	}

	a.logger.Info("Analysis finished: %d frames, max lag %d", frames, maxLag)
	return Summary{Records: records, Frames: frames, MaxLag: maxLag, Elapsed: prev}
}

func (a *Analyzer) snapshot(region string, s Sample) {
	snap, ok := a.counter.(Snapshotter)
	if !ok {
		return
	}
	jpeg, err := snap.Snapshot(region, s.Frame)
	if err != nil {
		a.logger.Warning("Failed to snapshot %s: %v", region, err)
		return
	}
	a.snapshots.AddSnapshot(region, s.Elapsed, jpeg)
}

func (a *Analyzer) windowPoints() map[string][]Point {
	out := make(map[string][]Point, len(a.windows))
	for name, w := range a.windows {
		out[name] = w.Points()
	}
	return out
}
