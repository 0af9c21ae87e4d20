package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"flyassay/internal/config"
	"flyassay/internal/dto"
	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/repository"
)

// ThumbnailSize bounds the longer side of a stored snapshot.
const ThumbnailSize = 320

// SnapshotDir is the per-run folder snapshots are written to.
const SnapshotDir = "snapshots"

// SnapshotBuffer buffers annotated region crops in memory and periodically
// writes them to the run folder as thumbnails.
type SnapshotBuffer struct {
	snapshots     []dto.BufferedSnapshot
	bufferCount   map[string]int
	limit         int
	flushInterval time.Duration
	mu            sync.Mutex
	logger        *logger.Logger
	snapshotRepo  repository.SnapshotRepository
}

// NewSnapshotBuffer creates a buffer. snapshotRepo may be nil.
func NewSnapshotBuffer(config *config.Config, logger *logger.Logger, snapshotRepo repository.SnapshotRepository) *SnapshotBuffer {
	return &SnapshotBuffer{
		bufferCount:   make(map[string]int),
		limit:         config.SnapshotLimit,
		flushInterval: config.SnapshotFlushInterval,
		logger:        logger,
		snapshotRepo:  snapshotRepo,
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (s *SnapshotBuffer) Run(ctx context.Context) {
	if s.flushInterval <= 0 {
		<-ctx.Done()
		s.Flush()
		return
	}
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// ForRun binds the buffer to one experiment.
func (s *SnapshotBuffer) ForRun(experimentID int64, directory, timestring string) experiment.SnapshotSink {
	return &runSink{buffer: s, experimentID: experimentID, directory: directory, timestring: timestring}
}

type runSink struct {
	buffer       *SnapshotBuffer
	experimentID int64
	directory    string
	timestring   string
}

func (r *runSink) AddSnapshot(region string, elapsed time.Duration, jpeg []byte) {
	r.buffer.Add(dto.BufferedSnapshot{
		ExperimentID: r.experimentID,
		Directory:    r.directory,
		Timestring:   r.timestring,
		Region:       region,
		Elapsed:      elapsed,
		Data:         jpeg,
	})
}

// Add buffers a snapshot unless the region already reached the limit for
// this flush.
func (s *SnapshotBuffer) Add(snap dto.BufferedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d/%s", snap.ExperimentID, snap.Region)
	if s.limit > 0 && s.bufferCount[key] >= s.limit {
		return
	}
	s.snapshots = append(s.snapshots, snap)
	s.bufferCount[key]++
}

// Len returns the number of buffered snapshots.
func (s *SnapshotBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Flush writes buffered snapshots and resets the per-region counters.
func (s *SnapshotBuffer) Flush() {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = nil
	s.bufferCount = make(map[string]int)
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	savedCount := 0
	for _, snap := range pending {
		if err := s.save(snap); err != nil {
			s.logger.Error("Error saving snapshot of %s at %.1fs: %v", snap.Region, snap.Elapsed.Seconds(), err)
			continue
		}
		savedCount++
	}
	s.logger.Info("Flushed %d snapshots to disk", savedCount)
}

// FileName returns the snapshot name for a region and elapsed time.
func FileName(timestring, region string, elapsed time.Duration) string {
	return fmt.Sprintf("%s-%s-%07.2f.jpg", timestring, region, elapsed.Seconds())
}

func (s *SnapshotBuffer) save(snap dto.BufferedSnapshot) error {
	img, err := imaging.Decode(bytes.NewReader(snap.Data))
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	thumb := imaging.Fit(img, ThumbnailSize, ThumbnailSize, imaging.Lanczos)

	dir := filepath.Join(snap.Directory, SnapshotDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	filename := FileName(snap.Timestring, snap.Region, snap.Elapsed)
	fullpath := filepath.Join(dir, filename)
	if err := imaging.Save(thumb, fullpath); err != nil {
		return err
	}

	if s.snapshotRepo == nil {
		return nil
	}
	info, err := os.Stat(fullpath)
	if err != nil {
		return err
	}
	_, err = s.snapshotRepo.Insert(&model.Snapshot{
		ExperimentID: snap.ExperimentID,
		Region:       snap.Region,
		Elapsed:      snap.Elapsed.Seconds(),
		Filename:     filename,
		FilePath:     fullpath,
		FileSize:     info.Size(),
	})
	return err
}
