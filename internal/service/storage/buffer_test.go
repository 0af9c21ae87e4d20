package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flyassay/internal/config"
	"flyassay/internal/logger"
	"flyassay/internal/model"
)

type fakeSnapshotRepo struct {
	inserted []model.Snapshot
}

func (f *fakeSnapshotRepo) Insert(snap *model.Snapshot) (int64, error) {
	f.inserted = append(f.inserted, *snap)
	return int64(len(f.inserted)), nil
}

func (f *fakeSnapshotRepo) GetByExperiment(experimentID int64) ([]model.Snapshot, error) {
	return f.inserted, nil
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSnapshotBuffer_LimitAndFlush(t *testing.T) {
	dir := t.TempDir()
	repo := &fakeSnapshotRepo{}
	cfg := &config.Config{SnapshotLimit: 2}
	buf := NewSnapshotBuffer(cfg, logger.Discard(), repo)

	sink := buf.ForRun(7, dir, "run")
	data := testJPEG(t, 640, 480)
	for i := 0; i < 3; i++ {
		sink.AddSnapshot("roi1", time.Duration(i)*10*time.Second, data)
	}
	sink.AddSnapshot("roi2", 0, data)
	assert.Equal(t, 3, buf.Len(), "roi1 capped at two")

	buf.Flush()
	assert.Equal(t, 0, buf.Len())
	require.Len(t, repo.inserted, 3)

	first := repo.inserted[0]
	assert.Equal(t, int64(7), first.ExperimentID)
	assert.Equal(t, "roi1", first.Region)
	assert.Equal(t, filepath.Join(dir, SnapshotDir, "run-roi1-0000.00.jpg"), first.FilePath)

	img, err := imaging.Open(first.FilePath)
	require.NoError(t, err)
	assert.Equal(t, ThumbnailSize, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())

	// counters reset after a flush
	sink.AddSnapshot("roi1", 30*time.Second, data)
	assert.Equal(t, 1, buf.Len())
}

func TestSnapshotBuffer_BadImageSkipped(t *testing.T) {
	dir := t.TempDir()
	repo := &fakeSnapshotRepo{}
	buf := NewSnapshotBuffer(&config.Config{}, logger.Discard(), repo)

	buf.ForRun(1, dir, "run").AddSnapshot("roi1", 0, []byte("not a jpeg"))
	buf.Flush()

	assert.Empty(t, repo.inserted)
	_, err := os.Stat(filepath.Join(dir, SnapshotDir))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotBuffer_RunFlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	buf := NewSnapshotBuffer(&config.Config{SnapshotFlushInterval: time.Hour}, logger.Discard(), nil)
	buf.ForRun(1, dir, "run").AddSnapshot("roi3", 1500*time.Millisecond, testJPEG(t, 100, 50))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := os.Stat(filepath.Join(dir, SnapshotDir, FileName("run", "roi3", 1500*time.Millisecond)))
	assert.NoError(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "ts-roi2-0125.50.jpg", FileName("ts", "roi2", 125500*time.Millisecond))
}
