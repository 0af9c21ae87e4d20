package sqlite

import (
	"fmt"

	"flyassay/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert adds a snapshot record.
func (r *SnapshotRepository) Insert(snap *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (experiment_id, region, elapsed, filename, filepath, filesize)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ExperimentID, snap.Region, snap.Elapsed, snap.Filename, snap.FilePath, snap.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return result.LastInsertId()
}

// GetByExperiment returns a run's snapshots in time order.
func (r *SnapshotRepository) GetByExperiment(experimentID int64) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, experiment_id, region, elapsed, filename, filepath, filesize, created_at
		FROM snapshots WHERE experiment_id = ? ORDER BY elapsed, region
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		if err := rows.Scan(&s.ID, &s.ExperimentID, &s.Region, &s.Elapsed, &s.Filename, &s.FilePath, &s.FileSize, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}

	return snaps, rows.Err()
}
