package sqlite

import (
	"fmt"

	"flyassay/internal/model"
)

// SampleRepository implements repository.SampleRepository for SQLite.
type SampleRepository struct {
	db *DB
}

// NewSampleRepository creates a new SQLite sample repository.
func NewSampleRepository(db *DB) *SampleRepository {
	return &SampleRepository{db: db}
}

// InsertBatch adds samples in a single transaction.
func (r *SampleRepository) InsertBatch(samples []model.Sample) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples (experiment_id, region, elapsed, count, stimulation)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(s.ExperimentID, s.Region, s.Elapsed, s.Count, s.Stimulation); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	return tx.Commit()
}

// GetByExperiment returns the samples of one region in time order. An empty
// region returns all regions.
func (r *SampleRepository) GetByExperiment(experimentID int64, region string) ([]model.Sample, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT id, experiment_id, region, elapsed, count, stimulation FROM samples WHERE experiment_id = ?`
	args := []interface{}{experimentID}
	if region != "" {
		query += " AND region = ?"
		args = append(args, region)
	}
	query += " ORDER BY region, elapsed, id"

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var s model.Sample
		if err := rows.Scan(&s.ID, &s.ExperimentID, &s.Region, &s.Elapsed, &s.Count, &s.Stimulation); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// GetRegionNames returns the distinct regions recorded for a run.
func (r *SampleRepository) GetRegionNames(experimentID int64) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT region FROM samples WHERE experiment_id = ? ORDER BY region`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query regions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// DeleteByExperiment removes all samples of a run.
func (r *SampleRepository) DeleteByExperiment(experimentID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM samples WHERE experiment_id = ?`, experimentID); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	return nil
}
