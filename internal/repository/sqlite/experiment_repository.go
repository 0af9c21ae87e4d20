package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flyassay/internal/dto"
	"flyassay/internal/model"
)

const experimentColumns = `id, run_id, timestring, directory, status, started_at, finished_at,
	duration, stim_onset, stim_duration, led_frequency, led_pulse_width, fps_cap,
	use_stimulator, frames, max_lag`

// ExperimentRepository implements repository.ExperimentRepository for SQLite.
type ExperimentRepository struct {
	db *DB
}

// NewExperimentRepository creates a new SQLite experiment repository.
func NewExperimentRepository(db *DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Insert adds a new run record.
func (r *ExperimentRepository) Insert(exp *model.Experiment) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO experiments (run_id, timestring, directory, status, started_at,
			duration, stim_onset, stim_duration, led_frequency, led_pulse_width, fps_cap, use_stimulator)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exp.RunID, exp.Timestring, exp.Directory, exp.Status, exp.StartedAt,
		exp.Duration, exp.StimOnset, exp.StimDuration, exp.LEDFrequency, exp.LEDPulseWidth, exp.FPSCap, exp.UseStimulator)
	if err != nil {
		return 0, fmt.Errorf("failed to insert experiment: %w", err)
	}

	return result.LastInsertId()
}

// Finish records the outcome of a run.
func (r *ExperimentRepository) Finish(id int64, status string, finishedAt time.Time, frames, maxLag int) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		UPDATE experiments SET status = ?, finished_at = ?, frames = ?, max_lag = ? WHERE id = ?
	`, status, finishedAt, frames, maxLag, id)
	if err != nil {
		return fmt.Errorf("failed to finish experiment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment %d not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(s scanner) (*model.Experiment, error) {
	var exp model.Experiment
	var finished sql.NullTime
	err := s.Scan(&exp.ID, &exp.RunID, &exp.Timestring, &exp.Directory, &exp.Status, &exp.StartedAt, &finished,
		&exp.Duration, &exp.StimOnset, &exp.StimDuration, &exp.LEDFrequency, &exp.LEDPulseWidth, &exp.FPSCap,
		&exp.UseStimulator, &exp.Frames, &exp.MaxLag)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		exp.FinishedAt = &finished.Time
	}
	return &exp, nil
}

// GetByID retrieves a run by its ID. A missing run is (nil, nil).
func (r *ExperimentRepository) GetByID(id int64) (*model.Experiment, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	exp, err := scanExperiment(r.db.Conn().QueryRow(`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

// GetByTimestring retrieves a run by its folder name. A missing run is (nil, nil).
func (r *ExperimentRepository) GetByTimestring(timestring string) (*model.Experiment, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	exp, err := scanExperiment(r.db.Conn().QueryRow(`SELECT `+experimentColumns+` FROM experiments WHERE timestring = ?`, timestring))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

// GetAll retrieves runs newest first.
func (r *ExperimentRepository) GetAll(filter *dto.ExperimentFilters) ([]model.Experiment, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE 1=1`
	args := []interface{}{}

	if filter != nil {
		if filter.Status != "" {
			query += " AND status = ?"
			args = append(args, filter.Status)
		}
		if !filter.DateAfter.IsZero() {
			query += " AND started_at >= ?"
			args = append(args, filter.DateAfter)
		}
		if !filter.DateBefore.IsZero() {
			query += " AND started_at <= ?"
			args = append(args, filter.DateBefore)
		}
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	var experiments []model.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, *exp)
	}

	return experiments, rows.Err()
}

// Delete removes a run together with its samples and snapshot records.
func (r *ExperimentRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment %d not found", id)
	}
	return nil
}
