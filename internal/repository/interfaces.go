package repository

import (
	"time"

	"flyassay/internal/dto"
	"flyassay/internal/model"
)

// ExperimentRepository defines the interface for experiment run operations.
type ExperimentRepository interface {
	// Create operations
	Insert(exp *model.Experiment) (int64, error)

	// Update operations
	Finish(id int64, status string, finishedAt time.Time, frames, maxLag int) error

	// Read operations
	GetByID(id int64) (*model.Experiment, error)
	GetByTimestring(timestring string) (*model.Experiment, error)
	GetAll(filter *dto.ExperimentFilters) ([]model.Experiment, error)

	// Delete operations
	Delete(id int64) error
}

// SampleRepository defines the interface for per-frame count operations.
type SampleRepository interface {
	InsertBatch(samples []model.Sample) error

	GetByExperiment(experimentID int64, region string) ([]model.Sample, error)
	GetRegionNames(experimentID int64) ([]string, error)

	DeleteByExperiment(experimentID int64) error
}

// SnapshotRepository defines the interface for stored region crops.
type SnapshotRepository interface {
	Insert(snap *model.Snapshot) (int64, error)
	GetByExperiment(experimentID int64) ([]model.Snapshot, error)
}
