package model

import "time"

// Sample is one counted frame for one region.
type Sample struct {
	ID           int64   `json:"-"`
	ExperimentID int64   `json:"experiment_id"`
	Region       string  `json:"region"`
	Elapsed      float64 `json:"elapsed"`
	Count        float64 `json:"count"`
	Stimulation  bool    `json:"stimulation"`
}

// Snapshot is a stored annotated region crop.
type Snapshot struct {
	ID           int64     `json:"id"`
	ExperimentID int64     `json:"experiment_id"`
	Region       string    `json:"region"`
	Elapsed      float64   `json:"elapsed"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"filepath"`
	FileSize     int64     `json:"filesize"`
	CreatedAt    time.Time `json:"created_at"`
}
