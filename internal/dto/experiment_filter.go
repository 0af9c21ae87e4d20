package dto

import "time"

// ExperimentFilters narrow the experiment list.
type ExperimentFilters struct {
	Status     string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
