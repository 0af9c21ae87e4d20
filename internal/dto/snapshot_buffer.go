package dto

import "time"

// BufferedSnapshot holds an annotated crop before it is written to disk.
type BufferedSnapshot struct {
	ExperimentID int64
	Directory    string
	Timestring   string
	Region       string
	Elapsed      time.Duration
	Data         []byte
}
