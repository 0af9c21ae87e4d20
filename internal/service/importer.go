package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"flyassay/internal/experiment"
	"flyassay/internal/logger"
	"flyassay/internal/model"
	"flyassay/internal/repository"
	"flyassay/internal/results"
)

// ImportReport summarises an import.
type ImportReport struct {
	Imported []string
	Skipped  []string
	Samples  int
}

// Importer loads run folders written by earlier sessions into the database.
type Importer struct {
	experimentRepo repository.ExperimentRepository
	sampleRepo     repository.SampleRepository
	logger         *logger.Logger
	location       *time.Location
}

func NewImporter(experimentRepo repository.ExperimentRepository, sampleRepo repository.SampleRepository, logger *logger.Logger) *Importer {
	return &Importer{
		experimentRepo: experimentRepo,
		sampleRepo:     sampleRepo,
		logger:         logger,
		location:       time.Local,
	}
}

// regionFiles maps region name to result file for one run folder.
func regionFiles(dir, timestring string) (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	prefix := timestring + "-"
	files := make(map[string]string)
	for _, path := range matches {
		base := filepath.Base(path)
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		region := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".csv")
		if region != "" {
			files[region] = path
		}
	}
	return files, nil
}

// ImportDirectory imports every run folder of dataDir that holds result
// files and is not yet in the database.
func (i *Importer) ImportDirectory(dataDir string) (*ImportReport, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dataDir, err)
	}

	report := &ImportReport{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		files, err := regionFiles(filepath.Join(dataDir, name), name)
		if err != nil {
			return report, err
		}
		if len(files) == 0 {
			continue
		}

		existing, err := i.experimentRepo.GetByTimestring(name)
		if err != nil {
			return report, err
		}
		if existing != nil {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		n, err := i.importRun(filepath.Join(dataDir, name), name, files)
		if err != nil {
			return report, fmt.Errorf("failed to import %s: %w", name, err)
		}
		report.Imported = append(report.Imported, name)
		report.Samples += n
		i.logger.Info("Imported %s: %d samples", name, n)
	}
	return report, nil
}

func (i *Importer) importRun(dir, timestring string, files map[string]string) (int, error) {
	exp := model.Experiment{
		RunID:      uuid.NewString(),
		Timestring: timestring,
		Directory:  dir,
		Status:     model.StatusFinished,
	}
	if parsed, err := experiment.ParseTimestring(timestring, i.location); err == nil {
		exp.StartedAt = parsed.Started
		exp.UseStimulator = parsed.UseStimulator
		exp.LEDFrequency = parsed.LEDFrequency
		exp.LEDPulseWidth = parsed.LEDPulseWidth
	} else if info, statErr := os.Stat(dir); statErr == nil {
		exp.StartedAt = info.ModTime()
	} else {
		exp.StartedAt = time.Now()
	}

	regions := make([]string, 0, len(files))
	for region := range files {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	var samples []model.Sample
	frames := 0
	lastElapsed := 0.0
	var stimStart, stimEnd float64 = -1, -1
	for _, region := range regions {
		rows, err := results.Read(files[region])
		if err != nil {
			return 0, err
		}
		if len(rows) > frames {
			frames = len(rows)
		}
		for _, row := range rows {
			if row.Elapsed > lastElapsed {
				lastElapsed = row.Elapsed
			}
			if row.Stimulation {
				if stimStart < 0 || row.Elapsed < stimStart {
					stimStart = row.Elapsed
				}
				if row.Elapsed > stimEnd {
					stimEnd = row.Elapsed
				}
			}
			samples = append(samples, model.Sample{
				Region:      region,
				Elapsed:     row.Elapsed,
				Count:       row.Count,
				Stimulation: row.Stimulation,
			})
		}
	}
	exp.Duration = lastElapsed
	if stimStart >= 0 {
		exp.StimOnset = stimStart
		exp.StimDuration = stimEnd - stimStart
	}

	id, err := i.experimentRepo.Insert(&exp)
	if err != nil {
		return 0, err
	}
	finished := exp.StartedAt.Add(time.Duration(lastElapsed * float64(time.Second)))
	if err := i.storeSamples(id, samples, finished, frames); err != nil {
		// A half-stored run would be skipped by every later import.
		if delErr := i.experimentRepo.Delete(id); delErr != nil {
			i.logger.Error("Failed to remove partial import of %s: %v", timestring, delErr)
			return 0, errors.Join(err, delErr)
		}
		return 0, err
	}
	return len(samples), nil
}

func (i *Importer) storeSamples(id int64, samples []model.Sample, finished time.Time, frames int) error {
	for k := range samples {
		samples[k].ExperimentID = id
	}
	if len(samples) > 0 {
		if err := i.sampleRepo.InsertBatch(samples); err != nil {
			return err
		}
	}
	return i.experimentRepo.Finish(id, model.StatusFinished, finished, frames, 0)
}
