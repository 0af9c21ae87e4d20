package analysis

import (
	"fmt"
	"path/filepath"

	"flyassay/internal/results"
)

// SummaryRegions are the arenas of a condition in 2x2 panel order.
var SummaryRegions = []string{"roi1", "roi3", "roi2", "roi4"}

// Panel is one arena of a condition summary.
type Panel struct {
	Region     string
	Summary    Summary
	Replicates int
	StimStart  float64
	StimEnd    float64
	HasStim    bool
}

// Condition is the binned activity of every run folder under one
// condition directory.
type Condition struct {
	Name    string
	BinSize int
	Panels  []Panel
}

// SummarizeCondition bins every <dir>/*/*-<roi>.csv for the summary regions
// and averages over replicates. scale is indexed by
// len(SummaryRegions)*regionIndex + replicate; missing entries count as 1.
func SummarizeCondition(dir string, binSize int, scale []float64) (*Condition, error) {
	if binSize <= 0 {
		return nil, fmt.Errorf("bin size must be positive, got %d", binSize)
	}

	cond := &Condition{Name: filepath.Base(dir), BinSize: binSize}
	found := 0
	for ri, region := range SummaryRegions {
		files, err := filepath.Glob(filepath.Join(dir, "*", "*-"+region+".csv"))
		if err != nil {
			return nil, err
		}

		panel := Panel{Region: region, Replicates: len(files)}
		var binned []Series
		for fi, path := range files {
			rows, err := results.Read(path)
			if err != nil {
				return nil, err
			}
			if !panel.HasStim {
				panel.StimStart, panel.StimEnd, panel.HasStim = StimWindow(rows)
			}
			factor := 1.0
			if k := len(SummaryRegions)*ri + fi; k < len(scale) && scale[k] != 0 {
				factor = scale[k]
			}
			binned = append(binned, Bin(rows, binSize, factor))
		}
		found += len(files)
		panel.Summary = Aggregate(binned)
		panel.Summary.BinSize = binSize
		cond.Panels = append(cond.Panels, panel)
	}

	if found == 0 {
		return nil, fmt.Errorf("no result files under %s", dir)
	}
	return cond, nil
}
