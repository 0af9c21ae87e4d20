package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"flyassay/internal/results"
)

// ErrMissingReplicate is returned when a key row has no matching result file.
var ErrMissingReplicate = errors.New("result file not found")

// Key file columns.
const (
	KeyDatetime  = "Datetime"
	KeyROI       = "ROI"
	KeyNumFlies  = "Num_Flies"
	KeyTreatment = "Treatment"
)

// KeyEntry describes one replicate of a flygram experiment.
type KeyEntry struct {
	Datetime  string
	ROI       int
	NumFlies  float64
	Treatment string
}

// LoadKey reads an experiment key CSV.
func LoadKey(path string) ([]KeyEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %s: %w", path, err)
	}
	defer f.Close()

	entries, err := decodeKey(f)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return entries, nil
}

func decodeKey(r io.Reader) ([]KeyEntry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range []string{KeyDatetime, KeyROI, KeyNumFlies, KeyTreatment} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var entries []KeyEntry
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		roi, err := strconv.ParseFloat(strings.TrimPrefix(fields[idx[KeyROI]], "roi"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad ROI: %w", line, err)
		}
		flies, err := strconv.ParseFloat(fields[idx[KeyNumFlies]], 64)
		if err != nil || flies <= 0 {
			return nil, fmt.Errorf("line %d: bad fly count %q", line, fields[idx[KeyNumFlies]])
		}
		entries = append(entries, KeyEntry{
			Datetime:  strings.TrimSpace(fields[idx[KeyDatetime]]),
			ROI:       int(roi),
			NumFlies:  flies,
			Treatment: strings.TrimSpace(fields[idx[KeyTreatment]]),
		})
	}
	if len(entries) == 0 {
		return nil, errors.New("no experiments listed")
	}
	return entries, nil
}

// SortTreatments orders treatments by the integer before ":" (air:ethanol
// flow rates) when every treatment has one, otherwise lexicographically.
func SortTreatments(treatments []string) []string {
	out := append([]string(nil), treatments...)
	prefixes := make(map[string]int, len(out))
	numeric := true
	for _, t := range out {
		n, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(t, ":", 2)[0]))
		if err != nil {
			numeric = false
			break
		}
		prefixes[t] = n
	}
	sort.SliceStable(out, func(i, j int) bool {
		if numeric && prefixes[out[i]] != prefixes[out[j]] {
			return prefixes[out[i]] < prefixes[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// FlygramOptions control binning and normalisation.
type FlygramOptions struct {
	BinSize             int
	NormalizeToBaseline bool
	BaselineWindow      float64 // seconds
}

// Flygram is the per-treatment activity of a group assay.
type Flygram struct {
	BinSize    int
	Normalized bool
	Treatments []string
	Results    map[string]Summary
	Raw        map[string][]Series
	StimStart  float64
	StimEnd    float64
	HasStim    bool
}

// LoadFlygram finds the result file of each key entry under
// <dataDir>/*/*-roi<N>.csv, normalises counts by the number of flies (and
// optionally by baseline activity), bins and averages per treatment.
func LoadFlygram(dataDir string, key []KeyEntry, opts FlygramOptions) (*Flygram, error) {
	if opts.BinSize <= 0 {
		return nil, fmt.Errorf("bin size must be positive, got %d", opts.BinSize)
	}
	files, err := filepath.Glob(filepath.Join(dataDir, "*", "*-roi?.csv"))
	if err != nil {
		return nil, err
	}

	byTreatment := map[string][]KeyEntry{}
	var treatments []string
	for _, e := range key {
		if _, ok := byTreatment[e.Treatment]; !ok {
			treatments = append(treatments, e.Treatment)
		}
		byTreatment[e.Treatment] = append(byTreatment[e.Treatment], e)
	}

	fg := &Flygram{
		BinSize:    opts.BinSize,
		Normalized: opts.NormalizeToBaseline,
		Treatments: SortTreatments(treatments),
		Results:    map[string]Summary{},
		Raw:        map[string][]Series{},
	}
	for _, treatment := range fg.Treatments {
		var binned []Series
		for _, e := range byTreatment[treatment] {
			path := findReplicate(files, e)
			if path == "" {
				return nil, fmt.Errorf("roi %d of %q: %w", e.ROI, e.Datetime, ErrMissingReplicate)
			}
			rows, err := results.Read(path)
			if err != nil {
				return nil, err
			}
			if !fg.HasStim {
				fg.StimStart, fg.StimEnd, fg.HasStim = StimWindow(rows)
			}

			rows = Scale(rows, e.NumFlies)
			if opts.NormalizeToBaseline {
				if rows, err = NormalizeToBaseline(rows, opts.BaselineWindow); err != nil {
					return nil, fmt.Errorf("%s: %w", path, err)
				}
			}
			binned = append(binned, Bin(rows, opts.BinSize, 1))
		}
		fg.Raw[treatment] = binned
		fg.Results[treatment] = Aggregate(binned)
	}
	return fg, nil
}

func findReplicate(files []string, e KeyEntry) string {
	suffix := fmt.Sprintf("-roi%d.csv", e.ROI)
	for _, path := range files {
		if strings.Contains(path, e.Datetime) && strings.HasSuffix(path, suffix) {
			return path
		}
	}
	return ""
}
