// Package results reads and writes the per-region activity CSV files.
package results

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
)

// Column headers, shared with the offline analysis scripts.
const (
	ColumnElapsed     = "Time Elapsed (sec)"
	ColumnCount       = "Number of active flies"
	ColumnStimulation = "Stimulation"
)

// Record is one analysed frame for one region.
type Record struct {
	Elapsed     float64 `json:"elapsed"`
	Count       int     `json:"count"`
	Stimulation bool    `json:"stimulation"`
}

// FileName returns <dir>/<timestring>-<region>.csv.
func FileName(dir, timestring, region string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", timestring, region))
}

// Encode writes the header and records.
func Encode(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnElapsed, ColumnCount, ColumnStimulation}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatFloat(rec.Elapsed, 'f', -1, 64),
			strconv.Itoa(rec.Count),
			formatBool(rec.Stimulation),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads records, rounding counts. Use DecodeScaled for files whose
// counts were normalised by hand.
func Decode(r io.Reader) ([]Record, error) {
	rows, err := DecodeScaled(r)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = Record{Elapsed: row.Elapsed, Count: int(row.Count + 0.5), Stimulation: row.Stimulation}
	}
	return out, nil
}

// Row is a record with a real-valued count.
type Row struct {
	Elapsed     float64
	Count       float64
	Stimulation bool
}

// DecodeScaled reads rows keeping counts as floats.
func DecodeScaled(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty results file")
		}
		return nil, err
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range []string{ColumnElapsed, ColumnCount, ColumnStimulation} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		elapsed, err := strconv.ParseFloat(fields[idx[ColumnElapsed]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad elapsed time: %w", line, err)
		}
		count, err := strconv.ParseFloat(fields[idx[ColumnCount]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad count: %w", line, err)
		}
		stim, err := parseBool(fields[idx[ColumnStimulation]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, Row{Elapsed: elapsed, Count: count, Stimulation: stim})
	}
	return rows, nil
}

// Write creates path with the records.
func Write(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(f, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Read loads a results file with real-valued counts.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := DecodeScaled(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// WriteAll writes one file per region, in sorted region order, and returns the paths.
func WriteAll(dir, timestring string, byRegion map[string][]Record) ([]string, error) {
	names := make([]string, 0, len(byRegion))
	for name := range byRegion {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := FileName(dir, timestring, name)
		if err := Write(path, byRegion[name]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// formatBool matches the capitalised booleans of the older result files.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("bad stimulation value %q", s)
}
