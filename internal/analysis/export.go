package analysis

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReplicateFormat selects the table format of WriteReplicates.
type ReplicateFormat string

const (
	FormatXLSX ReplicateFormat = "xlsx"
	FormatCSV  ReplicateFormat = "csv"
)

const replicateSheet = "Sheet1"

// ParseReplicateFormat accepts "xlsx" or "csv"; empty means xlsx.
func ParseReplicateFormat(s string) (ReplicateFormat, error) {
	switch ReplicateFormat(strings.ToLower(s)) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown replicate format %q", s)
}

// ReplicateFileName is the raw table name of a treatment; "/" is not allowed
// in file names and becomes ".".
func ReplicateFileName(dir, treatment string, format ReplicateFormat) string {
	return filepath.Join(dir, strings.ReplaceAll(treatment, "/", ".")+"."+string(format))
}

// WriteReplicates saves the binned replicates of every treatment, one column
// per replicate indexed by the interval label. Empty bins are left blank.
func WriteReplicates(dir string, fg *Flygram, format ReplicateFormat) ([]string, error) {
	write := writeReplicateWorkbook
	if format == FormatCSV {
		write = writeReplicateCSV
	} else {
		format = FormatXLSX
	}

	var written []string
	for _, t := range fg.Treatments {
		path := ReplicateFileName(dir, t, format)
		if err := write(path, replicateTable(fg.Raw[t])); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// table is a header plus rows of an interval label followed by one value per
// replicate; NaN marks a blank cell.
type table struct {
	header []string
	labels []string
	values [][]float64
}

func replicateTable(reps []Series) table {
	longest := Series{}
	for _, s := range reps {
		if len(s.Right) > len(longest.Right) {
			longest = s
		}
	}

	t := table{header: []string{"Time Elapsed (sec)"}}
	for i := range reps {
		t.header = append(t.header, fmt.Sprintf("Replicate %d Percent Group Activity", i+1))
	}
	for i := range longest.Right {
		t.labels = append(t.labels, longest.Label(i))
		row := make([]float64, len(reps))
		for j, s := range reps {
			row[j] = math.NaN()
			if i < len(s.Mean) {
				row[j] = s.Mean[i]
			}
		}
		t.values = append(t.values, row)
	}
	return t
}

func writeReplicateWorkbook(path string, t table) error {
	f := excelize.NewFile()
	defer f.Close()

	set := func(col, row int, v interface{}) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(replicateSheet, cell, v)
	}

	for c, h := range t.header {
		if err := set(c+1, 1, h); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	for r, label := range t.labels {
		if err := set(1, r+2, label); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		for c, v := range t.values[r] {
			if math.IsNaN(v) {
				continue
			}
			if err := set(c+2, r+2, v); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeReplicateCSV(path string, t table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)

	w.Write(t.header)
	for r, label := range t.labels {
		row := []string{label}
		for _, v := range t.values[r] {
			cell := ""
			if !math.IsNaN(v) {
				cell = strconv.FormatFloat(v, 'g', -1, 64)
			}
			row = append(row, cell)
		}
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
