// Package calibration stores the lens-distortion coefficients produced by
// chessboard calibration and read back before every experiment.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotCalibrationFile is returned when a JSON file lacks the calibration keys,
// typically because an ROI file was selected by mistake.
var ErrNotCalibrationFile = errors.New("file does not contain camera calibration data")

// Data mirrors the JSON written after calibration.
type Data struct {
	ReprojectionError float64     `json:"reprojection_error"`
	CameraMatrix      [][]float64 `json:"camera_matrix"`
	DistCoeff         [][]float64 `json:"dist_coeff"`
}

// Coefficients flattens dist_coeff, which OpenCV writes as a 1xN (or Nx1) matrix.
func (d *Data) Coefficients() []float64 {
	var out []float64
	for _, row := range d.DistCoeff {
		out = append(out, row...)
	}
	return out
}

// Validate checks matrix shapes.
func (d *Data) Validate() error {
	if len(d.CameraMatrix) != 3 {
		return fmt.Errorf("camera matrix must have 3 rows, got %d", len(d.CameraMatrix))
	}
	for i, row := range d.CameraMatrix {
		if len(row) != 3 {
			return fmt.Errorf("camera matrix row %d must have 3 columns, got %d", i, len(row))
		}
	}
	if n := len(d.Coefficients()); n < 4 {
		return fmt.Errorf("expected at least 4 distortion coefficients, got %d", n)
	}
	return nil
}

// Load reads and validates a calibration file.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file %s: %w", path, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}
	for _, key := range []string{"camera_matrix", "dist_coeff"} {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("%s: %w", path, ErrNotCalibrationFile)
		}
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode calibration file %s: %w", path, err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration file %s: %w", path, err)
	}
	return &data, nil
}

// Save writes the calibration, replacing any existing file.
func Save(path string, data *Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file %s: %w", path, err)
	}
	return nil
}
