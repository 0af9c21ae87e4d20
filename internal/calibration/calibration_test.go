package calibration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleData() *Data {
	return &Data{
		ReprojectionError: 0.42,
		CameraMatrix: [][]float64{
			{612.3, 0, 320.1},
			{0, 610.8, 241.7},
			{0, 0, 1},
		},
		DistCoeff: [][]float64{{-0.41, 0.19, 0.001, -0.002, -0.05}},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Camera_calibration_matrices.json")

	if err := Save(path, sampleData()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.ReprojectionError != 0.42 {
		t.Errorf("Expected reprojection error 0.42, got %v", got.ReprojectionError)
	}
	if got.CameraMatrix[1][2] != 241.7 {
		t.Errorf("Unexpected camera matrix: %v", got.CameraMatrix)
	}
	if len(got.Coefficients()) != 5 {
		t.Errorf("Expected 5 coefficients, got %d", len(got.Coefficients()))
	}
}

func TestLoad_PythonWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.json")
	raw := `{"reprojection_error": 0.37, "camera_matrix": [[600.0, 0.0, 320.0], [0.0, 600.0, 240.0], [0.0, 0.0, 1.0]], "dist_coeff": [[-0.3], [0.1], [0.0], [0.0], [0.0]]}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	coeffs := got.Coefficients()
	if len(coeffs) != 5 || coeffs[0] != -0.3 {
		t.Errorf("Unexpected coefficients %v", coeffs)
	}
}

func TestLoad_ROIFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "FlyActivityAssay_ROIs.json")
	raw := `{"roi1": [[10, 10], [100, 100]]}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrNotCalibrationFile) {
		t.Errorf("Expected ErrNotCalibrationFile, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Data)
		wantErr bool
	}{
		{"valid", func(d *Data) {}, false},
		{"two rows", func(d *Data) { d.CameraMatrix = d.CameraMatrix[:2] }, true},
		{"short row", func(d *Data) { d.CameraMatrix[0] = []float64{1, 2} }, true},
		{"few coefficients", func(d *Data) { d.DistCoeff = [][]float64{{0.1, 0.2}} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleData()
			tt.mutate(d)
			if err := d.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
