package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flyassay/internal/config"
)

func TestNewLogger_CreatesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Info("started %d", 1)
	l.Warning("lagging %d", 2)
	l.Error("failed %d", 3)

	defer l.Close()

	for name, want := range map[string]string{
		"info.log":    "started 1",
		"warning.log": "lagging 2",
		"error.log":   "failed 3",
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s should contain %q, got %q", name, want, string(data))
		}
	}
}

func TestCleanLogs_Truncates(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})
	defer l.Close()

	l.Error("something broke")
	if err := l.CleanLogs("error.log"); err != nil {
		t.Fatalf("CleanLogs failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("Failed to read error.log: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected empty error.log, got %q", string(data))
	}
}

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	l.Warning("queue lag %d", 42)

	if !strings.Contains(buf.String(), "WARN") || !strings.Contains(buf.String(), "queue lag 42") {
		t.Errorf("Unexpected output: %q", buf.String())
	}
}

func TestCleanLogs_RejectsUnknownFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})
	defer l.Close()

	if err := l.CleanLogs("../config.env"); err == nil {
		t.Error("Expected an error for a file outside the level logs")
	}
}

func TestFileName(t *testing.T) {
	for level, want := range map[string]string{"info": "info.log", "warning": "warning.log", "error": "error.log"} {
		got, ok := FileName(level)
		if !ok || got != want {
			t.Errorf("FileName(%q) = %q, %v; want %q", level, got, ok, want)
		}
	}
	if _, ok := FileName("debug"); ok {
		t.Error("debug is not a rig log level")
	}
}

func TestLogger_ReportsCallSite(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})
	l.Info("frame lag %d", 3)
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "info.log"))
	if err != nil {
		t.Fatalf("Failed to read info.log: %v", err)
	}
	if !strings.Contains(string(data), "logger_test.go") {
		t.Errorf("Expected the caller's file in %q", string(data))
	}
}
