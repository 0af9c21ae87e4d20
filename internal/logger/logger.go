package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"flyassay/internal/config"
)

// level ties a severity to its log file and console stream.
type level struct {
	name    string
	tag     string
	console io.Writer
}

// Rig log levels in the order they are opened. Each level keeps its own
// <name>.log file in the log directory.
var levels = []level{
	{name: "info", tag: "🪰 INFO  ", console: os.Stdout},
	{name: "warning", tag: "⚠️  WARN  ", console: os.Stdout},
	{name: "error", tag: "❌ ERROR ", console: os.Stderr},
}

// Timestamps carry microseconds so frame lag can be read off the log.
const rigFlags = log.Ldate | log.Lmicroseconds | log.Lshortfile

// FileName returns the log file of a level ("info", "warning", "error").
func FileName(levelName string) (string, bool) {
	for _, lv := range levels {
		if lv.name == levelName {
			return lv.name + ".log", true
		}
	}
	return "", false
}

// Logger writes leveled rig messages to the console and one file per level.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      []*os.File
	logDir     string
	mu         sync.Mutex
}

// NewLogger opens the level files under config.LogDirectory. The rig cannot
// run without its logs, so failures are fatal.
func NewLogger(config *config.Config) *Logger {
	l, err := open(config.LogDirectory)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	return l
}

func open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Logger{logDir: dir}
	loggers := make([]*log.Logger, len(levels))
	for i, lv := range levels {
		name, _ := FileName(lv.name)
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		l.files = append(l.files, file)
		loggers[i] = log.New(io.MultiWriter(lv.console, file), lv.tag, rigFlags)
	}
	l.infoLog, l.warningLog, l.errorLog = loggers[0], loggers[1], loggers[2]
	return l, nil
}

// NewWriterLogger sends every level to w. Used by tests and the offline tools.
func NewWriterLogger(w io.Writer) *Logger {
	l := &Logger{}
	loggers := make([]*log.Logger, len(levels))
	for i, lv := range levels {
		loggers[i] = log.New(w, lv.tag, log.Ldate|log.Ltime)
	}
	l.infoLog, l.warningLog, l.errorLog = loggers[0], loggers[1], loggers[2]
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(io.Discard)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.output(l.infoLog, format, v...)
}

func (l *Logger) Warning(format string, v ...interface{}) {
	l.output(l.warningLog, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.output(l.errorLog, format, v...)
}

// output keeps call-site file:line by skipping this frame and the level method.
func (l *Logger) output(dst *log.Logger, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dst.Output(3, fmt.Sprintf(format, v...))
}

// CleanLogs truncates one of the level files, given by file name.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	known := false
	for _, lv := range levels {
		if name, _ := FileName(lv.name); name == fileName {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown log file %q", fileName)
	}

	l.mu.Lock()
	err := os.Truncate(filepath.Join(l.logDir, fileName), 0)
	l.mu.Unlock()
	if err != nil {
		l.Error("Failed to clear %s: %v", fileName, err)
		return err
	}
	l.Info("%s has been cleared.", fileName)
	return nil
}

// Close releases the level files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
