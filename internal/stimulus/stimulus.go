// Package stimulus drives the opto-stimulation LEDs through the Arduino
// running the opto-blink sketch.
//
// The sketch reads "<frequency Hz>,<pulse width ms>" and echoes the state it
// applied as a comma-separated line. "0,0" turns the LEDs off.
package stimulus

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"flyassay/internal/logger"
)

// Stimulator switches the LED stimulus.
type Stimulator interface {
	On(frequency, pulseWidth float64) error
	Off() error
	IsOn() bool
	Close() error
}

// PortConfig describes the serial link.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
	Settle      time.Duration
}

// Arduino is a Stimulator over a serial port.
type Arduino struct {
	port        io.ReadWriteCloser
	readTimeout time.Duration
	logger      *logger.Logger

	mu   sync.Mutex
	isOn bool
}

// Open connects to the board, waits for it to settle, drains its greeting and
// forces the LEDs off.
func Open(cfg PortConfig, logger *logger.Logger) (*Arduino, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}
	time.Sleep(cfg.Settle)

	a := NewArduino(port, cfg.ReadTimeout, logger)
	if greeting, err := a.readLine(); err == nil {
		logger.Info("Arduino on %s says %q", cfg.Name, greeting)
	}
	if _, err := a.port.Write([]byte(Command(0, 0))); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset stimulus: %w", err)
	}
	return a, nil
}

// NewArduino wraps an already open port.
func NewArduino(port io.ReadWriteCloser, readTimeout time.Duration, logger *logger.Logger) *Arduino {
	return &Arduino{port: port, readTimeout: readTimeout, logger: logger}
}

// Command formats a frequency/pulse-width request.
func Command(frequency, pulseWidth float64) string {
	return strconv.FormatFloat(frequency, 'f', -1, 64) + "," + strconv.FormatFloat(pulseWidth, 'f', -1, 64)
}

// ParseState parses the board's echo.
func ParseState(line string) (frequency, pulseWidth float64, err error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected stimulus state %q", line)
	}
	frequency, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected stimulus state %q: %w", line, err)
	}
	pulseWidth, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected stimulus state %q: %w", line, err)
	}
	return frequency, pulseWidth, nil
}

// On requests flashing and marks the LEDs on once the board confirms non-zero values.
func (a *Arduino) On(frequency, pulseWidth float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	freq, dur, err := a.send(Command(frequency, pulseWidth))
	if err != nil {
		return err
	}
	if freq != 0 && dur != 0 {
		a.isOn = true
	}
	return nil
}

// Off requests 0,0 and marks the LEDs off once the board confirms it.
func (a *Arduino) Off() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	freq, dur, err := a.send(Command(0, 0))
	if err != nil {
		return err
	}
	if freq == 0 && dur == 0 {
		a.isOn = false
	}
	return nil
}

// IsOn reports the last confirmed state.
func (a *Arduino) IsOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOn
}

// Close turns the LEDs off and releases the port.
func (a *Arduino) Close() error {
	if err := a.Off(); err != nil && a.logger != nil {
		a.logger.Warning("Could not confirm stimulus off before closing: %v", err)
	}
	return a.port.Close()
}

func (a *Arduino) send(cmd string) (float64, float64, error) {
	if _, err := a.port.Write([]byte(cmd)); err != nil {
		return 0, 0, fmt.Errorf("failed to write %q: %w", cmd, err)
	}
	line, err := a.readLine()
	if err != nil {
		return 0, 0, err
	}
	return ParseState(line)
}

// readLine reads up to a newline, giving up after the read timeout passes
// without a complete line.
func (a *Arduino) readLine() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	deadline := time.Now().Add(a.lineTimeout())
	for time.Now().Before(deadline) {
		n, err := a.port.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				return sb.String(), nil
			}
			sb.WriteByte(buf[0])
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return sb.String(), fmt.Errorf("failed to read stimulus state: %w", err)
		}
	}
	if sb.Len() > 0 {
		return sb.String(), nil
	}
	return "", errors.New("timed out waiting for stimulus state")
}

func (a *Arduino) lineTimeout() time.Duration {
	if a.readTimeout <= 0 {
		return 50 * time.Millisecond
	}
	return a.readTimeout
}

// Disabled is used when no board is attached; it only tracks the requested state.
type Disabled struct {
	mu   sync.Mutex
	isOn bool
}

func (d *Disabled) On(float64, float64) error {
	d.mu.Lock()
	d.isOn = true
	d.mu.Unlock()
	return nil
}

func (d *Disabled) Off() error {
	d.mu.Lock()
	d.isOn = false
	d.mu.Unlock()
	return nil
}

func (d *Disabled) IsOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isOn
}

func (d *Disabled) Close() error { return nil }

// Schedule is the stimulation window relative to the experiment start.
type Schedule struct {
	Onset    time.Duration
	Duration time.Duration
}

// Active reports whether elapsed falls inside [onset, onset+duration).
func (s Schedule) Active(elapsed time.Duration) bool {
	return elapsed >= s.Onset && elapsed < s.Onset+s.Duration
}
