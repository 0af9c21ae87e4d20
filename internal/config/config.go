package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          int
	Password      string
	LogDirectory  string
	DataDirectory string // Default parent directory for experiment folders
	DatabasePath  string

	CalibrationPath string
	ROIPath         string

	CameraDevice int
	WarmupFrames int
	FPSCap       float64 // 0 = measure the camera's effective rate

	SerialPort    string
	BaudRate      int
	SerialTimeout time.Duration
	SerialSettle  time.Duration // Board resets on connect, wait before talking to it

	FFmpegBin string

	ExperimentDuration time.Duration
	StimOnset          time.Duration
	StimDuration       time.Duration
	LEDFrequency       float64 // Hz
	LEDPulseWidth      float64 // ms
	WriteVideo         bool
	WriteCSV           bool
	UseArduino         bool

	QueueSize             int
	PlotWindow            int
	SnapshotInterval      time.Duration
	SnapshotLimit         int
	SnapshotFlushInterval time.Duration
}

// Load reads .env (if present) and the environment, falling back to defaults.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", filepath.Join(".", "data"))

	return &Config{
		Port:          getEnvAsInt("PORT", 8080),
		Password:      getEnv("PASSWORD", "flyassay"),
		LogDirectory:  getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DataDirectory: dataDir,
		DatabasePath:  getEnv("DB_PATH", filepath.Join(dataDir, "flyassay.db")),

		CalibrationPath: getEnv("CALIBRATION_PATH", "Camera_calibration_matrices.json"),
		ROIPath:         getEnv("ROI_PATH", "FlyActivityAssay_ROIs.json"),

		CameraDevice: getEnvAsInt("CAMERA_DEVICE", 0),
		WarmupFrames: getEnvAsInt("WARMUP_FRAMES", 30),
		FPSCap:       getEnvAsFloat("FPS_CAP", 30),

		SerialPort:    getEnv("SERIAL_PORT", "/dev/ttyACM0"),
		BaudRate:      getEnvAsInt("BAUD_RATE", 115200),
		SerialTimeout: getEnvAsDuration("SERIAL_TIMEOUT", 50*time.Millisecond),
		SerialSettle:  getEnvAsDuration("SERIAL_SETTLE", time.Second),

		FFmpegBin: getEnv("FFMPEG_BIN", "ffmpeg"),

		ExperimentDuration: getEnvAsDuration("EXPT_DURATION", 300*time.Second),
		StimOnset:          getEnvAsDuration("STIM_ONSET", 120*time.Second),
		StimDuration:       getEnvAsDuration("STIM_DURATION", 60*time.Second),
		LEDFrequency:       getEnvAsFloat("LED_FREQUENCY", 5),
		LEDPulseWidth:      getEnvAsFloat("LED_PULSE_WIDTH", 5),
		WriteVideo:         getEnvAsBool("WRITE_VIDEO", true),
		WriteCSV:           getEnvAsBool("WRITE_CSV", true),
		UseArduino:         getEnvAsBool("USE_ARDUINO", true),

		QueueSize:             getEnvAsInt("QUEUE_SIZE", 2048),
		PlotWindow:            getEnvAsInt("PLOT_WINDOW", 100),
		SnapshotInterval:      getEnvAsDuration("SNAPSHOT_INTERVAL", 10*time.Second),
		SnapshotLimit:         getEnvAsInt("SNAPSHOT_LIMIT", 5),
		SnapshotFlushInterval: getEnvAsDuration("SNAPSHOT_FLUSH_INTERVAL", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}
