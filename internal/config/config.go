// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/fogfactory/sidecar/internal/logging"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "SIDECAR"

// Config holds all application configuration. Variables are named SIDECAR_<GROUP>_<KEY>,
// for instance SIDECAR_LOG_LEVEL.
type Config struct {
	Logging LogConfig     `envconfig:"LOG"`
	Metrics MetricsConfig `envconfig:"METRICS"`
	Status  StatusConfig  `envconfig:"STATUS"`
	Stream  StreamConfig  `envconfig:"STREAM"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string   `envconfig:"LEVEL" default:"info"`
	Development bool     `envconfig:"DEV" default:"false"`
	Outputs     []string `envconfig:"OUTPUTS" default:"stdout"`
	Rotate      bool     `envconfig:"ROTATE" default:"false"`
	MaxSizeMB   int      `envconfig:"MAX_SIZE_MB" default:"100"`
	MaxBackups  int      `envconfig:"MAX_BACKUPS" default:"5"`
	MaxAgeDays  int      `envconfig:"MAX_AGE_DAYS" default:"7"`
}

// MetricsConfig holds the prometheus endpoint configuration.
type MetricsConfig struct {
	Address string `envconfig:"ADDR" default:":9090"`
	Enabled bool   `envconfig:"ENABLED" default:"true"`
}

// StatusConfig holds status reporting configuration.
type StatusConfig struct {
	Interval time.Duration `envconfig:"INTERVAL" default:"5s"`
}

// StreamConfig locates the stream to run.
type StreamConfig struct {
	File string `envconfig:"FILE" default:"stream.yaml"`
	// Input is a file of framed messages injected once the stream runs.
	Input        string `envconfig:"INPUT"`
	State        string `envconfig:"STATE" default:"Run"`
	Record       bool   `envconfig:"RECORD" default:"false"`
	RecordingDir string `envconfig:"RECORDING_DIR" default:"."`
	TimerSecs    int    `envconfig:"ALARM_SECS" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:      "info",
			Outputs:    []string{"stdout"},
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Enabled: true,
		},
		Status: StatusConfig{
			Interval: 5 * time.Second,
		},
		Stream: StreamConfig{
			File:         "stream.yaml",
			State:        "Run",
			RecordingDir: ".",
		},
	}
}

// LoggingConfig converts the environment settings into a logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:       c.Logging.Level,
		Development: c.Logging.Development,
		OutputPaths: c.Logging.Outputs,
		Rotation: logging.RotationConfig{
			Enabled:    c.Logging.Rotate,
			MaxSizeMB:  c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
			MaxAgeDays: c.Logging.MaxAgeDays,
		},
	}
}
