package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/stratum/pkg/autosave"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/undo"
	"gopkg.in/yaml.v3"
)

// Config holds engine configuration
type Config struct {
	// DataDir holds stratum.db and provenance.sqlite
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
	JSONLogs bool   `yaml:"json_logs"`

	// User is recorded on every provenance step
	User string `yaml:"user"`

	UndoMaxItems int   `yaml:"undo_max_items"`
	UndoMaxBytes int64 `yaml:"undo_max_bytes"`

	// HTTPAddr enables the automation and metrics server when set
	HTTPAddr          string        `yaml:"http_addr"`
	CollectorInterval time.Duration `yaml:"collector_interval"`

	// Persist saves the live project and undo buffer on shutdown and
	// restores them on start
	Persist bool `yaml:"persist"`

	// AutosaveInterval saves a changed project periodically. Zero disables
	// autosave; the project is still saved on shutdown.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	user := os.Getenv("USER")
	if user == "" {
		user = "stratum"
	}
	return Config{
		DataDir:           "./stratum-data",
		LogLevel:          string(log.InfoLevel),
		User:              user,
		UndoMaxItems:      undo.DefaultMaxItems,
		UndoMaxBytes:      1 << 30,
		CollectorInterval: metrics.DefaultInterval,
		Persist:           true,
		AutosaveInterval:  autosave.DefaultInterval,
	}
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.UndoMaxItems < 0 {
		return fmt.Errorf("undo_max_items must not be negative")
	}
	if c.UndoMaxBytes < 0 {
		return fmt.Errorf("undo_max_bytes must not be negative")
	}
	if c.CollectorInterval < 0 {
		return fmt.Errorf("collector_interval must not be negative")
	}
	if c.AutosaveInterval < 0 {
		return fmt.Errorf("autosave_interval must not be negative")
	}
	return nil
}

// LogConfig returns the logger settings of c
func (c Config) LogConfig() log.Config {
	level, _ := log.ParseLevel(c.LogLevel)
	return log.Config{
		Level:      level,
		JSONOutput: c.JSONLogs,
	}
}
