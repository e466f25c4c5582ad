// Package config provides configuration loading and management for sightline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/abelbrown/sightline/internal/classify"
	"github.com/abelbrown/sightline/internal/coord"
	"github.com/abelbrown/sightline/internal/correlation"
	"github.com/abelbrown/sightline/internal/priority"
)

// Config is the complete sightline configuration
type Config struct {
	// DB is the SQLite database path (":memory:" for an ephemeral store)
	DB string `yaml:"db"`
	// Catalog is an optional countermeasure catalog YAML file. Empty uses
	// the built-in catalog.
	Catalog string `yaml:"catalog,omitempty"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	Correlation correlation.Config `yaml:"correlation"`
	Classify    classify.Config    `yaml:"classify"`
	Priority    priority.Config    `yaml:"priority"`
	Scheduler   coord.Config       `yaml:"scheduler"`
}

// LogConfig configures the human log and the JSONL event log
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Dir receives dated log files (empty = stderr)
	Dir string `yaml:"dir,omitempty"`
	// Events is the JSONL event log path (empty = disabled)
	Events string `yaml:"events,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DB: DefaultDBPath(),
		Log: LogConfig{
			Level:  "info",
			Events: filepath.Join(dataDir(), "events.jsonl"),
		},
		Correlation: correlation.DefaultConfig(),
		Classify:    classify.DefaultConfig(),
		Priority:    priority.DefaultConfig(),
		Scheduler:   coord.DefaultConfig(),
	}
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sightline"
	}
	return filepath.Join(home, ".sightline")
}

// DefaultDBPath returns ~/.sightline/sightline.db
func DefaultDBPath() string {
	return filepath.Join(dataDir(), "sightline.db")
}

// ConfigPath returns the path to the default config file
func ConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	for name, err := range map[string]error{
		"correlation": c.Correlation.Validate(),
		"classify":    c.Classify.Validate(),
		"priority":    c.Priority.Validate(),
		"scheduler":   c.Scheduler.Validate(),
	} {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the config at ConfigPath, or returns defaults when none exists.
// Environment overrides apply in both cases.
func Load() (*Config, error) {
	cfg, err := LoadFromFile(ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
	} else if err != nil {
		return nil, err
	}
	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// AutoPopulateFromEnv applies SIGHTLINE_* environment overrides
func (c *Config) AutoPopulateFromEnv() {
	if v := os.Getenv("SIGHTLINE_DB"); v != "" {
		c.DB = v
	}
	if v := os.Getenv("SIGHTLINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SIGHTLINE_CATALOG"); v != "" {
		c.Catalog = v
	}
	if v := os.Getenv("SIGHTLINE_EVENTS"); v != "" {
		c.Log.Events = v
	}
	if v := os.Getenv("SIGHTLINE_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}
