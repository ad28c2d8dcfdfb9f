package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/vecrot"
)

// Config is the driver configuration. Fields map to keys of the YAML
// config file; command-line flags override them.
type Config struct {
	// Backend selects the device: "native", "software", or empty for
	// the best available.
	Backend string `yaml:"backend"`

	// Elements is the number of vectors rotated each tick.
	Elements uint32 `yaml:"elements"`

	// AngleStep is the rotation per tick in degrees.
	AngleStep float32 `yaml:"angle_step"`

	// Ticks is the number of ticks to run. 0 runs until interrupted.
	Ticks int `yaml:"ticks"`

	// Interval is the time between ticks. 0 runs unpaced.
	Interval time.Duration `yaml:"interval"`

	// ReadbackEvery copies the vectors back every n ticks. 0 disables
	// readback.
	ReadbackEvery int `yaml:"readback_every"`

	// Seed seeds the initial vector directions.
	Seed uint64 `yaml:"seed"`

	// MetricsAddr serves Prometheus metrics on /metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Progress shows a progress bar when Ticks is set.
	Progress bool `yaml:"progress"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Elements:      144,
		AngleStep:     2,
		Ticks:         600,
		Interval:      time.Second / 60,
		ReadbackEvery: 60,
		Seed:          1,
		LogLevel:      "info",
	}
}

// maxConfigSize bounds the config file read.
const maxConfigSize = 1 << 20

// LoadConfig reads a YAML config file on top of DefaultConfig. Unknown
// keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	info, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if info.Size() > maxConfigSize {
		return cfg, fmt.Errorf("config: %s is %d bytes, limit %d", path, info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the driver cannot run.
func (c Config) Validate() error {
	var errs []error
	if c.Elements == 0 || c.Elements > vecrot.MaxCapacity {
		errs = append(errs, fmt.Errorf("elements must be in [1, %d], got %d", vecrot.MaxCapacity, c.Elements))
	}
	if c.Ticks < 0 {
		errs = append(errs, fmt.Errorf("ticks must not be negative, got %d", c.Ticks))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", c.Interval))
	}
	if c.ReadbackEvery < 0 {
		errs = append(errs, fmt.Errorf("readback_every must not be negative, got %d", c.ReadbackEvery))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
