// Package config loads the YAML configuration of the batch CLI. The
// estimation core takes plain parameters; this layer only exists so the
// CLI caller has one declarative place for inputs and model settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input struct {
		// CSV is the path of a timestamp,log-return file.
		CSV string `yaml:"csv"`
	} `yaml:"input"`
	Model struct {
		ThresholdQuantile float64 `yaml:"threshold_quantile"`
		Confidence        float64 `yaml:"confidence"`
		MinObservations   int     `yaml:"min_observations"`
		MaxIterations     int     `yaml:"max_iterations"`
	} `yaml:"model"`
	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var c Config
	c.Model.ThresholdQuantile = 0.95
	c.Model.Confidence = 0.99
	c.Model.MinObservations = 250
	c.Model.MaxIterations = 1000
	c.Logging.Level = "info"
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks parameter ranges before anything reaches the core.
func (c *Config) Validate() error {
	if q := c.Model.ThresholdQuantile; !(q > 0 && q < 1) {
		return fmt.Errorf("model.threshold_quantile %v outside (0,1)", q)
	}
	if conf := c.Model.Confidence; !(conf > 0 && conf < 1) {
		return fmt.Errorf("model.confidence %v outside (0,1)", conf)
	}
	if c.Model.MinObservations < 0 {
		return fmt.Errorf("model.min_observations must not be negative")
	}
	if c.Model.MaxIterations < 0 {
		return fmt.Errorf("model.max_iterations must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
