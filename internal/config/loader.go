package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns the global config path under the XDG config home.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "yakuza", "config.json")
}

// ProjectPath returns the project config path relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".yakuza", "config.json")
}

// LoadDefault loads configuration from conventional paths.
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), ProjectPath())
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Keys absent from the file keep their current value.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format)
	}
	if c.Retry.Enabled {
		if c.Retry.InitialInterval <= 0 {
			return fmt.Errorf("retry.initial_interval: must be positive")
		}
		if c.Retry.MaxInterval < c.Retry.InitialInterval {
			return fmt.Errorf("retry.max_interval: must not be below initial_interval")
		}
		if c.Retry.Multiplier < 1 {
			return fmt.Errorf("retry.multiplier: must be at least 1, got %v", c.Retry.Multiplier)
		}
		if c.Retry.RandomizationFactor < 0 || c.Retry.RandomizationFactor > 1 {
			return fmt.Errorf("retry.randomization_factor: must be within [0, 1], got %v", c.Retry.RandomizationFactor)
		}
	}
	if c.Breaker.Enabled && c.Breaker.ConsecutiveFailures == 0 {
		return fmt.Errorf("breaker.consecutive_failures: must be positive")
	}
	if c.Engine.EventBuffer < 0 {
		return fmt.Errorf("engine.event_buffer: must not be negative")
	}
	if c.Engine.MaxParallelJobs < 0 {
		return fmt.Errorf("engine.max_parallel_jobs: must not be negative")
	}
	return nil
}
