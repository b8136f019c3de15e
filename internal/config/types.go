package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as "250ms" style strings.
// Plain numbers are read as nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`  // zerolog level name: "debug", "info", "warn", "error"
	Format string `json:"format"` // "console" or "json"
}

// RetryConfig configures the backoff between task retries.
type RetryConfig struct {
	Enabled             bool     `json:"enabled"`
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// BreakerConfig configures per-agent circuit breakers.
type BreakerConfig struct {
	Enabled             bool     `json:"enabled"`
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout"`
	HalfOpenRequests    uint32   `json:"half_open_requests"`
}

// StoreConfig configures the SQLite run journal.
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // Defaults to the XDG data home
}

// EngineConfig holds job engine settings.
type EngineConfig struct {
	EventBuffer              int  `json:"event_buffer"`      // Per-subscriber event channel size
	MaxParallelJobs          int  `json:"max_parallel_jobs"` // 0 means no cap
	AllowSkippedDependencies bool `json:"allow_skipped_dependencies"`
}

// Config is the top-level configuration.
type Config struct {
	Log     LogConfig     `json:"log"`
	Retry   RetryConfig   `json:"retry"`
	Breaker BreakerConfig `json:"breaker"`
	Store   StoreConfig   `json:"store"`
	Engine  EngineConfig  `json:"engine"`
}
