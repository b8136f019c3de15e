package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/resilience"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	retry := resilience.DefaultRetryConfig()
	breaker := resilience.DefaultBreakerConfig()

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Retry: RetryConfig{
			Enabled:             true,
			InitialInterval:     Duration(retry.InitialInterval),
			MaxInterval:         Duration(retry.MaxInterval),
			Multiplier:          retry.Multiplier,
			RandomizationFactor: retry.RandomizationFactor,
		},
		Breaker: BreakerConfig{
			Enabled:             false,
			ConsecutiveFailures: breaker.ConsecutiveFailures,
			OpenTimeout:         Duration(breaker.OpenTimeout),
			HalfOpenRequests:    breaker.HalfOpenRequests,
		},
		Store: StoreConfig{
			Enabled: false,
		},
		Engine: EngineConfig{
			EventBuffer: events.DefaultBufferSize,
		},
	}
}

// Policy converts the section into the resilience retry configuration.
func (c RetryConfig) Policy() resilience.RetryConfig {
	return resilience.RetryConfig{
		InitialInterval:     time.Duration(c.InitialInterval),
		MaxInterval:         time.Duration(c.MaxInterval),
		Multiplier:          c.Multiplier,
		RandomizationFactor: c.RandomizationFactor,
	}
}

// Policy converts the section into the resilience breaker configuration.
func (c BreakerConfig) Policy() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		ConsecutiveFailures: c.ConsecutiveFailures,
		OpenTimeout:         time.Duration(c.OpenTimeout),
		HalfOpenRequests:    c.HalfOpenRequests,
	}
}

// StorePath returns the journal path, falling back to the XDG data home.
func (c StoreConfig) StorePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(xdg.DataHome, "yakuza", "journal.db")
}
