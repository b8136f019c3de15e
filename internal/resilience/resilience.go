package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/yakuza/internal/definition"
)

// RetryConfig configures exponential backoff between task retries.
type RetryConfig struct {
	InitialInterval     time.Duration // Delay before the first retry (default 100ms)
	MaxInterval         time.Duration // Maximum delay (default 10s)
	Multiplier          float64       // Growth factor (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BackoffFunc returns how long a task waits before the given retry attempt.
type BackoffFunc func(ref definition.TaskRef, attempt int) time.Duration

// Backoff returns a BackoffFunc computing exponential delays.
// attempt is the attempt about to run, so the first retry is attempt 1.
func (c RetryConfig) Backoff() BackoffFunc {
	return func(ref definition.TaskRef, attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.InitialInterval
		policy.MaxInterval = c.MaxInterval
		policy.Multiplier = c.Multiplier
		policy.RandomizationFactor = c.RandomizationFactor
		policy.MaxElapsedTime = 0 // attempts are bounded by the task's MaxRetries
		policy.Reset()

		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = policy.NextBackOff()
		}
		if delay == backoff.Stop {
			return c.MaxInterval
		}
		return delay
	}
}

// BreakerConfig configures per-agent circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Trip after this many consecutive failures (default 5)
	OpenTimeout         time.Duration // Stay open this long before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// BreakerRegistry manages circuit breakers keyed by scraper/agent.
// One registry can be shared by many jobs so that an agent hammering a
// failing site trips across runs.
type BreakerRegistry struct {
	cfg      BreakerConfig
	log      zerolog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(cfg BreakerConfig, log zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Job cancellation is not the agent's fault; a task timeout is
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})

	r.breakers[name] = cb
	return cb
}

// Wrap returns an Executable that runs work through the named breaker.
// While the breaker is open, executions fail fast with gobreaker.ErrOpenState.
func (r *BreakerRegistry) Wrap(name string, work definition.Executable) definition.Executable {
	cb := r.Get(name)
	return definition.ExecFunc(func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return cb.Execute(func() (interface{}, error) {
			return work.Execute(ctx, params, deps)
		})
	})
}
