package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/yakuza/internal/definition"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         40 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
	delay := cfg.Backoff()
	ref := definition.Ref("a", "t")

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{6, 40 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := delay(ref, tt.attempt); got != tt.want {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	cfg := DefaultRetryConfig()
	delay := cfg.Backoff()

	for i := 0; i < 20; i++ {
		got := delay(definition.Ref("a", "t"), 1)
		lo := time.Duration(float64(cfg.InitialInterval) * (1 - cfg.RandomizationFactor))
		hi := time.Duration(float64(cfg.InitialInterval) * (1 + cfg.RandomizationFactor))
		if got < lo || got > hi {
			t.Fatalf("delay %v outside [%v, %v]", got, lo, hi)
		}
	}
}

type countingWork struct {
	calls atomic.Int32
	err   error
}

func (w *countingWork) Execute(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	return "ok", nil
}

func TestBreakerRegistry_SameNameSameBreaker(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(), zerolog.Nop())
	if reg.Get("s/a") != reg.Get("s/a") {
		t.Error("expected the same breaker for the same name")
	}
	if reg.Get("s/a") == reg.Get("s/b") {
		t.Error("expected distinct breakers for distinct names")
	}
}

func TestBreakerRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
	}, zerolog.Nop())

	work := &countingWork{err: fmt.Errorf("site down")}
	wrapped := reg.Wrap("s/list", work)

	for i := 0; i < 3; i++ {
		if _, err := wrapped.Execute(context.Background(), nil, nil); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}

	_, err := wrapped.Execute(context.Background(), nil, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState once tripped, got %v", err)
	}
	if got := work.calls.Load(); got != 3 {
		t.Errorf("work calls = %d, want 3 (open breaker must not call work)", got)
	}
}

func TestBreakerRegistry_CancellationDoesNotTrip(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute, HalfOpenRequests: 1}, zerolog.Nop())
	work := &countingWork{err: context.Canceled}
	wrapped := reg.Wrap("s/a", work)

	for i := 0; i < 3; i++ {
		_, err := wrapped.Execute(context.Background(), nil, nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i+1, err)
		}
	}
	if got := reg.Get("s/a").State(); got != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", got)
	}
}

func TestBreakerRegistry_TaskTimeoutTrips(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}, zerolog.Nop())
	work := &countingWork{err: fmt.Errorf("fetching page: %w", context.DeadlineExceeded)}
	wrapped := reg.Wrap("s/slow", work)

	for i := 0; i < 2; i++ {
		if _, err := wrapped.Execute(context.Background(), nil, nil); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: expected deadline exceeded, got %v", i+1, err)
		}
	}

	if _, err := wrapped.Execute(context.Background(), nil, nil); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState after repeated timeouts, got %v", err)
	}
	if got := work.calls.Load(); got != 2 {
		t.Errorf("work calls = %d, want 2", got)
	}
}

func TestBreakerRegistry_PassesResult(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(), zerolog.Nop())
	wrapped := reg.Wrap("s/a", &countingWork{})

	got, err := wrapped.Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %v, want ok", got)
	}
}
