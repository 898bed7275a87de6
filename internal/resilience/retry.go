// Package resilience retries flaky acquisition calls with capped exponential
// backoff and jitter.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff describes how often and how patiently a call is retried.
type Backoff struct {
	// Attempts is the total number of calls, including the first.
	Attempts int `mapstructure:"attempts"`
	// Initial is the delay before the first retry.
	Initial time.Duration `mapstructure:"initial"`
	// Max caps any single delay.
	Max time.Duration `mapstructure:"max"`
	// Factor grows the delay after each retry.
	Factor float64 `mapstructure:"factor"`
	// Jitter randomises each delay by up to ±Jitter of itself.
	Jitter float64 `mapstructure:"jitter"`

	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool `mapstructure:"-"`
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error) `mapstructure:"-"`
}

// DefaultBackoff suits public map APIs: a few patient retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 4,
		Initial:  2 * time.Second,
		Max:      time.Minute,
		Factor:   2,
		Jitter:   0.2,
	}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	b.Jitter = math.Min(math.Max(b.Jitter, 0), 1)
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// Delay returns the sleep before retry n (0-based), jitter included.
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalized()
	d := math.Min(float64(b.Initial)*math.Pow(b.Factor, float64(n)), float64(b.Max))
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx ends. The last error is returned.
func Do(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that produce a value.
func DoVal[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || attempt >= b.Attempts || !b.Retryable(err) {
			return zero, err
		}

		delay := b.Delay(attempt - 1)
		if b.OnRetry != nil {
			b.OnRetry(attempt, delay, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}

// LogRetries returns an OnRetry hook that logs through the global logger.
func LogRetries(source string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
