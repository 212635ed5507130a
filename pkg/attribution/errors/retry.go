package errors

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how source reads are retried.
type RetryConfig struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. Each later wait
	// is BackoffFactor times the previous one, capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// AttemptTimeout bounds a single attempt. An attempt that runs out of
	// time fails with a *TimeoutError, which is retried. Zero means no bound.
	AttemptTimeout time.Duration
}

// DefaultRetry is used for source reads unless configured otherwise.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes a single attempt.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the number of attempts, including the first.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the wait before the second attempt.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the wait between attempts.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithBackoffFactor sets the growth of the wait between attempts.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffFactor = f }
}

// WithJitter sets the random spread applied to each wait.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithAttemptTimeout bounds each attempt.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.AttemptTimeout = d }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// delay returns the wait after the given failed attempt (1-based).
func (cfg RetryConfig) delay(attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(cfg.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns an error that is not retryable, or
// MaxAttempts is reached. It returns the last value, the number of attempts
// made, and on failure a *CategorizedError naming op.
func Do[T any](ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, &CategorizedError{Err: err, Category: CategoryPermanent, Retries: attempt - 1, Context: op}
		}

		value, err := runAttempt(ctx, cfg.AttemptTimeout, op, fn)
		if err == nil {
			return value, attempt, nil
		}
		if attempt == attempts || !IsRetryable(err) {
			return zero, attempt, &CategorizedError{Err: err, Category: Categorize(err), Retries: attempt, Context: op}
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Retries: attempt, Context: op}
		case <-timer.C:
		}
	}
}

// runAttempt makes one call, turning an expired attempt deadline into a
// *TimeoutError while the parent context is still live.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return value, &TimeoutError{Operation: op, Duration: timeout, Err: err}
	}
	return value, err
}
