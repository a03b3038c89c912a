package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/strata/internal/config"
)

// BackoffStrategy controls how the delay between retry attempts grows.
type BackoffStrategy int

const (
	// BackoffNone retries immediately with no delay.
	BackoffNone BackoffStrategy = iota
	// BackoffFixed waits the base delay between every attempt.
	BackoffFixed
	// BackoffLinear waits base delay times the attempt number.
	BackoffLinear
	// BackoffExponential waits base delay times multiplier^(attempt-1).
	BackoffExponential
)

func (s BackoffStrategy) String() string {
	switch s {
	case BackoffNone:
		return "none"
	case BackoffFixed:
		return "fixed"
	case BackoffLinear:
		return "linear"
	case BackoffExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseBackoffStrategy maps a configuration string to a strategy. The
// empty string means exponential, the documented default.
func ParseBackoffStrategy(name string) (BackoffStrategy, error) {
	switch name {
	case "none":
		return BackoffNone, nil
	case "fixed":
		return BackoffFixed, nil
	case "linear":
		return BackoffLinear, nil
	case "", "exponential":
		return BackoffExponential, nil
	default:
		return BackoffExponential, fmt.Errorf("unknown backoff strategy %q (want none, fixed, linear, or exponential)", name)
	}
}

// RetryExecutor re-runs failed operations with configurable backoff.
// Every error is retried; fail-fast errors from an open circuit breaker
// included, since those attempts cost nothing.
type RetryExecutor struct {
	service     string
	maxAttempts int
	strategy    BackoffStrategy
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	jitter      bool
	logger      *slog.Logger

	totalCalls   atomic.Int64
	totalRetries atomic.Int64
	recoveries   atomic.Int64
}

// NewRetryExecutor creates a retry executor for the named service.
// An unparseable strategy falls back to exponential; the config loader
// rejects it earlier with a useful message.
func NewRetryExecutor(service string, cfg config.RetryConfig, logger *slog.Logger) *RetryExecutor {
	if logger == nil {
		logger = slog.Default()
	}

	strategy, _ := ParseBackoffStrategy(cfg.Strategy)

	r := &RetryExecutor{
		service:     service,
		maxAttempts: cfg.MaxAttempts,
		strategy:    strategy,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		multiplier:  cfg.Multiplier,
		jitter:      cfg.Jitter,
		logger:      logger.With("component", "retry", "service", service),
	}

	if r.maxAttempts <= 0 {
		r.maxAttempts = 3
	}
	if r.baseDelay <= 0 {
		r.baseDelay = 100 * time.Millisecond
	}
	if r.maxDelay <= 0 {
		r.maxDelay = 30 * time.Second
	}
	if r.multiplier <= 1 {
		r.multiplier = 2.0
	}

	return r
}

// Do runs fn up to MaxAttempts times, sleeping between attempts per the
// backoff strategy. There is no sleep after the final attempt: the last
// error comes back immediately, unwrapped, so callers can match it with
// errors.Is exactly as fn returned it.
//
// Context cancellation is honored both before each attempt and during
// backoff sleeps, returning ctx.Err().
func (r *RetryExecutor) Do(ctx context.Context, fn func(context.Context) error) error {
	r.totalCalls.Add(1)

	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.recoveries.Add(1)
				r.logger.Info("operation recovered after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		r.totalRetries.Add(1)
		delay := r.delayFor(attempt)
		r.logger.Debug("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"delay", delay,
			"error", err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

// delayFor computes the backoff before the next attempt, given the
// 1-based attempt that just failed. The cap applies before jitter, so a
// jittered delay can exceed MaxDelay by at most 10%.
func (r *RetryExecutor) delayFor(attempt int) time.Duration {
	var delay float64

	switch r.strategy {
	case BackoffNone:
		return 0
	case BackoffFixed:
		delay = float64(r.baseDelay)
	case BackoffLinear:
		delay = float64(r.baseDelay) * float64(attempt)
	default:
		delay = float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt-1))
	}

	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	if r.jitter {
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}

// Stats returns cumulative retry counters.
func (r *RetryExecutor) Stats() RetryStats {
	return RetryStats{
		Service:      r.service,
		TotalCalls:   r.totalCalls.Load(),
		TotalRetries: r.totalRetries.Load(),
		Recoveries:   r.recoveries.Load(),
	}
}

// RetryStats is a point-in-time retry snapshot.
type RetryStats struct {
	Service      string `json:"service"`
	TotalCalls   int64  `json:"totalCalls"`
	TotalRetries int64  `json:"totalRetries"`
	Recoveries   int64  `json:"recoveries"`
}

// DisabledRetry runs operations exactly once.
type DisabledRetry struct{}

// NewDisabledRetry creates a retry executor that never retries.
func NewDisabledRetry() *DisabledRetry {
	return &DisabledRetry{}
}

// Do runs fn a single time.
func (r *DisabledRetry) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Stats returns zeroed counters.
func (r *DisabledRetry) Stats() RetryStats {
	return RetryStats{}
}
