package resilience

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

// Breaker is the circuit breaker surface the registry hands out. Both
// CircuitBreaker and DisabledBreaker satisfy it.
type Breaker interface {
	Call(ctx context.Context, fn func(context.Context) error) error
	State() State
	IsOpen() bool
	Reset()
	Stats() BreakerStats
}

// Retrier re-runs failed operations.
type Retrier interface {
	Do(ctx context.Context, fn func(context.Context) error) error
	Stats() RetryStats
}

// Limiter caps concurrent calls.
type Limiter interface {
	Do(ctx context.Context, fn func(context.Context) error) error
	Stats() BulkheadStats
}

// Registry hands out per-service breakers, retry executors, and
// bulkheads, creating each lazily on first use. The first caller's
// configuration wins; later requests for the same service share the
// instance. Instances live for the registry's lifetime and are never
// destroyed, so breaker state survives between calls.
type Registry struct {
	breakerCfg  config.CircuitBreakerConfig
	retryCfg    config.RetryConfig
	bulkheadCfg config.BulkheadConfig
	logger      *slog.Logger
	metrics     types.MetricsRecorder

	mu        sync.Mutex
	breakers  map[string]Breaker
	retriers  map[string]Retrier
	bulkheads map[string]Limiter
}

// NewRegistry creates a registry whose per-service instances default to
// the given configuration. metrics may be nil.
func NewRegistry(cfg *config.Config, logger *slog.Logger, metrics types.MetricsRecorder) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		breakerCfg:  cfg.CircuitBreaker,
		retryCfg:    cfg.Retry,
		bulkheadCfg: cfg.Bulkhead,
		logger:      logger.With("component", "resilience"),
		metrics:     metrics,
	}
}

// Breaker returns the circuit breaker for the named service, creating
// it with the registry's default configuration on first use.
func (r *Registry) Breaker(service string) Breaker {
	return r.BreakerWith(service, r.breakerCfg)
}

// BreakerWith is like Breaker but creates with the given configuration.
// If the service already has a breaker, the existing one is returned and
// cfg is ignored.
func (r *Registry) BreakerWith(service string, cfg config.CircuitBreakerConfig) Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.breakers == nil {
		r.breakers = make(map[string]Breaker)
	}
	if b, ok := r.breakers[service]; ok {
		return b
	}

	var b Breaker
	if cfg.Enabled {
		cb := NewCircuitBreaker(service, cfg)
		cb.SetOnStateChange(r.stateChangeHook(service))
		b = cb
	} else {
		b = NewDisabledBreaker()
	}

	r.breakers[service] = b
	return b
}

// stateChangeHook builds the transition callback wired into every
// breaker the registry creates: a log line plus a metrics event.
func (r *Registry) stateChangeHook(service string) func(from, to State) {
	return func(from, to State) {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		r.logger.Log(context.Background(), level, "circuit breaker state changed",
			"service", service,
			"from", from.String(),
			"to", to.String())

		if r.metrics != nil {
			r.metrics.RecordCircuitBreakerStateChange(from.String(), to.String())
		}
	}
}

// Retry returns the retry executor for the named service, creating it
// with the registry's default configuration on first use.
func (r *Registry) Retry(service string) Retrier {
	return r.RetryWith(service, r.retryCfg)
}

// RetryWith is like Retry but creates with the given configuration. An
// existing executor for the service wins over cfg.
func (r *Registry) RetryWith(service string, cfg config.RetryConfig) Retrier {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retriers == nil {
		r.retriers = make(map[string]Retrier)
	}
	if re, ok := r.retriers[service]; ok {
		return re
	}

	var re Retrier
	if cfg.Enabled {
		re = NewRetryExecutor(service, cfg, r.logger)
	} else {
		re = NewDisabledRetry()
	}

	r.retriers[service] = re
	return re
}

// Bulkhead returns the concurrency limiter for the named service,
// creating it with the registry's default configuration on first use.
func (r *Registry) Bulkhead(service string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bulkheads == nil {
		r.bulkheads = make(map[string]Limiter)
	}
	if bh, ok := r.bulkheads[service]; ok {
		return bh
	}

	var bh Limiter
	if r.bulkheadCfg.Enabled {
		bh = NewBulkhead(service, r.bulkheadCfg)
	} else {
		bh = NewDisabledBulkhead()
	}

	r.bulkheads[service] = bh
	return bh
}

// BreakerStats returns a snapshot of every breaker created so far,
// keyed by service name.
func (r *Registry) BreakerStats() map[string]BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]BreakerStats, len(r.breakers))
	for service, b := range r.breakers {
		stats[service] = b.Stats()
	}
	return stats
}
