package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quarrylabs/strata/internal/config"
)

// recorderStub captures circuit breaker transitions for assertions.
type recorderStub struct {
	mu          sync.Mutex
	transitions []string
}

func (r *recorderStub) RecordHit(tier, key string, latency time.Duration)           {}
func (r *recorderStub) RecordMiss(tier, key string, latency time.Duration)          {}
func (r *recorderStub) RecordSet(tier, key string, size int, latency time.Duration) {}
func (r *recorderStub) RecordDelete(tier, key string, latency time.Duration)        {}
func (r *recorderStub) RecordError(tier, operation string, err error)               {}

func (r *recorderStub) RecordCircuitBreakerStateChange(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recorderStub) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

func TestRegistryBreaker(t *testing.T) {
	t.Run("creates one breaker per service", func(t *testing.T) {
		reg := NewRegistry(config.ForTesting(), nil, nil)

		redis := reg.Breaker("redis")
		if redis == nil {
			t.Fatal("Breaker() returned nil")
		}
		if again := reg.Breaker("redis"); again != redis {
			t.Error("second Breaker() call returned a different instance")
		}
		if other := reg.Breaker("datadog"); other == redis {
			t.Error("different services share a breaker")
		}
	})

	t.Run("first configuration wins", func(t *testing.T) {
		reg := NewRegistry(config.ForTesting(), nil, nil)

		first := reg.BreakerWith("redis", breakerConfig(2, 1, time.Hour))
		second := reg.BreakerWith("redis", breakerConfig(50, 10, time.Minute))

		if first != second {
			t.Fatal("BreakerWith() created a second instance for the same service")
		}

		// The original thresholds still apply: two failures open.
		ctx := context.Background()
		_ = first.Call(ctx, func(ctx context.Context) error { return errBackend })
		_ = first.Call(ctx, func(ctx context.Context) error { return errBackend })
		if first.State() != StateOpen {
			t.Errorf("state = %v, want open under the first config's threshold", first.State())
		}
	})

	t.Run("disabled config yields a pass-through breaker", func(t *testing.T) {
		cfg := config.ForTesting()
		cfg.CircuitBreaker.Enabled = false
		reg := NewRegistry(cfg, nil, nil)

		b := reg.Breaker("redis")
		if _, ok := b.(*DisabledBreaker); !ok {
			t.Fatalf("Breaker() = %T, want *DisabledBreaker", b)
		}
	})
}

func TestRegistryWiresStateChangeMetrics(t *testing.T) {
	recorder := &recorderStub{}
	reg := NewRegistry(config.ForTesting(), nil, recorder)

	ctx := context.Background()
	b := reg.BreakerWith("redis", breakerConfig(1, 1, time.Hour))
	_ = b.Call(ctx, func(ctx context.Context) error { return errBackend })

	got := recorder.Transitions()
	if len(got) != 1 || got[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", got)
	}
}

func TestRegistryRetry(t *testing.T) {
	t.Run("creates one executor per service", func(t *testing.T) {
		reg := NewRegistry(config.ForTesting(), nil, nil)

		redis := reg.Retry("redis")
		if again := reg.Retry("redis"); again != redis {
			t.Error("second Retry() call returned a different instance")
		}
	})

	t.Run("disabled config yields a single-attempt executor", func(t *testing.T) {
		cfg := config.ForTesting()
		cfg.Retry.Enabled = false
		reg := NewRegistry(cfg, nil, nil)

		var attempts int
		_ = reg.Retry("redis").Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errBackend
		})
		if attempts != 1 {
			t.Errorf("attempts = %v, want 1 with retries disabled", attempts)
		}
	})
}

func TestRegistryBulkhead(t *testing.T) {
	t.Run("disabled by default in test config", func(t *testing.T) {
		reg := NewRegistry(config.ForTesting(), nil, nil)

		bh := reg.Bulkhead("redis")
		if _, ok := bh.(*DisabledBulkhead); !ok {
			t.Fatalf("Bulkhead() = %T, want *DisabledBulkhead", bh)
		}
	})

	t.Run("enabled config yields a real bulkhead", func(t *testing.T) {
		cfg := config.ForTesting()
		cfg.Bulkhead.Enabled = true
		reg := NewRegistry(cfg, nil, nil)

		bh := reg.Bulkhead("redis")
		if _, ok := bh.(*Bulkhead); !ok {
			t.Fatalf("Bulkhead() = %T, want *Bulkhead", bh)
		}
		if again := reg.Bulkhead("redis"); again != bh {
			t.Error("second Bulkhead() call returned a different instance")
		}
	})
}

func TestRegistryBreakerStats(t *testing.T) {
	reg := NewRegistry(config.ForTesting(), nil, nil)

	ctx := context.Background()
	_ = reg.Breaker("redis").Call(ctx, func(ctx context.Context) error { return nil })
	_ = reg.Breaker("datadog").Call(ctx, func(ctx context.Context) error { return errBackend })

	stats := reg.BreakerStats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats["redis"].TotalSuccesses != 1 {
		t.Errorf("redis TotalSuccesses = %d, want 1", stats["redis"].TotalSuccesses)
	}
	if stats["datadog"].TotalFailures != 1 {
		t.Errorf("datadog TotalFailures = %d, want 1", stats["datadog"].TotalFailures)
	}
}
