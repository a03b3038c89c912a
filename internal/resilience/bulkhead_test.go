package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quarrylabs/strata/internal/config"
)

func TestNewBulkhead(t *testing.T) {
	t.Run("creates with config values", func(t *testing.T) {
		cfg := config.BulkheadConfig{
			MaxConcurrent:  20,
			MaxQueue:       10,
			AcquireTimeout: 500 * time.Millisecond,
		}

		b := NewBulkhead("redis", cfg)

		if b.maxConcurrent != 20 {
			t.Errorf("maxConcurrent = %v, want 20", b.maxConcurrent)
		}
		if b.maxQueue != 10 {
			t.Errorf("maxQueue = %v, want 10", b.maxQueue)
		}
		if b.acquireTimeout != 500*time.Millisecond {
			t.Errorf("acquireTimeout = %v, want 500ms", b.acquireTimeout)
		}
	})

	t.Run("applies defaults for zero values", func(t *testing.T) {
		b := NewBulkhead("redis", config.BulkheadConfig{})

		if b.maxConcurrent != 100 {
			t.Errorf("maxConcurrent = %v, want 100", b.maxConcurrent)
		}
		if b.maxQueue != 50 {
			t.Errorf("maxQueue = %v, want 50", b.maxQueue)
		}
		if b.acquireTimeout != 100*time.Millisecond {
			t.Errorf("acquireTimeout = %v, want 100ms", b.acquireTimeout)
		}
	})
}

func TestBulkheadDo(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the function", func(t *testing.T) {
		b := NewBulkhead("redis", config.BulkheadConfig{MaxConcurrent: 10})

		var executed bool
		err := b.Do(ctx, func(ctx context.Context) error {
			executed = true
			return nil
		})

		if err != nil {
			t.Errorf("Do() error = %v, want nil", err)
		}
		if !executed {
			t.Error("function was not executed")
		}
	})

	t.Run("propagates function error", func(t *testing.T) {
		b := NewBulkhead("redis", config.BulkheadConfig{MaxConcurrent: 10})

		err := b.Do(ctx, func(ctx context.Context) error {
			return errBackend
		})

		if !errors.Is(err, errBackend) {
			t.Errorf("Do() error = %v, want errBackend", err)
		}
	})
}

// fillBulkhead occupies n slots with calls that block until the returned
// channel is closed.
func fillBulkhead(t *testing.T, b *Bulkhead, n int) chan struct{} {
	t.Helper()

	blocking := make(chan struct{})
	started := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			_ = b.Do(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-blocking
				return nil
			})
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}

	return blocking
}

func TestBulkheadConcurrencyLimit(t *testing.T) {
	t.Run("tracks active calls", func(t *testing.T) {
		cfg := config.BulkheadConfig{
			MaxConcurrent:  3,
			MaxQueue:       2,
			AcquireTimeout: 100 * time.Millisecond,
		}
		b := NewBulkhead("redis", cfg)

		blocking := fillBulkhead(t, b, 3)

		if active := b.ActiveCount(); active != 3 {
			t.Errorf("ActiveCount() = %v, want 3", active)
		}

		close(blocking)
	})

	t.Run("rejects when every slot is taken", func(t *testing.T) {
		cfg := config.BulkheadConfig{
			MaxConcurrent:  2,
			MaxQueue:       1,
			AcquireTimeout: 10 * time.Millisecond,
		}
		b := NewBulkhead("redis", cfg)

		blocking := fillBulkhead(t, b, 3)

		err := b.Do(context.Background(), func(ctx context.Context) error { return nil })

		close(blocking)

		if !IsBulkheadError(err) {
			t.Errorf("Do() error = %v, want a bulkhead rejection", err)
		}
	})
}

func TestBulkheadQueue(t *testing.T) {
	t.Run("queued calls run once a slot frees", func(t *testing.T) {
		cfg := config.BulkheadConfig{
			MaxConcurrent:  1,
			MaxQueue:       5,
			AcquireTimeout: 500 * time.Millisecond,
		}
		b := NewBulkhead("redis", cfg)

		release := fillBulkhead(t, b, 1)

		var completed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := b.Do(context.Background(), func(ctx context.Context) error {
					completed.Add(1)
					return nil
				})
				if err != nil {
					t.Errorf("queued call error = %v", err)
				}
			}()
		}

		time.Sleep(10 * time.Millisecond)
		close(release)
		wg.Wait()

		if c := completed.Load(); c != 3 {
			t.Errorf("completed = %v, want 3", c)
		}
	})

	t.Run("rejects with full error when the queue is full", func(t *testing.T) {
		cfg := config.BulkheadConfig{
			MaxConcurrent:  1,
			MaxQueue:       1,
			AcquireTimeout: 100 * time.Millisecond,
		}
		b := NewBulkhead("redis", cfg)

		blocking := fillBulkhead(t, b, 2)

		err := b.Do(context.Background(), func(ctx context.Context) error { return nil })

		close(blocking)

		if !IsBulkheadError(err) {
			t.Errorf("Do() error = %v, want a bulkhead rejection", err)
		}
	})
}

func TestBulkheadTimeout(t *testing.T) {
	cfg := config.BulkheadConfig{
		MaxConcurrent:  1,
		MaxQueue:       1,
		AcquireTimeout: 50 * time.Millisecond,
	}
	b := NewBulkhead("redis", cfg)

	blocking := fillBulkhead(t, b, 2)

	start := time.Now()
	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	elapsed := time.Since(start)

	close(blocking)

	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("Do() error = %v, want ErrBulkheadTimeout", err)
	}
	if elapsed < 40*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Errorf("elapsed = %v, expected ~50ms", elapsed)
	}
}

func TestBulkheadContextCancellation(t *testing.T) {
	cfg := config.BulkheadConfig{
		MaxConcurrent:  1,
		MaxQueue:       1,
		AcquireTimeout: 1 * time.Second,
	}
	b := NewBulkhead("redis", cfg)

	blocking := fillBulkhead(t, b, 2)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := b.Do(ctx, func(ctx context.Context) error { return nil })

	close(blocking)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestBulkheadStats(t *testing.T) {
	cfg := config.BulkheadConfig{
		MaxConcurrent:  5,
		MaxQueue:       3,
		AcquireTimeout: 10 * time.Millisecond,
	}
	b := NewBulkhead("redis", cfg)

	for i := 0; i < 10; i++ {
		_ = b.Do(context.Background(), func(ctx context.Context) error { return nil })
	}

	stats := b.Stats()
	if stats.Service != "redis" {
		t.Errorf("Service = %q, want redis", stats.Service)
	}
	if stats.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %v, want 5", stats.MaxConcurrent)
	}
	if stats.MaxQueue != 3 {
		t.Errorf("MaxQueue = %v, want 3", stats.MaxQueue)
	}
	if stats.TotalExecuted != 10 {
		t.Errorf("TotalExecuted = %v, want 10", stats.TotalExecuted)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %v, want 0", stats.Active)
	}
}

func TestBulkheadRejectedCount(t *testing.T) {
	cfg := config.BulkheadConfig{
		MaxConcurrent:  1,
		MaxQueue:       1,
		AcquireTimeout: 1 * time.Millisecond,
	}
	b := NewBulkhead("redis", cfg)

	blocking := fillBulkhead(t, b, 2)

	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), func(ctx context.Context) error { return nil })
	}

	close(blocking)

	if rejected := b.RejectedCount(); rejected < 1 {
		t.Errorf("RejectedCount() = %v, want >= 1", rejected)
	}
}

func TestDisabledBulkhead(t *testing.T) {
	b := NewDisabledBulkhead()

	t.Run("admits every call", func(t *testing.T) {
		var wg sync.WaitGroup
		var count atomic.Int32

		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := b.Do(context.Background(), func(ctx context.Context) error {
					count.Add(1)
					return nil
				})
				if err != nil {
					t.Errorf("Do() error = %v, want nil", err)
				}
			}()
		}
		wg.Wait()

		if c := count.Load(); c != 1000 {
			t.Errorf("count = %v, want 1000", c)
		}
	})

	t.Run("stats are zero", func(t *testing.T) {
		stats := b.Stats()
		if stats.Active != 0 || stats.Queued != 0 || stats.TotalRejected != 0 {
			t.Errorf("Stats() = %+v, want all zeros", stats)
		}
	})
}

func TestBulkheadConcurrency(t *testing.T) {
	cfg := config.BulkheadConfig{
		MaxConcurrent:  10,
		MaxQueue:       20,
		AcquireTimeout: 100 * time.Millisecond,
	}
	b := NewBulkhead("redis", cfg)

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Do(context.Background(), func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if s := successCount.Load(); s < 50 {
		t.Errorf("successCount = %v, want >= 50", s)
	}
}
