package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/strata/internal/config"
)

// Bulkhead caps how many calls to a service may run at once. Up to
// MaxConcurrent calls execute immediately; up to MaxQueue more wait for
// a slot, at most AcquireTimeout each. Beyond that, calls are rejected
// so a slow dependency cannot pile up goroutines.
type Bulkhead struct {
	service        string
	maxConcurrent  int
	maxQueue       int
	acquireTimeout time.Duration
	semaphore      chan struct{}

	activeCount   atomic.Int32
	queuedCount   atomic.Int32
	rejectedCount atomic.Int64
	totalExecuted atomic.Int64
}

// NewBulkhead creates a bulkhead for the named service.
func NewBulkhead(service string, cfg config.BulkheadConfig) *Bulkhead {
	maxConcurrent := cfg.MaxConcurrent
	maxQueue := cfg.MaxQueue
	acquireTimeout := cfg.AcquireTimeout

	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	if maxQueue <= 0 {
		maxQueue = 50
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 100 * time.Millisecond
	}

	return &Bulkhead{
		service:        service,
		maxConcurrent:  maxConcurrent,
		maxQueue:       maxQueue,
		acquireTimeout: acquireTimeout,
		semaphore:      make(chan struct{}, maxConcurrent+maxQueue),
	}
}

// Do runs fn if a slot is available, queueing for up to the acquire
// timeout when all execution slots are taken. Returns ErrBulkheadFull
// when the queue itself is full and ErrBulkheadTimeout when a queued
// call gives up waiting.
func (b *Bulkhead) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	b.activeCount.Add(1)
	defer b.activeCount.Add(-1)

	err := fn(ctx)
	b.totalExecuted.Add(1)

	return err
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	// Fast path: a slot is free right now.
	select {
	case b.semaphore <- struct{}{}:
		return nil
	default:
	}

	if int(b.queuedCount.Load()) >= b.maxQueue {
		b.rejectedCount.Add(1)
		return ErrBulkheadFull
	}

	b.queuedCount.Add(1)
	defer b.queuedCount.Add(-1)

	timeoutCtx, cancel := context.WithTimeout(ctx, b.acquireTimeout)
	defer cancel()

	select {
	case b.semaphore <- struct{}{}:
		return nil
	case <-timeoutCtx.Done():
		b.rejectedCount.Add(1)
		// The caller's own cancellation takes precedence over our timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBulkheadTimeout
	}
}

func (b *Bulkhead) release() {
	<-b.semaphore
}

// ActiveCount returns the number of calls currently executing.
func (b *Bulkhead) ActiveCount() int {
	return int(b.activeCount.Load())
}

// QueuedCount returns the number of calls waiting for a slot.
func (b *Bulkhead) QueuedCount() int {
	return int(b.queuedCount.Load())
}

// RejectedCount returns the number of calls rejected so far.
func (b *Bulkhead) RejectedCount() int64 {
	return b.rejectedCount.Load()
}

// TotalExecuted returns the number of calls that ran to completion.
func (b *Bulkhead) TotalExecuted() int64 {
	return b.totalExecuted.Load()
}

// AvailableSlots returns the number of free slots, queue included.
func (b *Bulkhead) AvailableSlots() int {
	return (b.maxConcurrent + b.maxQueue) - len(b.semaphore)
}

// Stats returns a JSON-ready bulkhead snapshot.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		Service:       b.service,
		MaxConcurrent: b.maxConcurrent,
		MaxQueue:      b.maxQueue,
		Active:        int(b.activeCount.Load()),
		Queued:        int(b.queuedCount.Load()),
		Available:     b.AvailableSlots(),
		TotalExecuted: b.totalExecuted.Load(),
		TotalRejected: b.rejectedCount.Load(),
	}
}

// BulkheadStats is a point-in-time bulkhead snapshot.
type BulkheadStats struct {
	Service       string `json:"service"`
	MaxConcurrent int    `json:"maxConcurrent"`
	MaxQueue      int    `json:"maxQueue"`
	Active        int    `json:"active"`
	Queued        int    `json:"queued"`
	Available     int    `json:"available"`
	TotalExecuted int64  `json:"totalExecuted"`
	TotalRejected int64  `json:"totalRejected"`
}

// DisabledBulkhead is a no-op bulkhead that admits every call.
type DisabledBulkhead struct{}

// NewDisabledBulkhead creates a bulkhead that never rejects.
func NewDisabledBulkhead() *DisabledBulkhead {
	return &DisabledBulkhead{}
}

// Do runs fn without concurrency limits.
func (b *DisabledBulkhead) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (b *DisabledBulkhead) ActiveCount() int     { return 0 }
func (b *DisabledBulkhead) QueuedCount() int     { return 0 }
func (b *DisabledBulkhead) RejectedCount() int64 { return 0 }
func (b *DisabledBulkhead) TotalExecuted() int64 { return 0 }
func (b *DisabledBulkhead) AvailableSlots() int  { return 1000000 }
func (b *DisabledBulkhead) Stats() BulkheadStats { return BulkheadStats{} }
