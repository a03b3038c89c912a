// Package metrics collects cache operation counters and latency
// percentiles, and publishes them to an external backend.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

const defaultLatencyBufferSize = 10000

// Tracker is the in-process metrics recorder. Counters are atomics and
// latencies land in a fixed-size ring buffer, so recording is cheap
// enough to sit on the hot path of every cache operation.
type Tracker struct {
	memoryHits   atomic.Int64
	memoryMisses atomic.Int64
	sharedHits   atomic.Int64
	sharedMisses atomic.Int64
	diskHits     atomic.Int64
	diskMisses   atomic.Int64

	getCount    atomic.Int64
	setCount    atomic.Int64
	deleteCount atomic.Int64
	errorCount  atomic.Int64

	bytesWritten       atomic.Int64
	breakerTransitions atomic.Int64

	latencyMu     sync.RWMutex
	latencyBuffer []time.Duration
	latencyIndex  int
	latencyCount  int
}

func NewTracker() *Tracker {
	return &Tracker{
		latencyBuffer: make([]time.Duration, defaultLatencyBufferSize),
	}
}

func (t *Tracker) RecordHit(tier string, key string, latency time.Duration) {
	switch tier {
	case "memory":
		t.memoryHits.Add(1)
	case "shared":
		t.sharedHits.Add(1)
	case "disk":
		t.diskHits.Add(1)
	}
	t.getCount.Add(1)
	t.recordLatency(latency)
}

func (t *Tracker) RecordMiss(tier string, key string, latency time.Duration) {
	switch tier {
	case "memory":
		t.memoryMisses.Add(1)
	case "shared":
		t.sharedMisses.Add(1)
	case "disk":
		t.diskMisses.Add(1)
	}
	t.getCount.Add(1)
	t.recordLatency(latency)
}

// RecordSet's first argument is the write strategy, not a tier, so it
// only feeds the aggregate counters.
func (t *Tracker) RecordSet(strategy string, key string, size int, latency time.Duration) {
	t.setCount.Add(1)
	t.bytesWritten.Add(int64(size))
	t.recordLatency(latency)
}

func (t *Tracker) RecordDelete(tier string, key string, latency time.Duration) {
	t.deleteCount.Add(1)
	t.recordLatency(latency)
}

func (t *Tracker) RecordError(tier string, operation string, err error) {
	t.errorCount.Add(1)
}

func (t *Tracker) RecordCircuitBreakerStateChange(from, to string) {
	t.breakerTransitions.Add(1)
}

// recordLatency appends to the ring buffer. O(1), no allocation.
func (t *Tracker) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	t.latencyBuffer[t.latencyIndex] = latency
	t.latencyIndex = (t.latencyIndex + 1) % len(t.latencyBuffer)
	if t.latencyCount < len(t.latencyBuffer) {
		t.latencyCount++
	}
	t.latencyMu.Unlock()
}

// Snapshot returns a point-in-time copy of all counters plus latency
// percentiles over the most recent operations (at most the ring buffer
// size). Safe to call concurrently with recording.
func (t *Tracker) Snapshot() types.MetricsSnapshot {
	t.latencyMu.RLock()
	count := t.latencyCount
	latencyCopy := make([]time.Duration, count)
	if count > 0 {
		if count < len(t.latencyBuffer) {
			copy(latencyCopy, t.latencyBuffer[:count])
		} else {
			// Full ring: the oldest sample lives at latencyIndex.
			firstPart := len(t.latencyBuffer) - t.latencyIndex
			copy(latencyCopy[:firstPart], t.latencyBuffer[t.latencyIndex:])
			copy(latencyCopy[firstPart:], t.latencyBuffer[:t.latencyIndex])
		}
	}
	t.latencyMu.RUnlock()

	snapshot := types.MetricsSnapshot{
		Timestamp:          time.Now(),
		MemoryHits:         t.memoryHits.Load(),
		MemoryMisses:       t.memoryMisses.Load(),
		SharedHits:         t.sharedHits.Load(),
		SharedMisses:       t.sharedMisses.Load(),
		DiskHits:           t.diskHits.Load(),
		DiskMisses:         t.diskMisses.Load(),
		GetCount:           t.getCount.Load(),
		SetCount:           t.setCount.Load(),
		DeleteCount:        t.deleteCount.Load(),
		ErrorCount:         t.errorCount.Load(),
		BytesWritten:       t.bytesWritten.Load(),
		BreakerTransitions: t.breakerTransitions.Load(),
	}

	if len(latencyCopy) > 0 {
		snapshot.AvgLatencyMs = durationMS(avgDuration(latencyCopy))
		snapshot.P50LatencyMs = durationMS(percentile(latencyCopy, 50))
		snapshot.P95LatencyMs = durationMS(percentile(latencyCopy, 95))
		snapshot.P99LatencyMs = durationMS(percentile(latencyCopy, 99))
	}

	return snapshot
}

// Reset zeroes every counter and discards recorded latencies.
func (t *Tracker) Reset() {
	t.memoryHits.Store(0)
	t.memoryMisses.Store(0)
	t.sharedHits.Store(0)
	t.sharedMisses.Store(0)
	t.diskHits.Store(0)
	t.diskMisses.Store(0)
	t.getCount.Store(0)
	t.setCount.Store(0)
	t.deleteCount.Store(0)
	t.errorCount.Store(0)
	t.bytesWritten.Store(0)
	t.breakerTransitions.Store(0)

	t.latencyMu.Lock()
	t.latencyIndex = 0
	t.latencyCount = 0
	t.latencyMu.Unlock()
}

// durationMS converts to fractional milliseconds. Cache hits are
// routinely sub-millisecond, so truncating to whole ms would report 0.
func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func avgDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	slices.Sort(sorted)

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

var _ types.MetricsRecorder = (*Tracker)(nil)
