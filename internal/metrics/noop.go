package metrics

import (
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// NoOpTracker discards every recording. It stands in for the real
// tracker when metrics are disabled.
type NoOpTracker struct{}

func NewNoOpTracker() *NoOpTracker {
	return &NoOpTracker{}
}

func (t *NoOpTracker) RecordHit(tier string, key string, latency time.Duration) {}

func (t *NoOpTracker) RecordMiss(tier string, key string, latency time.Duration) {}

func (t *NoOpTracker) RecordSet(strategy string, key string, size int, latency time.Duration) {}

func (t *NoOpTracker) RecordDelete(tier string, key string, latency time.Duration) {}

func (t *NoOpTracker) RecordError(tier string, operation string, err error) {}

func (t *NoOpTracker) RecordCircuitBreakerStateChange(from, to string) {}

// Snapshot returns an empty snapshot.
func (t *NoOpTracker) Snapshot() types.MetricsSnapshot { return types.MetricsSnapshot{} }

func (t *NoOpTracker) Reset() {}

// NoOpPublisher discards every metric. Used when publishing is
// disabled so callers never need a nil check.
type NoOpPublisher struct{}

func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) Gauge(name string, value float64, tags ...string) {}

func (p *NoOpPublisher) Incr(name string, tags ...string) {}

func (p *NoOpPublisher) Count(name string, value int64, tags ...string) {}

func (p *NoOpPublisher) Histogram(name string, value float64, tags ...string) {}

func (p *NoOpPublisher) Timing(name string, duration time.Duration, tags ...string) {}

func (p *NoOpPublisher) Event(title, text, alertType string, tags ...string) {}

func (p *NoOpPublisher) PublishSnapshot(s *types.MetricsSnapshot) {}

func (p *NoOpPublisher) Close() error { return nil }

var (
	_ types.MetricsRecorder = (*NoOpTracker)(nil)
	_ types.Publisher       = (*NoOpPublisher)(nil)
)
