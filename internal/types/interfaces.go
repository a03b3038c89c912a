package types

import (
	"context"
	"time"
)

type TierInfo interface {
	Name() string
}

type TierReader interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Contains(ctx context.Context, key string) (bool, error)
}

type TierWriter interface {
	Set(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) (bool, error)
}

type TierClearer interface {
	Clear(ctx context.Context) error
}

type TierStatsProvider interface {
	Stats() TierStats
	ResetStats()
}

// TierStore is the contract every cache tier satisfies.
type TierStore interface {
	TierInfo
	TierReader
	TierWriter
	TierClearer
	TierStatsProvider
}

// PatternDeleter is implemented by tiers that can remove keys by glob
// pattern. Pattern deletion is best-effort; the disk tier cannot implement
// it because its filenames are one-way hashes.
type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// SharedStore is the external shared key-value store contract. Failures
// from any method degrade to a cache miss at the orchestration layer.
type SharedStore interface {
	TierStore
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	DeleteMany(ctx context.Context, keys ...string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, dest interface{}) error
}

type MetricsRecorder interface {
	RecordHit(tier string, key string, latency time.Duration)
	RecordMiss(tier string, key string, latency time.Duration)
	RecordSet(tier string, key string, size int, latency time.Duration)
	RecordDelete(tier string, key string, latency time.Duration)
	RecordError(tier string, operation string, err error)
	RecordCircuitBreakerStateChange(from, to string)
}

// Publisher ships metrics to an external backend (DataDog statsd or
// nothing). Implementations must be safe for concurrent use; individual
// publish failures are swallowed, not returned.
type Publisher interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Count(name string, value int64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
	Event(title, text, alertType string, tags ...string)
	PublishSnapshot(s *MetricsSnapshot)
	Close() error
}
