package strata

import "context"

// Cache is the full client surface: multi-tier cache operations plus the
// health and reliability layers wired around them. Implementations are
// safe for concurrent use.
//
// All operations take a key and a keyType. The keyType selects the caching
// policy (primary tier, TTL, serialization); unknown key-types fall back to
// the configured defaults.
type Cache interface {
	// Get retrieves the value for key into dest, checking memory, then the
	// shared store, then disk. It returns ErrCacheMiss when no tier has a
	// live value.
	Get(ctx context.Context, key, keyType string, dest any, opts ...Option) error

	// Set stores value under key according to the key-type's write policy.
	Set(ctx context.Context, key, keyType string, value any, opts ...Option) error

	// GetOrSet retrieves the value for key, or on a miss runs producer and
	// caches its result. Concurrent callers missing on the same key may
	// each run producer, so producers must be idempotent.
	GetOrSet(ctx context.Context, key, keyType string, dest any, producer func(ctx context.Context) (any, error), opts ...Option) error

	// Delete removes key from every tier. It reports whether any tier held
	// the value.
	Delete(ctx context.Context, key, keyType string) (bool, error)

	// Contains reports whether key has a live value in any tier without
	// touching access metadata.
	Contains(ctx context.Context, key, keyType string) (bool, error)

	// InvalidatePattern deletes every key of the key-type matching the glob
	// pattern and returns the number of entries removed.
	InvalidatePattern(ctx context.Context, pattern, keyType string) (int, error)

	// ClearAll empties every tier.
	ClearAll(ctx context.Context) error

	// Stats reports per-tier and per-operation counters maintained by the
	// cache manager.
	Stats() CacheStats

	// Snapshot returns the metrics tracker's counters enriched with memory
	// occupancy and shared-store connectivity. The context bounds the
	// connectivity probe.
	Snapshot(ctx context.Context) MetricsSnapshot

	// Health runs every registered probe and returns the aggregated
	// verdict.
	Health(ctx context.Context) OverallHealth

	// IsHealthy reports whether the cache is usable. A degraded cache (a
	// slower tier down, memory near capacity) still counts as usable.
	IsHealthy(ctx context.Context) bool

	// IsSharedAvailable reports whether the shared store answers a ping
	// right now.
	IsSharedAvailable(ctx context.Context) bool

	// Reliable returns the executor for wrapping calls to flaky
	// dependencies with circuit breaking, retries, and bulkheads.
	Reliable() *ReliabilityExecutor

	// HealthChecks returns the aggregator so callers can register their
	// own probes alongside the built-in ones.
	HealthChecks() *HealthAggregator

	// Close stops background loops, publishes a final metrics snapshot,
	// and releases every tier. It is safe to call more than once.
	Close() error
}
