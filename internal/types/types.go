// Package types provides shared types for the strata cache library.
// This package breaks import cycles between pkg/strata and internal/cache.
package types

import (
	"sort"
	"sync"
	"time"
)

// Tier identifies one level of the cache hierarchy, ordered fastest to
// slowest: Memory < Shared < Disk.
type Tier int

const (
	TierMemory Tier = iota + 1
	TierShared
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierShared:
		return "shared"
	case TierDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// WithinReach reports whether t is populated when primary is the key-type's
// primary tier. A primary of Disk reaches every tier; a primary of Memory
// reaches only Memory.
func (t Tier) WithinReach(primary Tier) bool {
	return t >= TierMemory && t <= primary
}

// Reach returns the tiers a write-through set populates for this primary
// tier, ordered fastest first.
func (t Tier) Reach() []Tier {
	tiers := make([]Tier, 0, 3)
	for _, candidate := range []Tier{TierMemory, TierShared, TierDisk} {
		if candidate.WithinReach(t) {
			tiers = append(tiers, candidate)
		}
	}
	return tiers
}

// WriteStrategy controls which tiers a set populates and whether a get
// promotes values to faster tiers. The zero value means "unset" so each
// operation can apply its own default (gets default to lazy, sets to
// write-through).
type WriteStrategy int

const (
	StrategyLazy WriteStrategy = iota + 1
	StrategyWriteThrough
	StrategyWriteBack
)

func (s WriteStrategy) String() string {
	switch s {
	case StrategyLazy:
		return "lazy"
	case StrategyWriteThrough:
		return "write_through"
	case StrategyWriteBack:
		return "write_back"
	default:
		return "unknown"
	}
}

// SerializationMode selects how values for a key-type are converted to
// bytes: structured JSON or raw opaque binary.
type SerializationMode int

const (
	SerializationJSON SerializationMode = iota + 1
	SerializationRaw
)

func (m SerializationMode) String() string {
	switch m {
	case SerializationJSON:
		return "json"
	case SerializationRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// CacheEntry is the value container stored by every tier. Value holds the
// serialized payload; SizeBytes is computed at insertion from its length.
// Invariant: AccessedAt >= CreatedAt.
type CacheEntry struct {
	Key         string        `json:"key"`
	Value       []byte        `json:"value"`
	CreatedAt   time.Time     `json:"created_at"`
	AccessedAt  time.Time     `json:"accessed_at"`
	AccessCount int64         `json:"access_count"`
	TTL         time.Duration `json:"ttl"`
	SizeBytes   int64         `json:"size_bytes"`
	Tier        Tier          `json:"tier"`

	// Compress is a write-time hint from the key-type config; it is not
	// persisted with the entry.
	Compress bool `json:"-"`
}

// Expired reports whether the entry's TTL has elapsed. A zero TTL never
// expires.
func (e *CacheEntry) Expired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > e.TTL
}

// Touch records a read hit on the entry.
func (e *CacheEntry) Touch() {
	e.AccessedAt = time.Now()
	e.AccessCount++
}

// KeyTypeConfig declares the caching policy for one key-type (e.g.
// "thumbnails", "metadata", "api_responses"): which tier is the primary
// store, the default TTL, an optional per-value size cap, whether disk
// copies are compressed, and the serialization mode.
type KeyTypeConfig struct {
	PrimaryTier   Tier
	DefaultTTL    time.Duration
	MaxValueBytes int64
	Compress      bool
	Serialization SerializationMode
}

// KeyTypeRegistry maps key-type names to their configs. Unknown key-types
// fall back to the registry's default config rather than failing.
type KeyTypeRegistry struct {
	mu       sync.RWMutex
	configs  map[string]KeyTypeConfig
	fallback KeyTypeConfig
}

func NewKeyTypeRegistry(fallback KeyTypeConfig) *KeyTypeRegistry {
	return &KeyTypeRegistry{
		configs:  make(map[string]KeyTypeConfig),
		fallback: fallback,
	}
}

// Register adds or replaces the config for a key-type.
func (r *KeyTypeRegistry) Register(keyType string, cfg KeyTypeConfig) {
	r.mu.Lock()
	r.configs[keyType] = cfg
	r.mu.Unlock()
}

// Lookup returns the config for a key-type, falling back to the default
// config when the key-type is not registered.
func (r *KeyTypeRegistry) Lookup(keyType string) KeyTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.configs[keyType]; ok {
		return cfg
	}
	return r.fallback
}

// Names returns the registered key-type names, sorted.
func (r *KeyTypeRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Default returns the fallback config used for unknown key-types.
func (r *KeyTypeRegistry) Default() KeyTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// TierStats is a point-in-time view of one tier, shaped for JSON
// serialization by operational stats endpoints. Fields that do not apply
// to a tier are omitted.
type TierStats struct {
	Entries      int64   `json:"entries"`
	SizeBytes    int64   `json:"size_bytes"`
	MaxSizeBytes int64   `json:"max_size_bytes,omitempty"`
	Utilization  float64 `json:"utilization,omitempty"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Sets         int64   `json:"sets"`
	Deletes      int64   `json:"deletes"`
	Evictions    int64   `json:"evictions,omitempty"`
	Errors       int64   `json:"errors,omitempty"`
	Available    bool    `json:"available"`
}

// HitRatio returns hits/(hits+misses), or 0 with no traffic.
func (s TierStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// OperationStats counts cache-level operations across all tiers.
type OperationStats struct {
	Gets    int64 `json:"gets"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Errors  int64 `json:"errors"`
}

// HitRatio returns overall hits/(hits+misses), or 0 with no traffic.
func (s OperationStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CacheStats is the full statistics report returned by the cache manager.
type CacheStats struct {
	Operations OperationStats       `json:"operations"`
	Tiers      map[string]TierStats `json:"tiers"`
	KeyTypes   []string             `json:"key_types"`
	Timestamp  time.Time            `json:"timestamp"`
}

// MetricsSnapshot is a point-in-time copy of the metrics tracker's
// counters, suitable for publishing or serving from a stats endpoint.
// Counter fields are cumulative since process start (or the last
// Reset). The memory occupancy and connectivity fields are filled by
// whoever assembles the snapshot, since the tracker only sees
// operations.
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryHits   int64 `json:"memory_hits"`
	MemoryMisses int64 `json:"memory_misses"`
	SharedHits   int64 `json:"shared_hits"`
	SharedMisses int64 `json:"shared_misses"`
	DiskHits     int64 `json:"disk_hits"`
	DiskMisses   int64 `json:"disk_misses"`

	GetCount    int64 `json:"get_count"`
	SetCount    int64 `json:"set_count"`
	DeleteCount int64 `json:"delete_count"`
	ErrorCount  int64 `json:"error_count"`

	BytesWritten       int64 `json:"bytes_written"`
	BreakerTransitions int64 `json:"breaker_transitions"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`

	MemoryEntries     int64   `json:"memory_entries"`
	MemorySizeBytes   int64   `json:"memory_size_bytes"`
	MemoryMaxBytes    int64   `json:"memory_max_bytes"`
	MemoryUtilization float64 `json:"memory_utilization"`
	SharedConnected   bool    `json:"shared_connected"`
}

// TotalHits sums cache hits across all tiers.
func (s MetricsSnapshot) TotalHits() int64 {
	return s.MemoryHits + s.SharedHits + s.DiskHits
}

// TotalMisses sums misses across all tiers. A single Get that falls
// through every tier counts one miss per tier consulted.
func (s MetricsSnapshot) TotalMisses() int64 {
	return s.MemoryMisses + s.SharedMisses + s.DiskMisses
}

// TotalHitRatio returns hits/(hits+misses) across all tiers, or 0 when
// nothing has been recorded.
func (s MetricsSnapshot) TotalHitRatio() float64 {
	hits := s.TotalHits()
	total := hits + s.TotalMisses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
