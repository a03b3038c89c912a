package cache

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quarrylabs/strata/internal/types"
)

// MemoryTier is the fastest, smallest cache level: an in-process store
// bounded by total byte size with least-recently-accessed eviction. A map
// indexes into a doubly-linked list whose front is the most recently used
// entry; every hit moves the entry to the front and every eviction pops
// the back.
//
// All mutating operations are serialized by a single mutex. The coarse
// lock keeps size accounting and LRU order consistent for concurrent
// callers sharing one instance.
type MemoryTier struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	order       *list.List // front = most recently used
	currentSize int64
	maxSize     int64
	logger      *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	closed atomic.Bool
}

// NewMemoryTier creates a memory tier bounded at maxSize bytes.
func NewMemoryTier(maxSize int64, logger *slog.Logger) *MemoryTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryTier{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		logger:  logger.With("component", "memory-tier"),
	}
}

// Name returns the tier name.
func (t *MemoryTier) Name() string {
	return "memory"
}

// Get retrieves an entry. A hit updates the entry's access metadata and
// moves it to the most-recently-used position; an expired entry is removed
// and reported as a miss.
func (t *MemoryTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if t.closed.Load() {
		return nil, types.ErrClosed
	}

	t.mu.Lock()
	elem, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		t.misses.Add(1)
		return nil, types.ErrCacheMiss
	}

	entry := elem.Value.(*types.CacheEntry)
	if entry.Expired() {
		t.removeLocked(elem, entry)
		t.mu.Unlock()
		t.misses.Add(1)
		t.evictions.Add(1)
		return nil, types.ErrCacheMiss
	}

	entry.Touch()
	t.order.MoveToFront(elem)
	t.mu.Unlock()

	t.hits.Add(1)
	return entry, nil
}

// Set inserts or overwrites an entry, evicting from the least-recently-
// used end until the entry fits. An entry larger than the whole budget is
// rejected so the current size can never exceed the budget after a set.
func (t *MemoryTier) Set(ctx context.Context, entry *types.CacheEntry) error {
	if t.closed.Load() {
		return types.ErrClosed
	}
	if entry.SizeBytes > t.maxSize {
		return types.NewCacheError("set", entry.Key, "memory", types.ErrValueTooLarge)
	}

	t.mu.Lock()
	if elem, ok := t.entries[entry.Key]; ok {
		old := elem.Value.(*types.CacheEntry)
		t.currentSize -= old.SizeBytes
		elem.Value = entry
		t.currentSize += entry.SizeBytes
		t.order.MoveToFront(elem)
		t.evictForSpaceLocked(elem)
		t.mu.Unlock()
		t.sets.Add(1)
		return nil
	}

	for t.currentSize+entry.SizeBytes > t.maxSize && t.order.Len() > 0 {
		t.evictOldestLocked()
	}

	elem := t.order.PushFront(entry)
	t.entries[entry.Key] = elem
	t.currentSize += entry.SizeBytes
	t.mu.Unlock()

	t.sets.Add(1)
	return nil
}

// evictForSpaceLocked evicts least-recently-used entries other than keep
// until the size fits the budget. Used after an overwrite grows an entry.
func (t *MemoryTier) evictForSpaceLocked(keep *list.Element) {
	for t.currentSize > t.maxSize && t.order.Len() > 1 {
		back := t.order.Back()
		if back == keep {
			break
		}
		entry := back.Value.(*types.CacheEntry)
		t.removeLocked(back, entry)
		t.evictions.Add(1)
	}
}

func (t *MemoryTier) evictOldestLocked() {
	back := t.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*types.CacheEntry)
	t.removeLocked(back, entry)
	t.evictions.Add(1)
	t.logger.Debug("evicted entry", "key", entry.Key, "size_bytes", entry.SizeBytes)
}

func (t *MemoryTier) removeLocked(elem *list.Element, entry *types.CacheEntry) {
	t.order.Remove(elem)
	delete(t.entries, entry.Key)
	t.currentSize -= entry.SizeBytes
}

// Delete removes an entry and updates size accounting. The bool reports
// whether a removal occurred.
func (t *MemoryTier) Delete(ctx context.Context, key string) (bool, error) {
	if t.closed.Load() {
		return false, types.ErrClosed
	}

	t.mu.Lock()
	elem, ok := t.entries[key]
	if ok {
		t.removeLocked(elem, elem.Value.(*types.CacheEntry))
	}
	t.mu.Unlock()

	if ok {
		t.deletes.Add(1)
	}
	return ok, nil
}

// Contains reports whether a live (non-expired) entry exists without
// touching access metadata.
func (t *MemoryTier) Contains(ctx context.Context, key string) (bool, error) {
	if t.closed.Load() {
		return false, types.ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	elem, ok := t.entries[key]
	if !ok {
		return false, nil
	}
	return !elem.Value.(*types.CacheEntry).Expired(), nil
}

// Clear empties all state.
func (t *MemoryTier) Clear(ctx context.Context) error {
	if t.closed.Load() {
		return types.ErrClosed
	}

	t.mu.Lock()
	t.entries = make(map[string]*list.Element)
	t.order.Init()
	t.currentSize = 0
	t.mu.Unlock()
	return nil
}

// DeletePattern removes entries whose keys match a glob-lite pattern
// (leading, trailing, or single inner '*'). Returns the number deleted.
func (t *MemoryTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if t.closed.Load() {
		return 0, types.ErrClosed
	}

	t.mu.Lock()
	var matched []*list.Element
	for key, elem := range t.entries {
		if matchPattern(key, pattern) {
			matched = append(matched, elem)
		}
	}
	for _, elem := range matched {
		t.removeLocked(elem, elem.Value.(*types.CacheEntry))
	}
	t.mu.Unlock()

	if len(matched) > 0 {
		t.deletes.Add(int64(len(matched)))
		t.logger.Debug("deleted entries by pattern", "pattern", pattern, "deleted", len(matched))
	}
	return len(matched), nil
}

// Close marks the tier closed. Entries are dropped with it.
func (t *MemoryTier) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.entries = make(map[string]*list.Element)
	t.order.Init()
	t.currentSize = 0
	t.mu.Unlock()
	return nil
}

// Stats returns tier statistics.
func (t *MemoryTier) Stats() types.TierStats {
	t.mu.Lock()
	entries := int64(t.order.Len())
	size := t.currentSize
	t.mu.Unlock()

	var utilization float64
	if t.maxSize > 0 {
		utilization = float64(size) / float64(t.maxSize)
	}

	return types.TierStats{
		Entries:      entries,
		SizeBytes:    size,
		MaxSizeBytes: t.maxSize,
		Utilization:  utilization,
		Hits:         t.hits.Load(),
		Misses:       t.misses.Load(),
		Sets:         t.sets.Load(),
		Deletes:      t.deletes.Load(),
		Evictions:    t.evictions.Load(),
		Available:    !t.closed.Load(),
	}
}

// ResetStats zeroes the tier's counters.
func (t *MemoryTier) ResetStats() {
	t.hits.Store(0)
	t.misses.Store(0)
	t.sets.Store(0)
	t.deletes.Store(0)
	t.evictions.Store(0)
}

func matchPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if !strings.Contains(prefix, "*") {
			return strings.HasPrefix(key, prefix)
		}
	}

	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		suffix := strings.TrimPrefix(pattern, "*")
		if !strings.Contains(suffix, "*") {
			return strings.HasSuffix(key, suffix)
		}
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(key, parts[0]) && strings.HasSuffix(key, parts[1])
		}
	}

	return key == pattern
}

var (
	_ types.TierStore      = (*MemoryTier)(nil)
	_ types.PatternDeleter = (*MemoryTier)(nil)
)
