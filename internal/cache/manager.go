package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

// DefaultShutdownTimeout is the default timeout for shutting down the cache manager.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultBackgroundOpTimeout is the default timeout for background operations.
const DefaultBackgroundOpTimeout = 5 * time.Second

// maintenanceInterval is how often the manager samples tier statistics and
// sweeps stale disk files.
const maintenanceInterval = 5 * time.Minute

// lookupOrder is the fixed read path: fastest tier first, regardless of
// any key-type's primary tier.
var lookupOrder = []types.Tier{types.TierMemory, types.TierShared, types.TierDisk}

// Manager orchestrates the memory, shared and disk tiers under per-key-type
// policy. Reads always walk the tiers fastest-first; writes follow the
// operation's write strategy relative to the key-type's primary tier. Any
// single tier failing degrades to the next tier or to a miss, never to an
// error surfaced from Get.
type Manager struct {
	memory    *MemoryTier
	shared    types.SharedStore
	disk      *DiskTier
	registry  *types.KeyTypeRegistry
	jsonSer   types.Serializer
	rawSer    types.Serializer
	validator *types.KeyValidator
	config    *config.Config
	metrics   types.MetricsRecorder
	logger    *slog.Logger

	gets     atomic.Int64
	sets     atomic.Int64
	deletes  atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	opErrors atomic.Int64

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	bgWg           sync.WaitGroup
	bgMu           sync.Mutex
	closed         atomic.Bool
}

// NewManager creates a cache manager with the given configuration and
// options. The memory tier is always built; shared and disk tiers are
// optional and their absence only narrows which tiers writes can land in.
//
//nolint:gocyclo // Configuration initialization requires multiple conditional checks
func NewManager(cfg *config.Config, opts *types.ManagerOptions) (*Manager, error) {
	logger := slog.Default()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}
	logger = logger.With("component", "cache-manager")

	if opts != nil {
		if opts.SharedAddress != "" {
			cfg.Shared.Address = opts.SharedAddress
			cfg.Shared.Enabled = true
		}
		if !opts.SharedPassword.IsEmpty() {
			cfg.Shared.Password = opts.SharedPassword
		}
		if opts.SharedDB != 0 {
			cfg.Shared.DB = opts.SharedDB
		}
		if opts.DisableShared {
			cfg.Shared.Enabled = false
		}
		if opts.DisableDisk {
			cfg.Disk.Enabled = false
		}
	}

	registry, err := cfg.BuildKeyTypeRegistry()
	if err != nil {
		return nil, err
	}
	if opts != nil {
		for name, ktCfg := range opts.KeyTypes {
			registry.Register(name, ktCfg)
		}
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	m := &Manager{
		registry:       registry,
		jsonSer:        NewJSONSerializer(),
		rawSer:         NewRawSerializer(),
		config:         cfg,
		logger:         logger,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	if opts != nil && opts.Metrics != nil {
		m.metrics = opts.Metrics
	}

	if cfg.KeyValidation.Enabled {
		m.validator = types.NewKeyValidator(cfg.KeyValidation.ToTypesConfig())
	}

	m.memory = NewMemoryTier(cfg.Memory.MaxSizeBytes(), logger)

	switch {
	case opts != nil && opts.SharedStore != nil:
		m.shared = opts.SharedStore
	case cfg.Shared.Enabled:
		shared, err := NewSharedTier(cfg.Shared, logger)
		if err != nil {
			logger.Warn("shared tier unavailable, continuing without it", "error", err)
		} else {
			m.shared = shared
		}
	}

	if cfg.Disk.Enabled {
		disk, err := NewDiskTier(cfg.Disk.Directory, logger,
			WithMaxAge(cfg.Disk.MaxAge),
			WithCompressionThreshold(cfg.Disk.CompressionThreshold),
		)
		if err != nil {
			logger.Warn("disk tier unavailable, continuing without it", "error", err)
		} else {
			m.disk = disk
		}
	}

	m.bgWg.Add(1)
	go m.maintenanceLoop()

	return m, nil
}

// storageKey namespaces a key by its key-type so different key-types never
// collide and per-type pattern invalidation stays coherent.
func storageKey(keyType, key string) string {
	return keyType + ":" + key
}

// Get retrieves a value into dest. The lookup order is always
// Memory -> Shared -> Disk, stopping at the first hit. A hit in a slower
// tier is promoted to the faster tiers within the key-type's reach only
// when the caller asks for it with WithStrategy(StrategyWriteThrough).
//
// A miss, an expired entry, a failed tier and an undecodable value all
// return ErrCacheMiss: callers treat "no value" and "cache trouble"
// identically and go compute the value.
func (m *Manager) Get(ctx context.Context, key, keyType string, dest any, opts ...types.Option) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	if err := m.validateKey(key); err != nil {
		return err
	}

	options := types.ApplyOptions(opts...)
	ktCfg := m.registry.Lookup(keyType)
	sk := storageKey(keyType, key)

	m.gets.Add(1)

	entry, hitTier := m.lookup(ctx, sk)
	if entry == nil {
		m.misses.Add(1)
		return types.ErrCacheMiss
	}

	if err := m.serializerFor(ktCfg.Serialization).Unmarshal(entry.Value, dest); err != nil {
		m.opErrors.Add(1)
		m.misses.Add(1)
		m.logger.Warn("cached value failed to decode, treating as miss",
			"key", key, "key_type", keyType, "tier", hitTier.String(), "error", err)
		return types.ErrCacheMiss
	}

	m.hits.Add(1)

	if options.StrategyOrDefault(types.StrategyLazy) == types.StrategyWriteThrough {
		m.promote(entry, hitTier, ktCfg.PrimaryTier)
	}

	return nil
}

// lookup walks the tier chain fastest-first and returns the first hit with
// the tier it came from. Each tier records its own hit or miss even though
// the walk short-circuits; tier failures are logged and treated as misses.
func (m *Manager) lookup(ctx context.Context, sk string) (*types.CacheEntry, types.Tier) {
	for _, tier := range lookupOrder {
		store := m.tierStore(tier)
		if store == nil {
			continue
		}

		start := time.Now()
		entry, err := store.Get(ctx, sk)
		elapsed := time.Since(start)

		if err == nil {
			if m.metrics != nil {
				m.metrics.RecordHit(tier.String(), sk, elapsed)
			}
			return entry, tier
		}

		if !types.IsCacheMiss(err) {
			m.logger.Debug("tier read failed", "tier", tier.String(), "key", sk, "error", err)
			if m.metrics != nil {
				m.metrics.RecordError(tier.String(), "get", err)
			}
		}
		if m.metrics != nil {
			m.metrics.RecordMiss(tier.String(), sk, elapsed)
		}
	}
	return nil, 0
}

// promote copies a slower-tier hit into the faster tiers within the
// key-type's reach, asynchronously and best-effort: a failed promotion only
// costs the next read a slower hit.
func (m *Manager) promote(entry *types.CacheEntry, from, primary types.Tier) {
	for _, tier := range primary.Reach() {
		if tier >= from {
			break
		}
		if m.tierStore(tier) == nil {
			continue
		}

		target := tier
		promoted := *entry
		m.runBackground(func(ctx context.Context) {
			if err := m.writeTier(ctx, target, &promoted); err != nil {
				m.logger.Debug("promotion failed",
					"tier", target.String(), "key", entry.Key, "error", err)
			}
		})
	}
}

// Set stores a value under the key-type's policy. TTL defaults to the
// key-type's TTL; the strategy defaults to write-through.
//
// Write-through writes synchronously to every tier within the primary
// tier's reach and succeeds if ANY of those writes landed. Lazy writes
// only to the primary tier. Write-back writes to memory synchronously and
// propagates to the remaining in-reach tiers in the background; a crash
// before propagation lands loses those copies, which is the accepted
// trade-off for the lower latency.
func (m *Manager) Set(ctx context.Context, key, keyType string, value any, opts ...types.Option) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	if err := m.validateKey(key); err != nil {
		return err
	}

	start := time.Now()
	options := types.ApplyOptions(opts...)
	ktCfg := m.registry.Lookup(keyType)

	m.sets.Add(1)

	data, err := m.serializerFor(ktCfg.Serialization).Marshal(value)
	if err != nil {
		m.opErrors.Add(1)
		return err
	}

	if ktCfg.MaxValueBytes > 0 && int64(len(data)) > ktCfg.MaxValueBytes {
		m.opErrors.Add(1)
		return types.NewCacheError("set", key, ktCfg.PrimaryTier.String(),
			fmt.Errorf("%w: %d bytes over the %d byte key-type limit",
				types.ErrValueTooLarge, len(data), ktCfg.MaxValueBytes))
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:        storageKey(keyType, key),
		Value:      data,
		CreatedAt:  now,
		AccessedAt: now,
		TTL:        options.TTLOrDefault(ktCfg.DefaultTTL),
		SizeBytes:  int64(len(data)),
		Compress:   ktCfg.Compress,
	}

	strategy := options.StrategyOrDefault(types.StrategyWriteThrough)
	err = m.write(ctx, entry, ktCfg.PrimaryTier, strategy)

	if m.metrics != nil {
		m.metrics.RecordSet(strategy.String(), key, len(data), time.Since(start))
	}
	if err != nil {
		m.opErrors.Add(1)
	}
	return err
}

func (m *Manager) write(ctx context.Context, entry *types.CacheEntry, primary types.Tier, strategy types.WriteStrategy) error {
	switch strategy {
	case types.StrategyLazy:
		return m.writeTier(ctx, primary, entry)

	case types.StrategyWriteBack:
		err := m.writeTier(ctx, types.TierMemory, entry)
		for _, tier := range primary.Reach() {
			if tier == types.TierMemory || m.tierStore(tier) == nil {
				continue
			}
			target := tier
			copied := *entry
			m.runBackground(func(ctx context.Context) {
				if werr := m.writeTier(ctx, target, &copied); werr != nil {
					m.logger.Debug("write-back propagation failed",
						"tier", target.String(), "key", entry.Key, "error", werr)
				}
			})
		}
		return err

	default:
		var errs []error
		wrote := false
		for _, tier := range primary.Reach() {
			err := m.writeTier(ctx, tier, entry)
			if err == nil {
				wrote = true
				continue
			}
			errs = append(errs, err)
			if errors.Is(err, types.ErrTierUnavailable) {
				m.logger.Debug("skipping disabled tier", "tier", tier.String(), "key", entry.Key)
				continue
			}
			m.logger.Warn("tier write failed", "tier", tier.String(), "key", entry.Key, "error", err)
			if m.metrics != nil {
				m.metrics.RecordError(tier.String(), "set", err)
			}
		}
		if wrote {
			return nil
		}
		return errors.Join(errs...)
	}
}

// writeTier stores a per-tier copy of the entry so tiers never share
// mutable state.
func (m *Manager) writeTier(ctx context.Context, tier types.Tier, entry *types.CacheEntry) error {
	store := m.tierStore(tier)
	if store == nil {
		return types.NewCacheError("set", entry.Key, tier.String(), types.ErrTierUnavailable)
	}
	copied := *entry
	copied.Tier = tier
	return store.Set(ctx, &copied)
}

func (m *Manager) tierStore(tier types.Tier) types.TierStore {
	switch tier {
	case types.TierMemory:
		return m.memory
	case types.TierShared:
		if m.shared == nil {
			return nil
		}
		return m.shared
	case types.TierDisk:
		if m.disk == nil {
			return nil
		}
		return m.disk
	default:
		return nil
	}
}

// Delete removes the key from every tier. It reports whether any tier held
// the key; per-tier failures are logged, not returned, since a failed
// delete leaves at worst a stale entry that TTL will retire.
func (m *Manager) Delete(ctx context.Context, key, keyType string) (bool, error) {
	if m.closed.Load() {
		return false, types.ErrClosed
	}
	if err := m.validateKey(key); err != nil {
		return false, err
	}

	start := time.Now()
	sk := storageKey(keyType, key)
	m.deletes.Add(1)

	deleted := false
	for _, tier := range lookupOrder {
		store := m.tierStore(tier)
		if store == nil {
			continue
		}
		ok, err := store.Delete(ctx, sk)
		if err != nil {
			m.logger.Debug("tier delete failed", "tier", tier.String(), "key", sk, "error", err)
			if m.metrics != nil {
				m.metrics.RecordError(tier.String(), "delete", err)
			}
			continue
		}
		if ok {
			deleted = true
		}
	}

	if m.metrics != nil {
		m.metrics.RecordDelete("all", key, time.Since(start))
	}
	return deleted, nil
}

// GetOrSet returns the cached value or produces, caches and returns it.
// There is no cross-caller de-duplication: concurrent callers missing on
// the same key may each invoke producer, so producers must be idempotent.
func (m *Manager) GetOrSet(ctx context.Context, key, keyType string, dest any, producer func(ctx context.Context) (any, error), opts ...types.Option) error {
	err := m.Get(ctx, key, keyType, dest, opts...)
	if err == nil {
		return nil
	}
	if !types.IsCacheMiss(err) {
		return err
	}

	value, err := producer(ctx)
	if err != nil {
		return err
	}

	if setErr := m.Set(ctx, key, keyType, value, opts...); setErr != nil {
		m.logger.Debug("failed to cache produced value", "key", key, "error", setErr)
	}

	return m.assign(m.registry.Lookup(keyType), value, dest)
}

// assign round-trips the produced value through the key-type's serializer
// so dest sees exactly what a later cache hit would return.
func (m *Manager) assign(ktCfg types.KeyTypeConfig, value, dest any) error {
	ser := m.serializerFor(ktCfg.Serialization)
	data, err := ser.Marshal(value)
	if err != nil {
		return err
	}
	return ser.Unmarshal(data, dest)
}

// InvalidatePattern removes keys matching the glob pattern within the
// key-type's namespace. Only the shared tier supports reliable pattern
// matching; memory is matched best-effort, and disk entries cannot be
// matched at all because their filenames are one-way hashes (they age out
// via TTL and the stale sweep instead). Returns confirmed deletions.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern, keyType string) (int, error) {
	if m.closed.Load() {
		return 0, types.ErrClosed
	}

	full := storageKey(keyType, pattern)
	count := 0

	if n, err := m.memory.DeletePattern(ctx, full); err == nil {
		count += n
	} else {
		m.logger.Debug("memory pattern invalidation failed", "pattern", full, "error", err)
	}

	if m.shared != nil {
		keys, err := m.shared.Keys(ctx, full)
		switch {
		case err != nil:
			m.logger.Warn("shared pattern scan failed", "pattern", full, "error", err)
			if m.metrics != nil {
				m.metrics.RecordError("shared", "invalidate_pattern", err)
			}
		case len(keys) > 0:
			n, err := m.shared.DeleteMany(ctx, keys...)
			if err != nil {
				m.logger.Warn("shared pattern delete failed", "pattern", full, "error", err)
				if m.metrics != nil {
					m.metrics.RecordError("shared", "invalidate_pattern", err)
				}
			}
			count += n
		}
	}

	m.logger.Debug("invalidated by pattern", "pattern", full, "deleted", count)
	return count, nil
}

// ClearAll clears every tier and resets all statistics counters. Per-tier
// failures are collected, not short-circuited, so one bad tier never
// leaves the others dirty.
func (m *Manager) ClearAll(ctx context.Context) error {
	if m.closed.Load() {
		return types.ErrClosed
	}

	var errs []error
	for _, tier := range lookupOrder {
		store := m.tierStore(tier)
		if store == nil {
			continue
		}
		if err := store.Clear(ctx); err != nil {
			errs = append(errs, err)
			m.logger.Warn("tier clear failed", "tier", tier.String(), "error", err)
		}
	}

	m.ResetStats()
	m.logger.Info("cleared all cache tiers")
	return errors.Join(errs...)
}

// Contains reports whether any tier currently holds the key, without
// touching access metadata.
func (m *Manager) Contains(ctx context.Context, key, keyType string) (bool, error) {
	if m.closed.Load() {
		return false, types.ErrClosed
	}
	if err := m.validateKey(key); err != nil {
		return false, err
	}

	sk := storageKey(keyType, key)
	for _, tier := range lookupOrder {
		store := m.tierStore(tier)
		if store == nil {
			continue
		}
		ok, err := store.Contains(ctx, sk)
		if err != nil {
			m.logger.Debug("tier contains check failed", "tier", tier.String(), "key", sk, "error", err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Stats returns a point-in-time statistics report: operation counters,
// per-tier stats and the configured key-types.
func (m *Manager) Stats() types.CacheStats {
	tiers := make(map[string]types.TierStats, len(lookupOrder))
	for _, tier := range lookupOrder {
		if store := m.tierStore(tier); store != nil {
			tiers[tier.String()] = store.Stats()
		}
	}

	return types.CacheStats{
		Operations: types.OperationStats{
			Gets:    m.gets.Load(),
			Sets:    m.sets.Load(),
			Deletes: m.deletes.Load(),
			Hits:    m.hits.Load(),
			Misses:  m.misses.Load(),
			Errors:  m.opErrors.Load(),
		},
		Tiers:     tiers,
		KeyTypes:  m.registry.Names(),
		Timestamp: time.Now(),
	}
}

// ResetStats zeroes the operation counters and every tier's counters.
func (m *Manager) ResetStats() {
	m.gets.Store(0)
	m.sets.Store(0)
	m.deletes.Store(0)
	m.hits.Store(0)
	m.misses.Store(0)
	m.opErrors.Store(0)

	for _, tier := range lookupOrder {
		if store := m.tierStore(tier); store != nil {
			store.ResetStats()
		}
	}
}

// SharedPing checks shared store reachability for health probes. It
// returns ErrTierUnavailable when no shared tier is configured.
func (m *Manager) SharedPing(ctx context.Context) error {
	if m.shared == nil {
		return types.ErrTierUnavailable
	}
	return m.shared.Ping(ctx)
}

// HasShared reports whether a shared tier is configured, regardless of
// whether it is currently reachable.
func (m *Manager) HasShared() bool {
	return m.shared != nil
}

// MemoryStats exposes the memory tier's stats for utilization probes.
func (m *Manager) MemoryStats() types.TierStats {
	return m.memory.Stats()
}

// DiskDirectory returns the disk tier's directory, or "" when disk is
// disabled.
func (m *Manager) DiskDirectory() string {
	if m.disk == nil {
		return ""
	}
	return m.disk.dir
}

// Close releases all resources using the default shutdown timeout, waiting
// for in-flight background writes before closing the tiers.
func (m *Manager) Close() error {
	return m.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout releases all resources with a configurable timeout. If
// background operations do not finish in time it returns
// ErrShutdownTimeout but still closes the tiers.
func (m *Manager) CloseWithTimeout(timeout time.Duration) error {
	// Hold bgMu so no new background operation can Add after closed flips
	// and before Wait starts.
	m.bgMu.Lock()
	if m.closed.Swap(true) {
		m.bgMu.Unlock()
		return nil
	}
	m.shutdownCancel()
	m.bgMu.Unlock()

	m.logger.Info("closing cache manager, waiting for background operations", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		m.bgWg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("shutdown timeout exceeded, proceeding with close", "timeout", timeout)
		timedOut = true
	}

	var errs []error
	if timedOut {
		errs = append(errs, types.ErrShutdownTimeout)
	}

	if err := m.memory.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.shared != nil {
		if err := m.shared.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.disk != nil {
		if err := m.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// runBackground executes fn in a goroutine tracked for graceful shutdown,
// with a context derived from the shutdown context. No goroutine starts
// once the manager is closed.
func (m *Manager) runBackground(fn func(ctx context.Context)) {
	// bgMu prevents a race with CloseWithTimeout where Add lands after
	// Wait has started.
	m.bgMu.Lock()
	if m.closed.Load() {
		m.bgMu.Unlock()
		return
	}
	m.bgWg.Add(1)
	m.bgMu.Unlock()

	go func() {
		defer m.bgWg.Done()
		ctx, cancel := context.WithTimeout(m.shutdownCtx, DefaultBackgroundOpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) maintenanceLoop() {
	defer m.bgWg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdownCtx.Done():
			return
		case <-ticker.C:
			m.maintain(m.shutdownCtx)
		}
	}
}

// maintain runs one maintenance pass: sample tier sizes and hit rates for
// observability and sweep stale disk files. Failures are logged and never
// stop the loop.
func (m *Manager) maintain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("maintenance pass panicked", "panic", r)
		}
	}()

	stats := m.Stats()
	for name, tier := range stats.Tiers {
		m.logger.Debug("tier sample",
			"tier", name,
			"entries", tier.Entries,
			"size_bytes", tier.SizeBytes,
			"hit_ratio", tier.HitRatio(),
		)
	}

	if m.disk != nil {
		if removed, err := m.disk.RemoveStale(ctx); err != nil {
			m.logger.Warn("stale disk sweep failed", "error", err)
		} else if removed > 0 {
			m.logger.Info("removed stale disk entries", "count", removed)
		}
	}
}

func (m *Manager) serializerFor(mode types.SerializationMode) types.Serializer {
	if mode == types.SerializationRaw {
		return m.rawSer
	}
	return m.jsonSer
}

func (m *Manager) validateKey(key string) error {
	if m.validator == nil {
		return nil
	}
	return m.validator.Validate(key)
}
