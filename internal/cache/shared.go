package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

const (
	// disconnectErrorThreshold is how many consecutive command failures
	// mark the store as disconnected. Below the threshold individual
	// failures still surface per call; above it calls fail fast until the
	// health check or a successful command restores the connection.
	disconnectErrorThreshold = 5

	sharedScanBatch = 100
)

// SharedTier adapts a Redis-compatible server as the middle cache level,
// shared across processes. Values are stored raw with Redis-native
// expiry; entry metadata is reconstructed on read. The tier tracks its
// own connectivity so a dead server degrades to fast local failures
// instead of per-call dial timeouts.
type SharedTier struct {
	client *redis.Client
	config config.SharedConfig
	logger *slog.Logger

	mu            sync.RWMutex
	connected     atomic.Bool
	lastError     error
	lastErrorTime time.Time
	errorCount    atomic.Int64

	healthCheckStopCh chan struct{}
	healthCheckWg     sync.WaitGroup

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// NewSharedTier connects to the configured server. A failed initial ping
// is logged but not fatal: the tier starts disconnected and the health
// check worker keeps trying, so the process comes up even when the shared
// store is down.
func NewSharedTier(cfg config.SharedConfig, logger *slog.Logger) (*SharedTier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Value(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		if cfg.TLSSkipVerify {
			logger.Warn("TLS certificate verification is disabled - this is insecure for production use")
		}
	}

	t := &SharedTier{
		client:            redis.NewClient(opts),
		config:            cfg,
		logger:            logger.With("component", "shared-tier"),
		healthCheckStopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := t.client.Ping(ctx).Err(); err != nil {
		t.logger.Warn("shared store initial connection failed", "error", err)
		t.setError(err)
		// Not fatal - the tier degrades to misses until the store comes back.
	} else {
		t.connected.Store(true)
		t.logger.Info("shared store connected", "address", cfg.Address)
	}

	if cfg.HealthCheckInterval > 0 {
		t.healthCheckWg.Add(1)
		go t.healthCheckWorker()
	}

	return t, nil
}

// Name returns the tier name.
func (t *SharedTier) Name() string {
	return "shared"
}

// IsAvailable reports whether the store is currently reachable.
func (t *SharedTier) IsAvailable() bool {
	return t.connected.Load()
}

func (t *SharedTier) prefixKey(key string) string {
	return t.config.KeyPrefix + key
}

// Get retrieves the raw value and its remaining expiry in one round trip,
// reconstructing a CacheEntry around them. Absent keys miss; command
// failures count toward disconnection and surface as errors for the
// orchestrator to degrade.
func (t *SharedTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	if !t.connected.Load() {
		return nil, types.ErrSharedUnavailable
	}

	prefixed := t.prefixKey(key)

	pipe := t.client.Pipeline()
	getCmd := pipe.Get(ctx, prefixed)
	ttlCmd := pipe.PTTL(ctx, prefixed)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			t.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
		t.handleError(err)
		return nil, types.NewCacheError("get", key, "shared", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		t.handleError(err)
		return nil, types.NewCacheError("get", key, "shared", err)
	}

	// PTTL returns a negative duration when the key has no expiry.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	t.hits.Add(1)
	t.clearError()

	now := time.Now()
	return &types.CacheEntry{
		Key:         key,
		Value:       data,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 1,
		TTL:         ttl,
		SizeBytes:   int64(len(data)),
		Tier:        types.TierShared,
	}, nil
}

// Set stores the entry's raw value under the prefixed key. Expiry is
// delegated to the server: a positive TTL maps to SET with expiration, a
// zero TTL stores without one.
func (t *SharedTier) Set(ctx context.Context, entry *types.CacheEntry) error {
	if !t.connected.Load() {
		return types.ErrSharedUnavailable
	}

	var ttl time.Duration
	if entry.TTL > 0 {
		ttl = entry.TTL
	}

	if err := t.client.Set(ctx, t.prefixKey(entry.Key), entry.Value, ttl).Err(); err != nil {
		t.handleError(err)
		return types.NewCacheError("set", entry.Key, "shared", err)
	}

	t.sets.Add(1)
	t.clearError()
	return nil
}

// Delete removes the key; the bool reports whether it existed.
func (t *SharedTier) Delete(ctx context.Context, key string) (bool, error) {
	if !t.connected.Load() {
		return false, types.ErrSharedUnavailable
	}

	removed, err := t.client.Del(ctx, t.prefixKey(key)).Result()
	if err != nil {
		t.handleError(err)
		return false, types.NewCacheError("delete", key, "shared", err)
	}

	if removed > 0 {
		t.deletes.Add(removed)
	}
	t.clearError()
	return removed > 0, nil
}

// DeleteMany removes a batch of keys in a single command and returns how
// many existed.
func (t *SharedTier) DeleteMany(ctx context.Context, keys ...string) (int, error) {
	if !t.connected.Load() {
		return 0, types.ErrSharedUnavailable
	}
	if len(keys) == 0 {
		return 0, nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = t.prefixKey(key)
	}

	removed, err := t.client.Del(ctx, prefixed...).Result()
	if err != nil {
		t.handleError(err)
		return 0, types.NewCacheError("delete_many", "", "shared", err)
	}

	t.deletes.Add(removed)
	t.clearError()
	return int(removed), nil
}

// Exists reports whether the key is present.
func (t *SharedTier) Exists(ctx context.Context, key string) (bool, error) {
	if !t.connected.Load() {
		return false, types.ErrSharedUnavailable
	}

	n, err := t.client.Exists(ctx, t.prefixKey(key)).Result()
	if err != nil {
		t.handleError(err)
		return false, types.NewCacheError("exists", key, "shared", err)
	}

	t.clearError()
	return n > 0, nil
}

// Contains reports presence, satisfying the tier reader contract.
func (t *SharedTier) Contains(ctx context.Context, key string) (bool, error) {
	return t.Exists(ctx, key)
}

// Keys returns the unprefixed keys matching the glob pattern, collected
// via cursor scans so large keyspaces never block the server.
func (t *SharedTier) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !t.connected.Load() {
		return nil, types.ErrSharedUnavailable
	}

	fullPattern := t.prefixKey(pattern)
	prefixLen := len(t.config.KeyPrefix)

	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, fullPattern, sharedScanBatch).Result()
		if err != nil {
			t.handleError(err)
			return nil, types.NewCacheError("keys", pattern, "shared", err)
		}
		for _, k := range keys {
			if len(k) >= prefixLen {
				out = append(out, k[prefixLen:])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	t.clearError()
	return out, nil
}

// DeletePattern removes all keys matching the glob pattern and returns
// how many were deleted.
func (t *SharedTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if !t.connected.Load() {
		return 0, types.ErrSharedUnavailable
	}

	deleted, err := t.deleteByPattern(ctx, t.prefixKey(pattern))
	if err != nil {
		return 0, err
	}

	t.logger.Debug("deleted keys by pattern", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}

// Clear removes every key under this tier's prefix. Keys outside the
// prefix are untouched, so multiple applications can share one server.
func (t *SharedTier) Clear(ctx context.Context) error {
	if !t.connected.Load() {
		return types.ErrSharedUnavailable
	}

	_, err := t.deleteByPattern(ctx, t.prefixKey("*"))
	return err
}

func (t *SharedTier) deleteByPattern(ctx context.Context, fullPattern string) (int, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, fullPattern, sharedScanBatch).Result()
		if err != nil {
			t.handleError(err)
			return 0, types.NewCacheError("delete_pattern", fullPattern, "shared", err)
		}

		if len(keys) > 0 {
			n, err := t.client.Del(ctx, keys...).Result()
			if err != nil {
				t.handleError(err)
				return 0, types.NewCacheError("delete_pattern", fullPattern, "shared", err)
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	t.deletes.Add(deleted)
	t.clearError()
	return int(deleted), nil
}

// Ping checks server reachability regardless of the connected flag, so
// health probes can detect recovery.
func (t *SharedTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *SharedTier) healthCheckWorker() {
	defer t.healthCheckWg.Done()

	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.healthCheckStopCh:
			return
		case <-ticker.C:
			t.performHealthCheck()
		}
	}
}

func (t *SharedTier) performHealthCheck() {
	wasConnected := t.connected.Load()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.DialTimeout)
	defer cancel()

	if err := t.client.Ping(ctx).Err(); err != nil {
		if wasConnected {
			t.logger.Warn("shared store health check failed", "error", err)
			t.setError(err)
		}
		return
	}

	if !wasConnected {
		t.connected.Store(true)
		t.errorCount.Store(0)
		t.logger.Info("shared store connection restored via health check")
	}
}

// LastError returns the most recent command error and when it happened.
func (t *SharedTier) LastError() (error, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError, t.lastErrorTime
}

// Close stops the health check worker and releases the client pool.
func (t *SharedTier) Close() error {
	t.connected.Store(false)

	close(t.healthCheckStopCh)
	t.healthCheckWg.Wait()

	return t.client.Close()
}

// Stats reports counters for this tier. The entry count is left at zero:
// counting prefixed keys would require a full scan per stats call.
func (t *SharedTier) Stats() types.TierStats {
	return types.TierStats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Sets:      t.sets.Load(),
		Deletes:   t.deletes.Load(),
		Errors:    t.errors.Load(),
		Available: t.connected.Load(),
	}
}

// ResetStats zeroes the tier's counters.
func (t *SharedTier) ResetStats() {
	t.hits.Store(0)
	t.misses.Store(0)
	t.sets.Store(0)
	t.deletes.Store(0)
	t.errors.Store(0)
}

func (t *SharedTier) handleError(err error) {
	t.mu.Lock()
	t.lastError = err
	t.lastErrorTime = time.Now()
	t.mu.Unlock()

	t.errors.Add(1)
	count := t.errorCount.Add(1)

	if count >= disconnectErrorThreshold {
		if t.connected.CompareAndSwap(true, false) {
			t.logger.Warn("shared store marked as disconnected after errors",
				"error_count", count,
				"last_error", err,
			)
		}
	}
}

func (t *SharedTier) clearError() {
	if t.errorCount.Swap(0) > 0 {
		if t.connected.CompareAndSwap(false, true) {
			t.logger.Info("shared store connection restored")
		}
	}
}

func (t *SharedTier) setError(err error) {
	t.mu.Lock()
	t.lastError = err
	t.lastErrorTime = time.Now()
	t.mu.Unlock()
	t.connected.Store(false)
}

var (
	_ types.SharedStore    = (*SharedTier)(nil)
	_ types.PatternDeleter = (*SharedTier)(nil)
)
