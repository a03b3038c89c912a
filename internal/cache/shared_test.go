package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

// newTestSharedTier starts an in-process Redis-compatible server and a
// tier pointed at it. The server's clock only advances via FastForward,
// so TTL expiry is tested without sleeping.
func newTestSharedTier(t *testing.T) (*SharedTier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.SharedConfig{
		Enabled:      true,
		Address:      mr.Addr(),
		KeyPrefix:    "strata:test:",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
		PoolSize:     5,
		MinIdleConns: 1,
	}

	tier, err := NewSharedTier(cfg, nil)
	require.NoError(t, err)
	require.True(t, tier.IsAvailable())
	t.Cleanup(func() { tier.Close() })

	return tier, mr
}

func TestSharedTierName(t *testing.T) {
	tier, _ := newTestSharedTier(t)
	assert.Equal(t, "shared", tier.Name())
}

func TestSharedTierGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns cache miss for non-existent key", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		_, err := tier.Get(ctx, "non-existent")
		assert.ErrorIs(t, err, types.ErrCacheMiss)
	})

	t.Run("retrieves previously set value", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)
		value := []byte(`{"name":"test"}`)

		err := tier.Set(ctx, testEntry("key1", value, 5*time.Minute))
		require.NoError(t, err)

		got, err := tier.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, value, got.Value)
		assert.Equal(t, "key1", got.Key)
		assert.Equal(t, types.TierShared, got.Tier)
	})

	t.Run("reports remaining TTL not the original", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		err := tier.Set(ctx, testEntry("ttl-key", []byte("v"), 10*time.Second))
		require.NoError(t, err)

		mr.FastForward(4 * time.Second)

		got, err := tier.Get(ctx, "ttl-key")
		require.NoError(t, err)
		assert.Greater(t, got.TTL, time.Duration(0))
		assert.LessOrEqual(t, got.TTL, 6*time.Second)
	})

	t.Run("zero TTL entry has no expiry", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		err := tier.Set(ctx, testEntry("forever", []byte("v"), 0))
		require.NoError(t, err)

		mr.FastForward(24 * time.Hour)

		got, err := tier.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), got.TTL)
	})

	t.Run("expired key is a miss", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		err := tier.Set(ctx, testEntry("short", []byte("v"), time.Second))
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		_, err = tier.Get(ctx, "short")
		assert.ErrorIs(t, err, types.ErrCacheMiss)
	})

	t.Run("fails fast when disconnected", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)
		tier.connected.Store(false)

		_, err := tier.Get(ctx, "key")
		assert.ErrorIs(t, err, types.ErrSharedUnavailable)
	})
}

func TestSharedTierSet(t *testing.T) {
	ctx := context.Background()

	t.Run("applies native expiry", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		err := tier.Set(ctx, testEntry("expiring", []byte("v"), 5*time.Minute))
		require.NoError(t, err)

		assert.Equal(t, 5*time.Minute, mr.TTL("strata:test:expiring"))
	})

	t.Run("overwrites existing value", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		require.NoError(t, tier.Set(ctx, testEntry("key1", []byte("value1"), 0)))
		require.NoError(t, tier.Set(ctx, testEntry("key1", []byte("value2"), 0)))

		got, err := tier.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value2"), got.Value)
	})

	t.Run("fails fast when disconnected", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)
		tier.connected.Store(false)

		err := tier.Set(ctx, testEntry("key", []byte("v"), 0))
		assert.ErrorIs(t, err, types.ErrSharedUnavailable)
	})
}

func TestSharedTierDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing key", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		require.NoError(t, tier.Set(ctx, testEntry("key1", []byte("v"), 0)))

		ok, err := tier.Delete(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = tier.Get(ctx, "key1")
		assert.ErrorIs(t, err, types.ErrCacheMiss)
	})

	t.Run("reports false for non-existent key", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		ok, err := tier.Delete(ctx, "non-existent")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSharedTierDeleteMany(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes batch and reports count", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, tier.Set(ctx, testEntry(key, []byte("v"), 0)))
		}

		n, err := tier.DeleteMany(ctx, "a", "b", "c", "missing")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		n, err := tier.DeleteMany(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSharedTierExists(t *testing.T) {
	ctx := context.Background()
	tier, _ := newTestSharedTier(t)

	require.NoError(t, tier.Set(ctx, testEntry("key1", []byte("v"), 0)))

	exists, err := tier.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = tier.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	// Contains is the tier-interface alias for Exists.
	exists, err = tier.Contains(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSharedTierKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("returns unprefixed keys matching pattern", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		for _, key := range []string{"user:1", "user:2", "session:abc"} {
			require.NoError(t, tier.Set(ctx, testEntry(key, []byte("v"), 0)))
		}

		keys, err := tier.Keys(ctx, "user:*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
	})

	t.Run("ignores keys outside the prefix", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		require.NoError(t, tier.Set(ctx, testEntry("user:1", []byte("v"), 0)))
		require.NoError(t, mr.Set("other:user:2", "foreign"))

		keys, err := tier.Keys(ctx, "user:*")
		require.NoError(t, err)
		assert.Equal(t, []string{"user:1"}, keys)
	})
}

func TestSharedTierDeletePattern(t *testing.T) {
	ctx := context.Background()
	tier, _ := newTestSharedTier(t)

	testKeys := []string{
		"user:1:profile",
		"user:2:profile",
		"user:3:profile",
		"session:abc",
		"session:def",
	}
	for _, key := range testKeys {
		require.NoError(t, tier.Set(ctx, testEntry(key, []byte("v"), 0)))
	}

	deleted, err := tier.DeletePattern(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	for _, key := range testKeys[:3] {
		_, err := tier.Get(ctx, key)
		assert.ErrorIs(t, err, types.ErrCacheMiss, "key %s should be cleared", key)
	}
	for _, key := range testKeys[3:] {
		_, err := tier.Get(ctx, key)
		assert.NoError(t, err, "key %s should still exist", key)
	}
}

func TestSharedTierClear(t *testing.T) {
	ctx := context.Background()
	tier, mr := newTestSharedTier(t)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, tier.Set(ctx, testEntry(key, []byte("v"), 0)))
	}
	require.NoError(t, mr.Set("foreign-key", "keep me"))

	require.NoError(t, tier.Clear(ctx))

	for _, key := range []string{"a", "b", "c"} {
		_, err := tier.Get(ctx, key)
		assert.ErrorIs(t, err, types.ErrCacheMiss)
	}

	// Keys outside the tier's prefix belong to someone else.
	assert.True(t, mr.Exists("foreign-key"))
}

func TestSharedTierDisconnection(t *testing.T) {
	ctx := context.Background()

	t.Run("marks disconnected after consecutive errors", func(t *testing.T) {
		tier, mr := newTestSharedTier(t)

		mr.Close()

		for i := 0; i < disconnectErrorThreshold; i++ {
			_, err := tier.Get(ctx, "key")
			require.Error(t, err)
			assert.NotErrorIs(t, err, types.ErrSharedUnavailable)
		}

		assert.False(t, tier.IsAvailable())

		// Past the threshold calls fail fast without touching the network.
		_, err := tier.Get(ctx, "key")
		assert.ErrorIs(t, err, types.ErrSharedUnavailable)

		lastErr, at := tier.LastError()
		assert.Error(t, lastErr)
		assert.False(t, at.IsZero())
	})

	t.Run("health check restores connection after recovery", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		tier.connected.Store(false)
		assert.False(t, tier.IsAvailable())

		tier.performHealthCheck()

		assert.True(t, tier.IsAvailable())
	})

	t.Run("ping bypasses the connected gate", func(t *testing.T) {
		tier, _ := newTestSharedTier(t)

		tier.connected.Store(false)
		assert.NoError(t, tier.Ping(ctx))
	})
}

func TestSharedTierStartsDisconnected(t *testing.T) {
	cfg := config.SharedConfig{
		Enabled:     true,
		Address:     "localhost:59999",
		KeyPrefix:   "strata:test:",
		DialTimeout: 100 * time.Millisecond,
	}

	tier, err := NewSharedTier(cfg, nil)
	require.NoError(t, err, "an unreachable store must not fail construction")
	defer tier.Close()

	assert.False(t, tier.IsAvailable())

	_, err = tier.Get(context.Background(), "key")
	assert.ErrorIs(t, err, types.ErrSharedUnavailable)
}

func TestSharedTierHealthCheckWorker(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.SharedConfig{
		Enabled:             true,
		Address:             mr.Addr(),
		KeyPrefix:           "strata:test:",
		DialTimeout:         time.Second,
		HealthCheckInterval: 20 * time.Millisecond,
	}

	tier, err := NewSharedTier(cfg, nil)
	require.NoError(t, err)

	// Let the worker run a few cycles, then verify Close does not hang.
	time.Sleep(70 * time.Millisecond)
	assert.NoError(t, tier.Close())
}

func TestSharedTierStats(t *testing.T) {
	ctx := context.Background()
	tier, _ := newTestSharedTier(t)

	require.NoError(t, tier.Set(ctx, testEntry("key1", []byte("v"), 0)))
	_, _ = tier.Get(ctx, "key1")
	_, _ = tier.Get(ctx, "missing")
	_, _ = tier.Delete(ctx, "key1")

	stats := tier.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Deletes)
	assert.True(t, stats.Available)

	tier.ResetStats()
	stats = tier.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Sets)
}
