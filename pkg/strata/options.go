package strata

import (
	"log/slog"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// Option tunes a single cache operation.
type Option = types.Option

// ManagerOptions collects construction-time overrides. Most callers use
// the ManagerOption helpers below instead of filling this in directly.
type ManagerOptions = types.ManagerOptions

// WithTTL overrides the key-type's default TTL for one operation. Zero
// or negative means "never expires".
func WithTTL(ttl time.Duration) Option {
	return func(o *CacheOptions) {
		o.TTL = ttl
	}
}

// WithStrategy overrides the write strategy for one operation.
func WithStrategy(strategy WriteStrategy) Option {
	return func(o *CacheOptions) {
		o.Strategy = strategy
	}
}

// ManagerOption configures the cache at construction time.
type ManagerOption func(*ManagerOptions)

// WithLogger routes the cache's structured logs through the given logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *ManagerOptions) {
		o.Logger = logger
	}
}

// WithMetricsRecorder replaces the built-in metrics tracker. Snapshot
// returns only occupancy and connectivity when the built-in tracker is
// replaced, since counters then live in the caller's recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ManagerOption {
	return func(o *ManagerOptions) {
		o.Metrics = recorder
	}
}

// WithPublisher replaces the DataDog statsd publisher with a custom
// metrics backend.
func WithPublisher(publisher Publisher) ManagerOption {
	return func(o *ManagerOptions) {
		o.Publisher = publisher
	}
}

// WithSharedStore injects a shared-tier store, bypassing the Redis client
// the configuration would build. Intended for tests and custom backends.
func WithSharedStore(store SharedStore) ManagerOption {
	return func(o *ManagerOptions) {
		o.SharedStore = store
	}
}

// WithSharedAddress overrides the shared store's host:port.
func WithSharedAddress(addr string) ManagerOption {
	return func(o *ManagerOptions) {
		o.SharedAddress = addr
	}
}

// WithSharedPassword overrides the shared store's password.
func WithSharedPassword(password string) ManagerOption {
	return func(o *ManagerOptions) {
		o.SharedPassword = NewSecretString(password)
	}
}

// WithSharedDB overrides the shared store's database number.
func WithSharedDB(db int) ManagerOption {
	return func(o *ManagerOptions) {
		o.SharedDB = db
	}
}

// WithKeyType registers a key-type policy, overriding any configured
// key-type with the same name.
func WithKeyType(name string, cfg KeyTypeConfig) ManagerOption {
	return func(o *ManagerOptions) {
		if o.KeyTypes == nil {
			o.KeyTypes = make(map[string]KeyTypeConfig)
		}
		o.KeyTypes[name] = cfg
	}
}

// WithoutShared disables the shared tier regardless of configuration.
func WithoutShared() ManagerOption {
	return func(o *ManagerOptions) {
		o.DisableShared = true
	}
}

// WithoutDisk disables the disk tier regardless of configuration.
func WithoutDisk() ManagerOption {
	return func(o *ManagerOptions) {
		o.DisableDisk = true
	}
}
