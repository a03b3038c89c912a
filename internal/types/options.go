package types

import (
	"log/slog"
	"time"
)

// CacheOptions carries per-operation options. Zero values mean "unset":
// TTL falls back to the key-type's default and Strategy to the operation's
// default (lazy for gets, write-through for sets).
type CacheOptions struct {
	TTL      time.Duration
	Strategy WriteStrategy
}

// StrategyOrDefault resolves the effective strategy for an operation.
func (o *CacheOptions) StrategyOrDefault(def WriteStrategy) WriteStrategy {
	if o == nil || o.Strategy == 0 {
		return def
	}
	return o.Strategy
}

// TTLOrDefault resolves the effective TTL for an operation.
func (o *CacheOptions) TTLOrDefault(def time.Duration) time.Duration {
	if o == nil || o.TTL == 0 {
		return def
	}
	return o.TTL
}

// Option is a functional option for configuring cache operations.
type Option func(*CacheOptions)

// WithTTL overrides the key-type's default TTL for this operation.
func WithTTL(ttl time.Duration) Option {
	return func(o *CacheOptions) {
		o.TTL = ttl
	}
}

// WithStrategy overrides the operation's default write strategy.
func WithStrategy(strategy WriteStrategy) Option {
	return func(o *CacheOptions) {
		o.Strategy = strategy
	}
}

// ApplyOptions applies functional options to create CacheOptions.
func ApplyOptions(opts ...Option) *CacheOptions {
	options := &CacheOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ManagerOptions holds construction-time dependencies for the cache
// manager.
type ManagerOptions struct {
	// Logger is the structured logger to use. Nil defaults to slog.Default.
	Logger *slog.Logger

	// Metrics is the metrics recorder. Nil means the facade picks one.
	Metrics MetricsRecorder

	// Publisher overrides the external metrics publisher built from
	// config. Consumed by the facade, not the manager.
	Publisher Publisher

	// SharedStore overrides the Redis-backed shared tier, mainly for tests.
	SharedStore SharedStore

	// SharedAddress overrides the shared store address from config.
	SharedAddress string

	// SharedPassword overrides the shared store password from config.
	// Uses SecretString to prevent accidental logging of sensitive values.
	SharedPassword SecretString

	// SharedDB overrides the shared store database from config.
	SharedDB int

	// KeyTypes registers additional key-type policies on top of the
	// configured ones. Entries here win on name collisions.
	KeyTypes map[string]KeyTypeConfig

	// DisableShared disables the shared tier entirely.
	DisableShared bool

	// DisableDisk disables the disk tier entirely.
	DisableDisk bool
}
