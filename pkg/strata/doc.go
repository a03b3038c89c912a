// Package strata is a multi-tier caching and reliability layer for
// multi-tenant service backends. It layers a fast in-process memory
// cache over a shared Redis tier and a compressed disk tier, routes
// values between them by key-type policy, and wraps calls to flaky
// dependencies with circuit breakers, retries, and bulkheads.
//
// # Tiers
//
// Values live in up to three tiers, checked fastest-first on every read:
//
//   - Memory: an in-process LRU bounded by total bytes. Always on.
//   - Shared: a Redis store visible to every process. Optional.
//   - Disk: compressed files under a cache directory. Optional.
//
// A tier that is down never fails a read; the lookup falls through to
// the next tier and a full fall-through is an ordinary cache miss. Reads
// that hit a slow tier can promote the value to faster tiers.
//
// # Key-types
//
// Every operation names a key-type, which selects the caching policy:
// the primary (deepest) tier, the default TTL, the serialization mode,
// and an optional per-value size cap. The default configuration ships
// three: "thumbnails" (disk-primary, raw bytes, compressed), "metadata"
// (shared-primary, JSON), and "api_responses" (memory-only, JSON).
// Unknown key-types fall back to the configured defaults, and WithKeyType
// registers new ones at construction time.
//
// # Quick start
//
//	c, err := strata.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	user := User{ID: 42, Name: "Ada"}
//	if err := c.Set(ctx, "user:42", "metadata", user); err != nil {
//		log.Fatal(err)
//	}
//
//	var got User
//	switch err := c.Get(ctx, "user:42", "metadata", &got); {
//	case err == nil:
//		// hit
//	case strata.IsCacheMiss(err):
//		// miss: compute and Set, or use GetOrSet
//	default:
//		log.Fatal(err)
//	}
//
// GetOrSet collapses the miss-then-fill pattern (producers must be
// idempotent, since concurrent misses may each run one):
//
//	var profile Profile
//	err := c.GetOrSet(ctx, "profile:42", "metadata", &profile,
//		func(ctx context.Context) (any, error) {
//			return loadProfile(ctx, 42)
//		})
//
// # Write strategies
//
// Sets default to write-through: every tier within the key-type's reach
// is populated synchronously. WithStrategy overrides per call:
//
//	c.Set(ctx, key, "thumbnails", data, strata.WithStrategy(strata.StrategyWriteBack))
//
// StrategyLazy writes the primary tier only, StrategyWriteBack returns
// after the fastest tier and fills the rest in the background.
//
// # Reliability
//
// Reliable returns an executor that wraps dependency calls per service
// name. Each service gets its own circuit breaker, retry policy, and
// bulkhead, created on first use from the configuration:
//
//	err := c.Reliable().Do(ctx, "billing-api", func(ctx context.Context) error {
//		return billing.Sync(ctx)
//	})
//	if strata.IsCircuitOpen(err) {
//		// billing-api is failing; back off
//	}
//
// # Health
//
// Each active tier registers a built-in health probe, and callers can add
// their own through HealthChecks. Health runs every probe and aggregates:
// a down shared or disk tier reads as degraded because the cache keeps
// working without it, while IsHealthy answers the coarse "can I use
// this" question.
//
// # Configuration
//
// New uses defaults, NewFromConfig takes a programmatic configuration,
// and NewFromFile loads a JSON file with STRATA_* environment overrides:
//
//	cfg := strata.Config()
//	cfg.Shared.Enabled = true
//	cfg.Shared.Address = "redis:6379"
//	c, err := strata.NewFromConfig(cfg, strata.WithLogger(logger))
//
// When metrics publishing is enabled, a background goroutine ships a
// counters snapshot to the DataDog agent every publish interval, and
// Close flushes one final snapshot.
//
// # Concurrency
//
// All methods on Cache are safe for concurrent use. The memory tier
// serializes access internally; the shared and disk tiers rely on their
// backing stores.
package strata
