package strata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quarrylabs/strata/internal/cache"
	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/health"
	"github.com/quarrylabs/strata/internal/metrics"
	"github.com/quarrylabs/strata/internal/metrics/datadog"
	"github.com/quarrylabs/strata/internal/resilience"
	"github.com/quarrylabs/strata/internal/types"
)

// Memory utilization thresholds for the built-in health probe. Above the
// first the memory tier reports degraded, above the second unhealthy.
const (
	memoryDegradedAt  = 0.90
	memoryUnhealthyAt = 0.99
)

// snapshotPingTimeout bounds the shared-store connectivity probe when the
// background publisher assembles a snapshot.
const snapshotPingTimeout = 2 * time.Second

// New creates a cache with the default configuration: a 64 MB memory
// tier, a disk tier under the OS temp directory, and the shared tier
// disabled. Options override individual settings.
func New(opts ...ManagerOption) (Cache, error) {
	return NewFromConfig(config.DefaultConfig(), opts...)
}

// NewFromConfig creates a cache from an explicit configuration, typically
// one obtained from Config and adjusted.
func NewFromConfig(cfg *config.Config, opts ...ManagerOption) (Cache, error) {
	managerOpts := &ManagerOptions{}
	for _, opt := range opts {
		opt(managerOpts)
	}
	return build(cfg, managerOpts)
}

// NewFromFile creates a cache from a JSON configuration file with
// environment overrides applied. A missing file yields the defaults.
func NewFromFile(path string, opts ...ManagerOption) (Cache, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewMemoryOnly creates a cache with only the memory tier. Useful for
// tests and for processes that cannot touch disk or the network.
func NewMemoryOnly(opts ...ManagerOption) (Cache, error) {
	cfg := config.DefaultConfig()
	cfg.Shared.Enabled = false
	cfg.Disk.Enabled = false
	return NewFromConfig(cfg, opts...)
}

// Config returns the default configuration for callers to adjust before
// passing to NewFromConfig.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a minimal configuration for unit tests: a 1 MB
// memory tier, shared and disk tiers disabled, fast retries, and no
// background loops.
func TestConfig() *config.Config {
	return config.ForTesting()
}

// NewHealthAggregator creates a standalone health aggregator with no
// probes registered, for callers composing their own checks outside a
// cache instance.
func NewHealthAggregator(cfg *config.Config, logger *slog.Logger) *HealthAggregator {
	return health.NewAggregator(cfg.Health, logger)
}

// NewReliabilityExecutor creates a standalone reliability executor for
// wrapping arbitrary dependency calls. recorder may be nil.
func NewReliabilityExecutor(cfg *config.Config, logger *slog.Logger, recorder MetricsRecorder) *ReliabilityExecutor {
	return resilience.NewExecutor(resilience.NewRegistry(cfg, logger, recorder))
}

// PingProbe adapts a ping function into a health probe: healthy on nil,
// unhealthy otherwise.
func PingProbe(ping func(ctx context.Context) error) Probe {
	return health.PingProbe(ping)
}

// DirWritableProbe reports healthy while the directory accepts writes.
func DirWritableProbe(dir string) Probe {
	return health.DirWritableProbe(dir)
}

// MemoryUtilizationProbe grades a utilization reading against degraded
// and unhealthy thresholds.
func MemoryUtilizationProbe(utilization func() float64, degradedAt, unhealthyAt float64) Probe {
	return health.MemoryUtilizationProbe(utilization, degradedAt, unhealthyAt)
}

// ProbeFromError adapts a check function into a probe: healthy on nil,
// unhealthy otherwise, with the error attached to the result.
func ProbeFromError(check func(ctx context.Context) error) Probe {
	return health.FromError(check)
}

// WithProbeTimeout caps one probe's run time, overriding the aggregator's
// default.
func WithProbeTimeout(timeout time.Duration) RegisterOption {
	return health.WithTimeout(timeout)
}

// CriticalProbe marks a probe as critical: when it fails, the overall
// verdict is unhealthy rather than degraded.
func CriticalProbe() RegisterOption {
	return health.Critical()
}

// client wires the cache manager together with the metrics tracker, the
// statsd publisher, the health aggregator, and the reliability executor.
type client struct {
	manager    *cache.Manager
	tracker    *metrics.Tracker
	publisher  types.Publisher
	background *metrics.BackgroundPublisher
	health     *health.Aggregator
	executor   *resilience.Executor
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Cache = (*client)(nil)

func build(cfg *config.Config, managerOpts *ManagerOptions) (Cache, error) {
	logger := managerOpts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The built-in tracker feeds Snapshot and the background publisher.
	// A caller-supplied recorder replaces it wholesale.
	var tracker *metrics.Tracker
	if managerOpts.Metrics == nil {
		tracker = metrics.NewTracker()
		managerOpts.Metrics = tracker
	}

	manager, err := cache.NewManager(cfg, managerOpts)
	if err != nil {
		return nil, err
	}

	publisher := managerOpts.Publisher
	if publisher == nil {
		publisher, err = datadog.NewPublisher(&cfg.Metrics.DataDog, logger)
		if err != nil {
			return nil, errors.Join(err, manager.Close())
		}
	}

	c := &client{
		manager:   manager,
		tracker:   tracker,
		publisher: publisher,
		executor:  resilience.NewExecutor(resilience.NewRegistry(cfg, logger, managerOpts.Metrics)),
		health:    health.NewAggregator(cfg.Health, logger),
		logger:    logger,
	}
	c.registerBuiltinProbes()

	// Background publishing only runs when there is a real backend to
	// publish to.
	hasBackend := managerOpts.Publisher != nil || cfg.Metrics.DataDog.Enabled
	if cfg.Metrics.Enabled && hasBackend {
		c.background = metrics.NewBackgroundPublisher(publisher, cfg.Metrics.PublishInterval, c.backgroundSnapshot, logger)
		c.background.Start(context.Background())
	}
	if cfg.Health.Enabled {
		c.health.Start(context.Background())
	}

	return c, nil
}

// registerBuiltinProbes adds one probe per active tier. None are
// critical: the cache degrades rather than fails when a tier goes away,
// so a down tier should read as degraded, not unhealthy.
func (c *client) registerBuiltinProbes() {
	c.health.Register("memory", health.MemoryUtilizationProbe(func() float64 {
		return c.manager.MemoryStats().Utilization
	}, memoryDegradedAt, memoryUnhealthyAt))

	if c.manager.HasShared() {
		c.health.Register("shared", health.PingProbe(c.manager.SharedPing))
	}
	if dir := c.manager.DiskDirectory(); dir != "" {
		c.health.Register("disk", health.DirWritableProbe(dir))
	}
}

func (c *client) Get(ctx context.Context, key, keyType string, dest any, opts ...Option) error {
	return c.manager.Get(ctx, key, keyType, dest, opts...)
}

func (c *client) Set(ctx context.Context, key, keyType string, value any, opts ...Option) error {
	return c.manager.Set(ctx, key, keyType, value, opts...)
}

func (c *client) GetOrSet(ctx context.Context, key, keyType string, dest any, producer func(ctx context.Context) (any, error), opts ...Option) error {
	return c.manager.GetOrSet(ctx, key, keyType, dest, producer, opts...)
}

func (c *client) Delete(ctx context.Context, key, keyType string) (bool, error) {
	return c.manager.Delete(ctx, key, keyType)
}

func (c *client) Contains(ctx context.Context, key, keyType string) (bool, error) {
	return c.manager.Contains(ctx, key, keyType)
}

func (c *client) InvalidatePattern(ctx context.Context, pattern, keyType string) (int, error) {
	return c.manager.InvalidatePattern(ctx, pattern, keyType)
}

func (c *client) ClearAll(ctx context.Context) error {
	return c.manager.ClearAll(ctx)
}

func (c *client) Stats() CacheStats {
	return c.manager.Stats()
}

func (c *client) Snapshot(ctx context.Context) MetricsSnapshot {
	var s types.MetricsSnapshot
	if c.tracker != nil {
		s = c.tracker.Snapshot()
	} else {
		s.Timestamp = time.Now()
	}

	mem := c.manager.MemoryStats()
	s.MemoryEntries = mem.Entries
	s.MemorySizeBytes = mem.SizeBytes
	s.MemoryMaxBytes = mem.MaxSizeBytes
	s.MemoryUtilization = mem.Utilization

	if c.manager.HasShared() {
		s.SharedConnected = c.manager.SharedPing(ctx) == nil
	}

	return s
}

// backgroundSnapshot is the snapshot source for the background publisher.
func (c *client) backgroundSnapshot() *types.MetricsSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotPingTimeout)
	defer cancel()

	s := c.Snapshot(ctx)
	return &s
}

func (c *client) Health(ctx context.Context) OverallHealth {
	c.health.CheckAll(ctx)
	return c.health.Overall()
}

func (c *client) IsHealthy(ctx context.Context) bool {
	status := c.Health(ctx).Status
	return status == types.HealthStatusHealthy || status == types.HealthStatusDegraded
}

func (c *client) IsSharedAvailable(ctx context.Context) bool {
	return c.manager.SharedPing(ctx) == nil
}

func (c *client) Reliable() *ReliabilityExecutor {
	return c.executor
}

func (c *client) HealthChecks() *HealthAggregator {
	return c.health
}

// Close stops the health loop and the background publisher (which ships
// one final snapshot), closes the publisher, and shuts down the manager.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.health.Stop()
		if c.background != nil {
			c.background.Stop()
		}

		var errs []error
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.manager.Close(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
