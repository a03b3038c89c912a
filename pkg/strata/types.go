package strata

import (
	"github.com/quarrylabs/strata/internal/health"
	"github.com/quarrylabs/strata/internal/resilience"
	"github.com/quarrylabs/strata/internal/types"
)

// Core cache types, re-exported so callers never import internal packages.
type (
	Tier              = types.Tier
	WriteStrategy     = types.WriteStrategy
	SerializationMode = types.SerializationMode
	KeyTypeConfig     = types.KeyTypeConfig
	CacheOptions      = types.CacheOptions
	CacheStats        = types.CacheStats
	TierStats         = types.TierStats
	OperationStats    = types.OperationStats
	SecretString      = types.SecretString
	SharedStore       = types.SharedStore
)

// Cache tiers, fastest to slowest. A key-type's primary tier bounds how
// deep its values are stored: memory-primary values live only in memory,
// disk-primary values may occupy all three tiers.
const (
	TierMemory = types.TierMemory
	TierShared = types.TierShared
	TierDisk   = types.TierDisk
)

// Write strategies. Lazy writes the primary tier only, write-through
// populates every tier within reach synchronously, and write-back returns
// after the fastest tier and propagates to the rest in the background.
const (
	StrategyLazy         = types.StrategyLazy
	StrategyWriteThrough = types.StrategyWriteThrough
	StrategyWriteBack    = types.StrategyWriteBack
)

// Serialization modes for key-type values.
const (
	SerializationJSON = types.SerializationJSON
	SerializationRaw  = types.SerializationRaw
)

// NewSecretString wraps a credential so it cannot leak through logs or
// formatted output.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Observability types.
type (
	MetricsRecorder = types.MetricsRecorder
	MetricsSnapshot = types.MetricsSnapshot
	Publisher       = types.Publisher
)

// Health types.
type (
	HealthStatus      = types.HealthStatus
	HealthCheckResult = types.HealthCheckResult
	HealthSummary     = types.HealthSummary
	OverallHealth     = types.OverallHealth
	HealthAggregator  = health.Aggregator
	Probe             = health.Probe
	RegisterOption    = health.RegisterOption
)

// Health verdicts, ordered from best to worst.
const (
	HealthStatusUnknown   = types.HealthStatusUnknown
	HealthStatusHealthy   = types.HealthStatusHealthy
	HealthStatusDegraded  = types.HealthStatusDegraded
	HealthStatusUnhealthy = types.HealthStatusUnhealthy
)

// Reliability types. The executor wraps calls to flaky dependencies with
// circuit breaking, retries, and bulkhead admission control.
type (
	ReliabilityExecutor = resilience.Executor
	ReliabilityRegistry = resilience.Registry
	BreakerStats        = resilience.BreakerStats
	RetryStats          = resilience.RetryStats
	BulkheadStats       = resilience.BulkheadStats
)
