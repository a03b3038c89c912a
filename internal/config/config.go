// Package config provides configuration management for strata.
package config

import (
	"fmt"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// SecretString is a string type that redacts its value when marshaled to JSON.
type SecretString = types.SecretString

// NewSecretString creates a new SecretString with the provided value.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Config contains all configuration for the strata cache manager and its
// reliability layer.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Memory         MemoryConfig               `json:"memory"`
	Shared         SharedConfig               `json:"shared"`
	Disk           DiskConfig                 `json:"disk"`
	Defaults       DefaultsConfig             `json:"defaults"`
	KeyTypes       map[string]KeyTypeSettings `json:"keyTypes"`
	CircuitBreaker CircuitBreakerConfig       `json:"circuitBreaker"`
	Retry          RetryConfig                `json:"retry"`
	Bulkhead       BulkheadConfig             `json:"bulkhead"`
	Health         HealthConfig               `json:"health"`
	Metrics        MetricsConfig              `json:"metrics"`
	KeyValidation  KeyValidationConfig        `json:"keyValidation"`
}

// MemoryConfig contains configuration for the in-process memory tier.
type MemoryConfig struct {
	MaxSizeMB  int           `json:"maxSizeMB"`
	DefaultTTL time.Duration `json:"defaultTTL"`
}

// MaxSizeBytes returns the memory budget in bytes.
func (c MemoryConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// SharedConfig contains configuration for the shared key-value tier.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type SharedConfig struct {
	DialTimeout         time.Duration `json:"dialTimeout"`
	ReadTimeout         time.Duration `json:"readTimeout"`
	WriteTimeout        time.Duration `json:"writeTimeout"`
	PoolTimeout         time.Duration `json:"poolTimeout"`
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`
	Password            SecretString  `json:"password"`
	Address             string        `json:"address"`
	KeyPrefix           string        `json:"keyPrefix"`
	DB                  int           `json:"db"`
	PoolSize            int           `json:"poolSize"`
	MinIdleConns        int           `json:"minIdleConns"`
	Enabled             bool          `json:"enabled"`
	EnableTLS           bool          `json:"enableTLS"`
	TLSSkipVerify       bool          `json:"tlsSkipVerify"`
}

// DiskConfig contains configuration for the on-disk tier.
type DiskConfig struct {
	Directory            string        `json:"directory"`
	MaxAge               time.Duration `json:"maxAge"`
	CompressionThreshold int           `json:"compressionThreshold"`
	Enabled              bool          `json:"enabled"`
}

// DefaultsConfig is the fallback cache policy applied to key-types that
// have no explicit entry in KeyTypes.
type DefaultsConfig struct {
	TTL           time.Duration `json:"ttl"`
	PrimaryTier   string        `json:"primaryTier"`
	Serialization string        `json:"serialization"`
	Compress      bool          `json:"compress"`
}

// KeyTypeSettings is the JSON form of a per-key-type cache policy.
type KeyTypeSettings struct {
	PrimaryTier   string        `json:"primaryTier"`
	TTL           time.Duration `json:"ttl"`
	MaxValueBytes int64         `json:"maxValueBytes"`
	Compress      bool          `json:"compress"`
	Serialization string        `json:"serialization"`
}

// CircuitBreakerConfig contains registry defaults for the circuit breaker
// pattern.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failureThreshold"`
	SuccessThreshold int           `json:"successThreshold"`
	OpenTimeout      time.Duration `json:"openTimeout"`
}

// RetryConfig contains registry defaults for the retry pattern.
type RetryConfig struct {
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
	Multiplier  float64       `json:"multiplier"`
	MaxAttempts int           `json:"maxAttempts"`
	Strategy    string        `json:"strategy"`
	Enabled     bool          `json:"enabled"`
	Jitter      bool          `json:"jitter"`
}

// BulkheadConfig contains configuration for the bulkhead pattern.
type BulkheadConfig struct {
	Enabled        bool          `json:"enabled"`
	MaxConcurrent  int           `json:"maxConcurrent"`
	MaxQueue       int           `json:"maxQueue"`
	AcquireTimeout time.Duration `json:"acquireTimeout"`
}

// HealthConfig contains configuration for the health aggregator.
type HealthConfig struct {
	CheckInterval       time.Duration `json:"checkInterval"`
	ProbeTimeout        time.Duration `json:"probeTimeout"`
	MaxConcurrentChecks int           `json:"maxConcurrentChecks"`
	Enabled             bool          `json:"enabled"`
}

// MetricsConfig contains configuration for metrics publishing. The publish
// interval doubles as the cache maintenance interval: each tick samples
// tier sizes and recomputes hit-rate gauges.
//
//nolint:govet // Small config struct - minimal alignment benefit
type MetricsConfig struct {
	PublishInterval time.Duration `json:"publishInterval"`
	DataDog         DataDogConfig `json:"datadog"`
	Enabled         bool          `json:"enabled"`
}

// DataDogConfig contains configuration for DataDog metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Tags      []string `json:"tags"`
	AgentHost string   `json:"agentHost"`
	Prefix    string   `json:"prefix"`
	Port      int      `json:"port"`
	Enabled   bool     `json:"enabled"`
}

// KeyValidationConfig contains configuration for cache key validation.
type KeyValidationConfig struct {
	ReservedPatterns  []string `json:"reservedPatterns"`
	MaxKeyLength      int      `json:"maxKeyLength"`
	Enabled           bool     `json:"enabled"`
	AllowEmpty        bool     `json:"allowEmpty"`
	AllowControlChars bool     `json:"allowControlChars"`
	AllowWhitespace   bool     `json:"allowWhitespace"`
}

// ToTypesConfig converts this config to a types.KeyValidationConfig.
func (c KeyValidationConfig) ToTypesConfig() types.KeyValidationConfig {
	return types.KeyValidationConfig{
		MaxKeyLength:      c.MaxKeyLength,
		AllowEmpty:        c.AllowEmpty,
		AllowControlChars: c.AllowControlChars,
		AllowWhitespace:   c.AllowWhitespace,
		ReservedPatterns:  c.ReservedPatterns,
	}
}

// ParseTier converts a config tier name to a types.Tier.
func ParseTier(name string) (types.Tier, error) {
	switch name {
	case "memory":
		return types.TierMemory, nil
	case "shared":
		return types.TierShared, nil
	case "disk":
		return types.TierDisk, nil
	default:
		return 0, fmt.Errorf("unknown tier %q (want memory, shared, or disk)", name)
	}
}

// ParseSerialization converts a config serialization name to a
// types.SerializationMode. Empty defaults to JSON.
func ParseSerialization(name string) (types.SerializationMode, error) {
	switch name {
	case "", "json":
		return types.SerializationJSON, nil
	case "raw", "binary":
		return types.SerializationRaw, nil
	default:
		return 0, fmt.Errorf("unknown serialization %q (want json or raw)", name)
	}
}

// BuildKeyTypeRegistry materializes the key-type registry from config,
// including the required default fallback for unknown key-types.
func (c *Config) BuildKeyTypeRegistry() (*types.KeyTypeRegistry, error) {
	fallbackTier, err := ParseTier(c.Defaults.PrimaryTier)
	if err != nil {
		return nil, fmt.Errorf("defaults.primaryTier: %w", err)
	}
	fallbackMode, err := ParseSerialization(c.Defaults.Serialization)
	if err != nil {
		return nil, fmt.Errorf("defaults.serialization: %w", err)
	}

	registry := types.NewKeyTypeRegistry(types.KeyTypeConfig{
		PrimaryTier:   fallbackTier,
		DefaultTTL:    c.Defaults.TTL,
		Compress:      c.Defaults.Compress,
		Serialization: fallbackMode,
	})

	for name, settings := range c.KeyTypes {
		tier, err := ParseTier(settings.PrimaryTier)
		if err != nil {
			return nil, fmt.Errorf("keyTypes.%s.primaryTier: %w", name, err)
		}
		mode, err := ParseSerialization(settings.Serialization)
		if err != nil {
			return nil, fmt.Errorf("keyTypes.%s.serialization: %w", name, err)
		}
		ttl := settings.TTL
		if ttl == 0 {
			ttl = c.Defaults.TTL
		}
		registry.Register(name, types.KeyTypeConfig{
			PrimaryTier:   tier,
			DefaultTTL:    ttl,
			MaxValueBytes: settings.MaxValueBytes,
			Compress:      settings.Compress,
			Serialization: mode,
		})
	}

	return registry, nil
}
