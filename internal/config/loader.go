package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from a JSON file.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocyclo // Environment variable parsing requires many conditional checks
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATA_MEMORY_MAX_SIZE_MB"); v != "" {
		cfg.Memory.MaxSizeMB = parseInt(v, cfg.Memory.MaxSizeMB)
	}
	if v := os.Getenv("STRATA_MEMORY_DEFAULT_TTL"); v != "" {
		cfg.Memory.DefaultTTL = parseDuration(v, cfg.Memory.DefaultTTL)
	}

	if v := os.Getenv("STRATA_SHARED_ENABLED"); v != "" {
		cfg.Shared.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_SHARED_ADDRESS"); v != "" {
		cfg.Shared.Address = v
	}
	if v := os.Getenv("STRATA_SHARED_PASSWORD"); v != "" {
		cfg.Shared.Password = NewSecretString(v)
	}
	if v := os.Getenv("STRATA_SHARED_DB"); v != "" {
		cfg.Shared.DB = parseInt(v, cfg.Shared.DB)
	}
	if v := os.Getenv("STRATA_SHARED_KEY_PREFIX"); v != "" {
		cfg.Shared.KeyPrefix = v
	}
	if v := os.Getenv("STRATA_SHARED_POOL_SIZE"); v != "" {
		cfg.Shared.PoolSize = parseInt(v, cfg.Shared.PoolSize)
	}
	if v := os.Getenv("STRATA_SHARED_ENABLE_TLS"); v != "" {
		cfg.Shared.EnableTLS = parseBool(v)
	}
	if v := os.Getenv("STRATA_SHARED_TLS_SKIP_VERIFY"); v != "" {
		cfg.Shared.TLSSkipVerify = parseBool(v)
	}

	if v := os.Getenv("STRATA_DISK_ENABLED"); v != "" {
		cfg.Disk.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_DISK_DIRECTORY"); v != "" {
		cfg.Disk.Directory = v
	}
	if v := os.Getenv("STRATA_DISK_MAX_AGE"); v != "" {
		cfg.Disk.MaxAge = parseDuration(v, cfg.Disk.MaxAge)
	}

	if v := os.Getenv("STRATA_DEFAULTS_TTL"); v != "" {
		cfg.Defaults.TTL = parseDuration(v, cfg.Defaults.TTL)
	}
	if v := os.Getenv("STRATA_DEFAULTS_PRIMARY_TIER"); v != "" {
		cfg.Defaults.PrimaryTier = v
	}

	if v := os.Getenv("STRATA_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != "" {
		cfg.CircuitBreaker.FailureThreshold = parseInt(v, cfg.CircuitBreaker.FailureThreshold)
	}
	if v := os.Getenv("STRATA_CIRCUIT_BREAKER_OPEN_TIMEOUT"); v != "" {
		cfg.CircuitBreaker.OpenTimeout = parseDuration(v, cfg.CircuitBreaker.OpenTimeout)
	}

	if v := os.Getenv("STRATA_RETRY_ENABLED"); v != "" {
		cfg.Retry.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.Retry.MaxAttempts = parseInt(v, cfg.Retry.MaxAttempts)
	}
	if v := os.Getenv("STRATA_RETRY_STRATEGY"); v != "" {
		cfg.Retry.Strategy = v
	}

	if v := os.Getenv("STRATA_HEALTH_ENABLED"); v != "" {
		cfg.Health.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_HEALTH_CHECK_INTERVAL"); v != "" {
		cfg.Health.CheckInterval = parseDuration(v, cfg.Health.CheckInterval)
	}

	if v := os.Getenv("STRATA_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATA_METRICS_PUBLISH_INTERVAL"); v != "" {
		cfg.Metrics.PublishInterval = parseDuration(v, cfg.Metrics.PublishInterval)
	}

	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
		cfg.Metrics.DataDog.Enabled = true
	}
	if v := os.Getenv("DD_DOGSTATSD_PORT"); v != "" {
		cfg.Metrics.DataDog.Port = parseInt(v, cfg.Metrics.DataDog.Port)
	}
	if v := os.Getenv("DD_SERVICE"); v != "" {
		cfg.Metrics.DataDog.Prefix = v
	}
	if v := os.Getenv("DD_ENV"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "env:"+v)
	}
	if v := os.Getenv("DD_VERSION"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "version:"+v)
	}

	if v := os.Getenv("STRATA_DATADOG_ENABLED"); v != "" {
		if os.Getenv("DD_AGENT_HOST") == "" {
			cfg.Metrics.DataDog.Enabled = parseBool(v)
		}
	}
	if v := os.Getenv("STRATA_DATADOG_PREFIX"); v != "" {
		if os.Getenv("DD_SERVICE") == "" {
			cfg.Metrics.DataDog.Prefix = v
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Memory.MaxSizeMB <= 0 {
		return fmt.Errorf("memory.maxSizeMB must be positive")
	}

	if c.Shared.Enabled {
		if c.Shared.Address == "" {
			return fmt.Errorf("shared.address is required when the shared tier is enabled")
		}
		if c.Shared.PoolSize <= 0 {
			return fmt.Errorf("shared.poolSize must be positive")
		}
	}

	if c.Disk.Enabled {
		if c.Disk.Directory == "" {
			return fmt.Errorf("disk.directory is required when the disk tier is enabled")
		}
		if c.Disk.MaxAge <= 0 {
			return fmt.Errorf("disk.maxAge must be positive")
		}
	}

	if _, err := ParseTier(c.Defaults.PrimaryTier); err != nil {
		return fmt.Errorf("defaults.primaryTier: %w", err)
	}
	if _, err := ParseSerialization(c.Defaults.Serialization); err != nil {
		return fmt.Errorf("defaults.serialization: %w", err)
	}
	for name, settings := range c.KeyTypes {
		// A key-type may point at a disabled tier; the manager degrades
		// those writes at runtime rather than failing construction.
		if _, err := ParseTier(settings.PrimaryTier); err != nil {
			return fmt.Errorf("keyTypes.%s.primaryTier: %w", name, err)
		}
		if _, err := ParseSerialization(settings.Serialization); err != nil {
			return fmt.Errorf("keyTypes.%s.serialization: %w", name, err)
		}
		if settings.TTL < 0 {
			return fmt.Errorf("keyTypes.%s.ttl must not be negative", name)
		}
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuitBreaker.failureThreshold must be positive")
		}
		if c.CircuitBreaker.SuccessThreshold <= 0 {
			return fmt.Errorf("circuitBreaker.successThreshold must be positive")
		}
		if c.CircuitBreaker.OpenTimeout <= 0 {
			return fmt.Errorf("circuitBreaker.openTimeout must be positive")
		}
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("retry.maxAttempts must be positive")
		}
		switch c.Retry.Strategy {
		case "", "none", "fixed", "linear", "exponential":
		default:
			return fmt.Errorf("retry.strategy %q is not one of none, fixed, linear, exponential", c.Retry.Strategy)
		}
	}

	if c.Bulkhead.Enabled {
		if c.Bulkhead.MaxConcurrent <= 0 {
			return fmt.Errorf("bulkhead.maxConcurrent must be positive")
		}
	}

	if c.Health.Enabled {
		if c.Health.CheckInterval <= 0 {
			return fmt.Errorf("health.checkInterval must be positive")
		}
		if c.Health.ProbeTimeout <= 0 {
			return fmt.Errorf("health.probeTimeout must be positive")
		}
	}

	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	return v
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}
