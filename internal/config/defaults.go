package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a configuration with sensible defaults. Three
// key-types are pre-registered to match the common workloads this layer
// serves: large binary thumbnails on disk, structured metadata in the
// shared store, and short-lived API responses in memory.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			MaxSizeMB:  64,
			DefaultTTL: 5 * time.Minute,
		},
		Shared: SharedConfig{
			Enabled:             false,
			Address:             "localhost:6379",
			Password:            SecretString{},
			DB:                  0,
			KeyPrefix:           "strata:",
			PoolSize:            100,
			MinIdleConns:        10,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			PoolTimeout:         4 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			EnableTLS:           false,
			TLSSkipVerify:       false,
		},
		Disk: DiskConfig{
			Enabled:              true,
			Directory:            filepath.Join(os.TempDir(), "strata-cache"),
			MaxAge:               24 * time.Hour,
			CompressionThreshold: 1024,
		},
		Defaults: DefaultsConfig{
			TTL:           5 * time.Minute,
			PrimaryTier:   "memory",
			Serialization: "json",
			Compress:      false,
		},
		KeyTypes: map[string]KeyTypeSettings{
			"thumbnails": {
				PrimaryTier:   "disk",
				TTL:           24 * time.Hour,
				Compress:      true,
				Serialization: "raw",
			},
			"metadata": {
				PrimaryTier:   "shared",
				TTL:           5 * time.Minute,
				Serialization: "json",
			},
			"api_responses": {
				PrimaryTier:   "memory",
				TTL:           time.Minute,
				Serialization: "json",
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Strategy:    "exponential",
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      true,
		},
		Bulkhead: BulkheadConfig{
			Enabled:        false,
			MaxConcurrent:  100,
			MaxQueue:       50,
			AcquireTimeout: 100 * time.Millisecond,
		},
		Health: HealthConfig{
			Enabled:             true,
			CheckInterval:       60 * time.Second,
			ProbeTimeout:        5 * time.Second,
			MaxConcurrentChecks: 8,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PublishInterval: 5 * time.Minute,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "127.0.0.1",
				Port:      8125,
				Prefix:    "strata",
				Tags:      []string{},
			},
		},
		KeyValidation: KeyValidationConfig{
			Enabled:           true,
			MaxKeyLength:      1024,
			AllowEmpty:        false,
			AllowControlChars: false,
			AllowWhitespace:   true,
		},
	}
}

// ForTesting returns a minimal configuration suitable for unit tests.
func ForTesting() *Config {
	return &Config{
		Memory: MemoryConfig{
			MaxSizeMB:  1,
			DefaultTTL: time.Minute,
		},
		Shared: SharedConfig{
			Enabled:      false, // Disabled for unit tests
			Address:      "localhost:6379",
			KeyPrefix:    "test:",
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			PoolTimeout:  time.Second,
		},
		Disk: DiskConfig{
			Enabled:              false, // Tests enable with a t.TempDir
			MaxAge:               24 * time.Hour,
			CompressionThreshold: 1024,
		},
		Defaults: DefaultsConfig{
			TTL:           time.Minute,
			PrimaryTier:   "memory",
			Serialization: "json",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			OpenTimeout:      time.Second,
		},
		Retry: RetryConfig{
			Enabled:     true,
			MaxAttempts: 2,
			Strategy:    "fixed",
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
			Multiplier:  2.0,
			Jitter:      false,
		},
		Bulkhead: BulkheadConfig{
			Enabled:        false,
			MaxConcurrent:  10,
			MaxQueue:       5,
			AcquireTimeout: 50 * time.Millisecond,
		},
		Health: HealthConfig{
			Enabled:             false,
			CheckInterval:       time.Second,
			ProbeTimeout:        500 * time.Millisecond,
			MaxConcurrentChecks: 4,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			PublishInterval: time.Second,
		},
		KeyValidation: KeyValidationConfig{
			Enabled:           true,
			MaxKeyLength:      1024,
			AllowEmpty:        false,
			AllowControlChars: false,
			AllowWhitespace:   true,
		},
	}
}

// ForTestingWithShared returns a test config with the shared tier enabled
// at the given address (typically a miniredis instance).
func ForTestingWithShared(addr string) *Config {
	cfg := ForTesting()
	cfg.Shared.Enabled = true
	cfg.Shared.Address = addr
	return cfg
}

// ForTestingWithDisk returns a test config with the disk tier enabled
// under the given directory.
func ForTestingWithDisk(dir string) *Config {
	cfg := ForTesting()
	cfg.Disk.Enabled = true
	cfg.Disk.Directory = dir
	return cfg
}
