package metrics

import (
	"log/slog"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// LoggingRecorder debug-logs every cache operation instead of counting
// it. Useful while developing against a live cache; too chatty for
// production unless the debug level is filtered out.
type LoggingRecorder struct {
	logger *slog.Logger
}

func NewLoggingRecorder(logger *slog.Logger) *LoggingRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingRecorder{
		logger: logger.With("component", "metrics"),
	}
}

func (r *LoggingRecorder) RecordHit(tier string, key string, latency time.Duration) {
	r.logger.Debug("cache hit",
		"tier", tier,
		"key", key,
		"latency_ms", durationMS(latency),
	)
}

func (r *LoggingRecorder) RecordMiss(tier string, key string, latency time.Duration) {
	r.logger.Debug("cache miss",
		"tier", tier,
		"key", key,
		"latency_ms", durationMS(latency),
	)
}

func (r *LoggingRecorder) RecordSet(strategy string, key string, size int, latency time.Duration) {
	r.logger.Debug("cache set",
		"strategy", strategy,
		"key", key,
		"size_bytes", size,
		"latency_ms", durationMS(latency),
	)
}

func (r *LoggingRecorder) RecordDelete(tier string, key string, latency time.Duration) {
	r.logger.Debug("cache delete",
		"tier", tier,
		"key", key,
		"latency_ms", durationMS(latency),
	)
}

func (r *LoggingRecorder) RecordError(tier string, operation string, err error) {
	r.logger.Debug("cache error",
		"tier", tier,
		"operation", operation,
		"error", err,
	)
}

func (r *LoggingRecorder) RecordCircuitBreakerStateChange(from, to string) {
	r.logger.Debug("circuit breaker state changed",
		"from", from,
		"to", to,
	)
}

var _ types.MetricsRecorder = (*LoggingRecorder)(nil)
