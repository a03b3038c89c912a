// Package datadog provides a DataDog StatsD metrics publisher.
package datadog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Publisher ships metrics to a local DataDog agent over StatsD.
//
//nolint:govet // Small struct - minimal alignment benefit
type Publisher struct {
	baseTags []string
	client   *statsd.Client
	logger   *slog.Logger
	config   *config.DataDogConfig
}

// NewPublisher creates a DataDog publisher from config. When DataDog
// is disabled it returns a NoOpPublisher so callers can wire the
// result unconditionally.
func NewPublisher(cfg *config.DataDogConfig, logger *slog.Logger) (types.Publisher, error) {
	if !cfg.Enabled {
		return &NoOpPublisher{}, nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	addr := fmt.Sprintf("%s:%d", cfg.AgentHost, cfg.Port)

	client, err := statsd.New(addr,
		statsd.WithNamespace(cfg.Prefix+"."),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client: %w", err)
	}

	logger.Info("datadog publisher initialized",
		"address", addr,
		"prefix", cfg.Prefix,
		"tags", cfg.Tags,
	)

	return &Publisher{
		client:   client,
		config:   cfg,
		baseTags: cfg.Tags,
		logger:   logger.With("component", "datadog"),
	}, nil
}

// Gauge records a value at a point in time.
func (p *Publisher) Gauge(name string, value float64, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Gauge(name, value, allTags, 1); err != nil {
		p.logger.Debug("failed to send gauge metric", "name", name, "error", err)
	}
}

// Incr increments a counter by 1.
func (p *Publisher) Incr(name string, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Incr(name, allTags, 1); err != nil {
		p.logger.Debug("failed to send incr metric", "name", name, "error", err)
	}
}

// Count increments a counter by the given amount.
func (p *Publisher) Count(name string, value int64, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Count(name, value, allTags, 1); err != nil {
		p.logger.Debug("failed to send count metric", "name", name, "error", err)
	}
}

// Histogram records a distribution of values.
func (p *Publisher) Histogram(name string, value float64, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Histogram(name, value, allTags, 1); err != nil {
		p.logger.Debug("failed to send histogram metric", "name", name, "error", err)
	}
}

// Timing records a latency metric.
func (p *Publisher) Timing(name string, duration time.Duration, tags ...string) {
	allTags := p.mergeTags(tags)
	if err := p.client.Timing(name, duration, allTags, 1); err != nil {
		p.logger.Debug("failed to send timing metric", "name", name, "error", err)
	}
}

// Event sends a DataDog event.
func (p *Publisher) Event(title, text, alertType string, tags ...string) {
	allTags := p.mergeTags(tags)
	event := &statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: statsd.EventAlertType(alertType),
		Tags:      allTags,
	}
	if err := p.client.Event(event); err != nil {
		p.logger.Debug("failed to send event", "title", title, "error", err)
	}
}

// PublishSnapshot publishes the snapshot as a batch of gauges.
func (p *Publisher) PublishSnapshot(s *types.MetricsSnapshot) {
	if s == nil {
		return
	}

	p.Gauge("memory.used_bytes", float64(s.MemorySizeBytes))
	p.Gauge("memory.limit_bytes", float64(s.MemoryMaxBytes))
	p.Gauge("memory.usage_percentage", clamp(s.MemoryUtilization*100, 0, 100))
	p.Gauge("entries.total", float64(s.MemoryEntries))

	p.Gauge("hits.total", float64(s.MemoryHits), "tier:memory")
	p.Gauge("hits.total", float64(s.SharedHits), "tier:shared")
	p.Gauge("hits.total", float64(s.DiskHits), "tier:disk")
	p.Gauge("misses.total", float64(s.MemoryMisses), "tier:memory")
	p.Gauge("misses.total", float64(s.SharedMisses), "tier:shared")
	p.Gauge("misses.total", float64(s.DiskMisses), "tier:disk")

	p.Gauge("performance.hit_ratio", clamp(s.TotalHitRatio(), 0, 1))
	p.Gauge("performance.average_latency_ms", maxFloat(0, s.AvgLatencyMs))
	p.Gauge("performance.p95_latency_ms", maxFloat(0, s.P95LatencyMs))
	p.Gauge("performance.p99_latency_ms", maxFloat(0, s.P99LatencyMs))

	p.Gauge("errors.total", float64(s.ErrorCount))
	p.Gauge("bytes_written.total", float64(s.BytesWritten))
	p.Gauge("circuit_breaker.transitions", float64(s.BreakerTransitions))

	connected := 0.0
	if s.SharedConnected {
		connected = 1.0
	}
	p.Gauge("connection.status", connected)
}

// Close releases the underlying statsd client.
func (p *Publisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *Publisher) mergeTags(tags []string) []string {
	if len(tags) == 0 {
		return p.baseTags
	}
	if len(p.baseTags) == 0 {
		return tags
	}
	return append(p.baseTags, tags...)
}

func clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

var _ types.Publisher = (*Publisher)(nil)
