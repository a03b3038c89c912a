package datadog

import (
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// NoOpPublisher is a Publisher that does nothing. Returned by
// NewPublisher when DataDog is disabled.
type NoOpPublisher struct{}

func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) Gauge(name string, value float64, tags ...string) {}

func (p *NoOpPublisher) Incr(name string, tags ...string) {}

func (p *NoOpPublisher) Count(name string, value int64, tags ...string) {}

func (p *NoOpPublisher) Histogram(name string, value float64, tags ...string) {}

func (p *NoOpPublisher) Timing(name string, value time.Duration, tags ...string) {}

func (p *NoOpPublisher) Event(title, text, alertType string, tags ...string) {}

func (p *NoOpPublisher) PublishSnapshot(s *types.MetricsSnapshot) {}

func (p *NoOpPublisher) Close() error { return nil }

var _ types.Publisher = (*NoOpPublisher)(nil)
