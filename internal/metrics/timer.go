package metrics

import (
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// Timer measures operation latency and reports it to a publisher.
type Timer struct {
	publisher types.Publisher
	name      string
	tags      []string
	start     time.Time
}

// NewTimer starts a timer that records to the publisher when stopped.
func NewTimer(publisher types.Publisher, name string, tags ...string) *Timer {
	return &Timer{
		publisher: publisher,
		name:      name,
		tags:      tags,
		start:     time.Now(),
	}
}

// Stop records the elapsed time as a timing metric and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.publisher.Timing(t.name, duration, t.tags...)
	return duration
}

// Elapsed returns the time since the timer started without recording.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
