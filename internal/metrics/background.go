package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

const defaultPublishInterval = 5 * time.Minute

// BackgroundPublisher ships a metrics snapshot to a publisher at a
// fixed interval, with a final publish on shutdown so the last window
// of activity is not lost.
type BackgroundPublisher struct {
	publisher  types.Publisher
	logger     *slog.Logger
	snapshotFn func() *types.MetricsSnapshot
	cancel     context.CancelFunc
	ctx        context.Context
	wg         sync.WaitGroup
	interval   time.Duration
}

// NewBackgroundPublisher creates a background publisher. snapshotFn is
// called on each tick to assemble the snapshot to publish; it may
// return nil to skip a tick.
func NewBackgroundPublisher(
	publisher types.Publisher,
	interval time.Duration,
	snapshotFn func() *types.MetricsSnapshot,
	logger *slog.Logger,
) *BackgroundPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPublishInterval
	}

	return &BackgroundPublisher{
		publisher:  publisher,
		interval:   interval,
		logger:     logger.With("component", "metrics-background"),
		snapshotFn: snapshotFn,
	}
}

// Start begins the publishing loop. The context controls the lifetime
// of the background goroutine.
func (b *BackgroundPublisher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run()
	b.logger.Info("background metrics publisher started", "interval", b.interval)
}

// Stop cancels the loop and waits for the final publish to finish.
func (b *BackgroundPublisher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("background metrics publisher stopped")
}

func (b *BackgroundPublisher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			// Final publish before stopping.
			b.publish()
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

func (b *BackgroundPublisher) publish() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("recovered from panic in metrics publisher", "panic", r)
		}
	}()

	if b.snapshotFn == nil {
		return
	}

	snapshot := b.snapshotFn()
	if snapshot != nil {
		b.publisher.PublishSnapshot(snapshot)
	}
}

// PublishNow triggers an immediate publish outside the regular cadence.
func (b *BackgroundPublisher) PublishNow() {
	b.publish()
}
