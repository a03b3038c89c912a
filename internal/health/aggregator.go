// Package health runs registered probes against the cache's moving
// parts and aggregates their verdicts into a single JSON-ready report.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

// Probe reports the health of one subsystem. Implementations fill
// Status, Message, Details, and Err; the aggregator owns Name, Critical,
// Duration, and Timestamp.
type Probe func(ctx context.Context) types.HealthCheckResult

type registration struct {
	name     string
	probe    Probe
	timeout  time.Duration
	critical bool
}

// RegisterOption customizes a probe registration.
type RegisterOption func(*registration)

// WithTimeout bounds a single probe run. Probes without an explicit
// timeout get the aggregator's configured default.
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *registration) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Critical marks a probe whose failure makes the whole system unhealthy.
// Non-critical failures only degrade it.
func Critical() RegisterOption {
	return func(r *registration) {
		r.critical = true
	}
}

// Aggregator owns the probe registry, runs checks concurrently, and
// keeps each probe's last known result for Overall verdicts between
// runs.
type Aggregator struct {
	logger        *slog.Logger
	checkInterval time.Duration
	probeTimeout  time.Duration
	maxConcurrent int

	mu      sync.Mutex
	probes  []*registration
	byName  map[string]*registration
	results map[string]types.HealthCheckResult

	bgMu   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator creates an aggregator with no probes registered.
func NewAggregator(cfg config.HealthConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Aggregator{
		logger:        logger.With("component", "health"),
		checkInterval: cfg.CheckInterval,
		probeTimeout:  cfg.ProbeTimeout,
		maxConcurrent: cfg.MaxConcurrentChecks,
		byName:        make(map[string]*registration),
		results:       make(map[string]types.HealthCheckResult),
	}

	if a.checkInterval <= 0 {
		a.checkInterval = 60 * time.Second
	}
	if a.probeTimeout <= 0 {
		a.probeTimeout = 5 * time.Second
	}
	if a.maxConcurrent <= 0 {
		a.maxConcurrent = 8
	}

	return a
}

// Register adds a probe under the given name. Registering an existing
// name replaces its probe and options but keeps its place in the report.
// There is no removal; probes live as long as the aggregator.
func (a *Aggregator) Register(name string, probe Probe, opts ...RegisterOption) {
	reg := &registration{
		name:    name,
		probe:   probe,
		timeout: a.probeTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byName[name]; ok {
		*existing = *reg
		return
	}
	a.byName[name] = reg
	a.probes = append(a.probes, reg)
}

// CheckAll runs every registered probe, at most the configured number
// concurrently, and returns the fresh results keyed by probe name.
// Results are also cached as each probe's last known state.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]types.HealthCheckResult {
	a.mu.Lock()
	regs := make([]*registration, len(a.probes))
	copy(regs, a.probes)
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrent)

	results := make([]types.HealthCheckResult, len(regs))
	for i, reg := range regs {
		i, reg := i, reg
		g.Go(func() error {
			results[i] = a.runProbe(gctx, reg)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.HealthCheckResult, len(results))
	a.mu.Lock()
	for _, res := range results {
		a.results[res.Name] = res
		out[res.Name] = res
	}
	a.mu.Unlock()

	return out
}

// Check runs a single probe by name. Unknown names return
// types.ErrUnknownProbe.
func (a *Aggregator) Check(ctx context.Context, name string) (types.HealthCheckResult, error) {
	a.mu.Lock()
	reg, ok := a.byName[name]
	a.mu.Unlock()

	if !ok {
		return types.HealthCheckResult{}, fmt.Errorf("%w: %s", types.ErrUnknownProbe, name)
	}

	result := a.runProbe(ctx, reg)

	a.mu.Lock()
	a.results[name] = result
	a.mu.Unlock()

	return result, nil
}

// runProbe executes one probe on its own goroutine, bounded by the
// probe's timeout. A panicking probe is recorded as unhealthy rather
// than taking the process down.
func (a *Aggregator) runProbe(ctx context.Context, reg *registration) types.HealthCheckResult {
	start := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	resultCh := make(chan types.HealthCheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- types.HealthCheckResult{
					Status:  types.HealthStatusUnhealthy,
					Message: fmt.Sprintf("probe panicked: %v", r),
				}
			}
		}()
		resultCh <- reg.probe(probeCtx)
	}()

	var result types.HealthCheckResult
	select {
	case result = <-resultCh:
	case <-probeCtx.Done():
		result = types.HealthCheckResult{
			Status:  types.HealthStatusUnhealthy,
			Message: fmt.Sprintf("probe timed out after %s", reg.timeout),
		}
	}

	result.Name = reg.name
	result.Critical = reg.critical
	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Seconds() * 1000
	result.Timestamp = time.Now()

	return result
}

// Overall aggregates the last known result of every probe. The system
// is unhealthy only when a critical probe is unhealthy; degraded when
// any probe is degraded or a non-critical probe is unhealthy; unknown
// when no probe has run yet.
func (a *Aggregator) Overall() types.OverallHealth {
	a.mu.Lock()
	defer a.mu.Unlock()

	checks := make(map[string]types.HealthCheckResult, len(a.probes))
	var summary types.HealthSummary
	var firstCritical, firstFailing string

	for _, reg := range a.probes {
		res, ok := a.results[reg.name]
		if !ok {
			res = types.HealthCheckResult{
				Name:     reg.name,
				Status:   types.HealthStatusUnknown,
				Critical: reg.critical,
			}
		}
		checks[reg.name] = res

		summary.Total++
		switch res.Status {
		case types.HealthStatusHealthy:
			summary.Healthy++
		case types.HealthStatusDegraded:
			summary.Degraded++
			if firstFailing == "" {
				firstFailing = reg.name
			}
		case types.HealthStatusUnhealthy:
			summary.Unhealthy++
			if firstFailing == "" {
				firstFailing = reg.name
			}
			if res.Critical && firstCritical == "" {
				firstCritical = reg.name
			}
		default:
			summary.Unknown++
		}
	}

	status := types.HealthStatusHealthy
	message := "all probes healthy"
	switch {
	case summary.Total == 0:
		status = types.HealthStatusUnknown
		message = "no probes registered"
	case summary.Unknown == summary.Total:
		status = types.HealthStatusUnknown
		message = "probes have not run yet"
	case firstCritical != "":
		status = types.HealthStatusUnhealthy
		message = fmt.Sprintf("critical probe %s is unhealthy", firstCritical)
	case firstFailing != "":
		status = types.HealthStatusDegraded
		message = fmt.Sprintf("degraded: probe %s is failing", firstFailing)
	}

	return types.OverallHealth{
		Status:    status,
		Message:   message,
		Checks:    checks,
		Summary:   summary,
		Timestamp: time.Now(),
	}
}

// Start launches the background re-check loop. An initial check runs
// immediately so Overall has data before the first interval elapses.
// Safe to call once; further calls are no-ops until Stop.
func (a *Aggregator) Start(ctx context.Context) {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()

	if a.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.loop(runCtx, a.done)
}

// Stop halts the background loop and waits for it to exit.
func (a *Aggregator) Stop() {
	a.bgMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.bgMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Aggregator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	a.safeCheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.safeCheckAll(ctx)
		}
	}
}

// safeCheckAll is one loop iteration. Probe panics are already handled
// inside runProbe; this recover keeps the loop alive through aggregator
// bugs as well.
func (a *Aggregator) safeCheckAll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("health check loop recovered from panic", "panic", r)
		}
	}()

	for name, res := range a.CheckAll(ctx) {
		if res.Status == types.HealthStatusUnhealthy {
			a.logger.Warn("health probe unhealthy",
				"probe", name,
				"critical", res.Critical,
				"message", res.Message,
				"error", res.Err)
		}
	}
}
