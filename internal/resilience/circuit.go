// Package resilience provides fault tolerance patterns for calls into
// flaky dependencies: per-service circuit breakers, retry with backoff,
// and concurrency bulkheads.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/strata/internal/config"
	"github.com/quarrylabs/strata/internal/types"
)

// State is a circuit breaker state. The string forms appear in logs and
// operational JSON.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails calls fast once a dependency has failed enough
// times in a row, giving it OpenTimeout to recover before probing again
// in the half-open state.
type CircuitBreaker struct {
	service string

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	state atomic.Int32

	mu               sync.Mutex
	consecutiveFails int
	consecutiveSuccs int
	openedAt         time.Time
	lastFailure      time.Time
	lastSuccess      time.Time

	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64

	onStateChange func(from, to State)
}

// stateTransition carries a state-change callback out of the mutex so it
// can be invoked after unlock, preventing deadlocks when the callback
// reads breaker state.
type stateTransition struct {
	from     State
	to       State
	callback func(from, to State)
}

// NewCircuitBreaker creates a circuit breaker for the named service.
func NewCircuitBreaker(service string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		service:          service,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 2
	}
	if cb.openTimeout <= 0 {
		cb.openTimeout = 30 * time.Second
	}

	cb.state.Store(int32(StateClosed))

	return cb
}

// Call runs fn through the breaker. While the circuit is open and the
// open timeout has not elapsed, fn is NOT invoked and the call fails
// fast with a *types.CircuitOpenError carrying the time until the next
// probe. Once the timeout elapses the breaker moves to half-open and
// lets calls through; successThreshold consecutive successes close it,
// any failure reopens it and restarts the clock.
//
// fn runs outside the breaker's mutex, so calls through the breaker can
// be arbitrarily slow without blocking state inspection.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	cb.totalRequests.Add(1)

	if err := fn(ctx); err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, handling the open-to-half-open
// transition when the timeout has elapsed.
func (cb *CircuitBreaker) allow() error {
	if State(cb.state.Load()) != StateOpen {
		return nil
	}

	var (
		transition *stateTransition
		retryAfter time.Duration
	)

	cb.mu.Lock()
	// Re-check under the lock: another call may have transitioned already.
	if State(cb.state.Load()) == StateOpen {
		if elapsed := time.Since(cb.openedAt); elapsed >= cb.openTimeout {
			transition = cb.transitionTo(StateHalfOpen)
		} else {
			retryAfter = cb.openTimeout - elapsed
		}
	}
	cb.mu.Unlock()

	transition.invoke()

	if retryAfter > 0 {
		return &types.CircuitOpenError{Service: cb.service, RetryAfter: retryAfter}
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses.Add(1)

	var transition *stateTransition

	cb.mu.Lock()
	cb.lastSuccess = time.Now()
	cb.consecutiveFails = 0
	cb.consecutiveSuccs++

	if State(cb.state.Load()) == StateHalfOpen && cb.consecutiveSuccs >= cb.successThreshold {
		transition = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	transition.invoke()
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures.Add(1)

	var transition *stateTransition

	cb.mu.Lock()
	cb.lastFailure = time.Now()
	cb.consecutiveSuccs = 0
	cb.consecutiveFails++

	switch State(cb.state.Load()) {
	case StateClosed:
		if cb.consecutiveFails >= cb.failureThreshold {
			transition = cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// One bad probe is enough; the open timeout restarts.
		transition = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	transition.invoke()
}

// transitionTo changes state and returns the callback to invoke AFTER the
// mutex is released, or nil. Must be called holding cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) *stateTransition {
	oldState := State(cb.state.Load())
	if oldState == newState {
		return nil
	}

	switch newState {
	case StateClosed:
		cb.consecutiveFails = 0
		cb.consecutiveSuccs = 0
	case StateOpen:
		cb.openedAt = time.Now()
		cb.consecutiveSuccs = 0
	case StateHalfOpen:
		cb.consecutiveSuccs = 0
	}

	cb.state.Store(int32(newState))

	if cb.onStateChange != nil {
		return &stateTransition{from: oldState, to: newState, callback: cb.onStateChange}
	}
	return nil
}

func (t *stateTransition) invoke() {
	if t != nil && t.callback != nil {
		t.callback(t.from, t.to)
	}
}

// Service returns the name of the service this breaker protects.
func (cb *CircuitBreaker) Service() string {
	return cb.service
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// IsOpen reports whether the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// SetOnStateChange sets a callback invoked synchronously after each state
// transition, outside the breaker's mutex. Keep it fast (logging, metrics);
// it runs on the caller's goroutine.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.consecutiveSuccs = 0
	cb.state.Store(int32(StateClosed))
}

// Stats returns a JSON-ready snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Service:              cb.service,
		State:                cb.State().String(),
		ConsecutiveFailures:  cb.consecutiveFails,
		ConsecutiveSuccesses: cb.consecutiveSuccs,
		TotalRequests:        cb.totalRequests.Load(),
		TotalFailures:        cb.totalFailures.Load(),
		TotalSuccesses:       cb.totalSuccesses.Load(),
		LastFailure:          cb.lastFailure,
		LastSuccess:          cb.lastSuccess,
	}
}

// BreakerStats is a point-in-time breaker snapshot.
type BreakerStats struct {
	Service              string    `json:"service"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	TotalRequests        int64     `json:"totalRequests"`
	TotalFailures        int64     `json:"totalFailures"`
	TotalSuccesses       int64     `json:"totalSuccesses"`
	LastFailure          time.Time `json:"lastFailure"`
	LastSuccess          time.Time `json:"lastSuccess"`
}

// DisabledBreaker is a no-op breaker that always lets calls through.
type DisabledBreaker struct{}

// NewDisabledBreaker creates a breaker that never opens.
func NewDisabledBreaker() *DisabledBreaker {
	return &DisabledBreaker{}
}

// Call runs fn without breaker protection.
func (cb *DisabledBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// State always returns StateClosed.
func (cb *DisabledBreaker) State() State { return StateClosed }

// IsOpen always returns false.
func (cb *DisabledBreaker) IsOpen() bool { return false }

// SetOnStateChange does nothing; a disabled breaker never transitions.
func (cb *DisabledBreaker) SetOnStateChange(fn func(from, to State)) {}

// Reset does nothing.
func (cb *DisabledBreaker) Reset() {}

// Stats returns a permanently closed snapshot.
func (cb *DisabledBreaker) Stats() BreakerStats {
	return BreakerStats{State: StateClosed.String()}
}
