package resilience

import "context"

// Executor is the reliable-call facade. It composes the registry's
// per-service patterns around a single producer invocation: the bulkhead
// (when enabled) sits outermost, then retry, then the circuit breaker
// directly around the producer.
//
// Retry wraps the breaker rather than the reverse so that each attempt
// counts toward the breaker's failure threshold, and once the breaker
// opens the remaining attempts fail fast without reaching the producer.
// A fail-fast CircuitOpenError is itself retried; those attempts cost
// microseconds, and one may land after the open timeout elapses and the
// breaker admits a half-open probe.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor backed by the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Registry exposes the underlying registry for stats inspection.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Do runs fn for the named service with bulkhead, retry, and circuit
// breaker protection applied per the registry's configuration.
func (e *Executor) Do(ctx context.Context, service string, fn func(context.Context) error) error {
	return e.registry.Bulkhead(service).Do(ctx, func(ctx context.Context) error {
		return e.registry.Retry(service).Do(ctx, func(ctx context.Context) error {
			return e.registry.Breaker(service).Call(ctx, fn)
		})
	})
}

// DoWithResult is Do for producers that return a value. On failure the
// result is nil and the error is whatever the final attempt returned.
func (e *Executor) DoWithResult(ctx context.Context, service string, fn func(context.Context) (any, error)) (any, error) {
	var result any

	err := e.Do(ctx, service, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
