package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss         = errors.New("cache: key not found")
	ErrSharedUnavailable = errors.New("cache: shared store unavailable")
	ErrTierUnavailable   = errors.New("cache: tier disabled or unavailable")
	ErrCircuitOpen       = errors.New("resilience: circuit breaker open")
	ErrClosed            = errors.New("cache: manager closed")
	ErrBulkheadFull      = errors.New("resilience: bulkhead at capacity")
	ErrBulkheadTimeout   = errors.New("resilience: bulkhead timeout")
	ErrSerialization     = errors.New("cache: serialization failed")
	ErrInvalidKey        = errors.New("cache: invalid key")
	ErrValueTooLarge     = errors.New("cache: value exceeds size limit")
	ErrUnknownProbe      = errors.New("health: probe not registered")
	ErrShutdownTimeout   = errors.New("cache: shutdown timeout waiting for background operations")
)

type CacheError struct {
	Op   string
	Key  string
	Tier string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s on %s [%s]: %v", e.Op, e.Tier, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s on %s: %v", e.Op, e.Tier, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func NewCacheError(op, key, tier string, err error) *CacheError {
	return &CacheError{
		Op:   op,
		Key:  key,
		Tier: tier,
		Err:  err,
	}
}

// CircuitOpenError is the fail-fast error raised when a breaker refuses a
// call. It unwraps to ErrCircuitOpen so callers can special-case
// "dependency currently unavailable" without losing the service name.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("resilience: circuit breaker open for %s (retry after %s)", e.Service, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("resilience: circuit breaker open for %s", e.Service)
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func IsSharedUnavailable(err error) bool {
	return errors.Is(err, ErrSharedUnavailable)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}

func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

func IsValueTooLarge(err error) bool {
	return errors.Is(err, ErrValueTooLarge)
}
