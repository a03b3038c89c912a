package strata

import (
	"github.com/quarrylabs/strata/internal/resilience"
	"github.com/quarrylabs/strata/internal/types"
)

// CacheError wraps a tier operation failure with the operation, key, and
// tier it happened on.
type CacheError = types.CacheError

// CircuitOpenError is the fail-fast error a reliable call returns while a
// service's circuit breaker is open. RetryAfter says how long until the
// breaker admits a probe.
type CircuitOpenError = types.CircuitOpenError

// Sentinel errors. Match with errors.Is or the predicates below.
var (
	ErrCacheMiss         = types.ErrCacheMiss
	ErrSharedUnavailable = types.ErrSharedUnavailable
	ErrTierUnavailable   = types.ErrTierUnavailable
	ErrCircuitOpen       = types.ErrCircuitOpen
	ErrBulkheadFull      = types.ErrBulkheadFull
	ErrBulkheadTimeout   = types.ErrBulkheadTimeout
	ErrSerialization     = types.ErrSerialization
	ErrInvalidKey        = types.ErrInvalidKey
	ErrValueTooLarge     = types.ErrValueTooLarge
	ErrUnknownProbe      = types.ErrUnknownProbe
	ErrClosed            = types.ErrClosed
	ErrShutdownTimeout   = types.ErrShutdownTimeout
)

// IsCacheMiss reports whether err means no tier held a live value.
func IsCacheMiss(err error) bool {
	return types.IsCacheMiss(err)
}

// IsSharedUnavailable reports whether err means the shared store could not
// be reached.
func IsSharedUnavailable(err error) bool {
	return types.IsSharedUnavailable(err)
}

// IsCircuitOpen reports whether err is a fail-fast rejection from an open
// circuit breaker.
func IsCircuitOpen(err error) bool {
	return types.IsCircuitOpen(err)
}

// IsBulkheadError reports whether err is a bulkhead admission rejection,
// either a full queue or an acquire timeout.
func IsBulkheadError(err error) bool {
	return resilience.IsBulkheadError(err)
}

// IsSerialization reports whether err came from encoding or decoding a
// cached value.
func IsSerialization(err error) bool {
	return types.IsSerialization(err)
}

// IsInvalidKey reports whether err means the key failed validation before
// any tier was touched.
func IsInvalidKey(err error) bool {
	return types.IsInvalidKey(err)
}

// IsValueTooLarge reports whether err means the value exceeded the
// key-type's size cap.
func IsValueTooLarge(err error) bool {
	return types.IsValueTooLarge(err)
}
