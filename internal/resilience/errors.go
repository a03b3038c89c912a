package resilience

import (
	"errors"

	"github.com/quarrylabs/strata/internal/types"
)

// Re-exported from types so callers inside this package tree can write
// resilience.ErrCircuitOpen without a second import.
var (
	ErrCircuitOpen     = types.ErrCircuitOpen
	ErrBulkheadFull    = types.ErrBulkheadFull
	ErrBulkheadTimeout = types.ErrBulkheadTimeout
)

// IsCircuitOpen reports whether err is a fail-fast from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, types.ErrCircuitOpen)
}

// IsBulkheadError reports whether err is a bulkhead rejection, either
// from a full queue or an acquire timeout.
func IsBulkheadError(err error) bool {
	return errors.Is(err, types.ErrBulkheadFull) || errors.Is(err, types.ErrBulkheadTimeout)
}
