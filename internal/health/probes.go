package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/quarrylabs/strata/internal/types"
)

// FromError adapts a plain error-returning check into a Probe. A nil
// error is healthy; anything else is unhealthy with the error attached.
func FromError(fn func(ctx context.Context) error) Probe {
	return func(ctx context.Context) types.HealthCheckResult {
		if err := fn(ctx); err != nil {
			return types.HealthCheckResult{
				Status:  types.HealthStatusUnhealthy,
				Message: "check failed",
				Err:     err.Error(),
			}
		}
		return types.HealthCheckResult{Status: types.HealthStatusHealthy}
	}
}

// PingProbe probes a remote dependency through its ping function and
// records the round-trip latency.
func PingProbe(ping func(ctx context.Context) error) Probe {
	return func(ctx context.Context) types.HealthCheckResult {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return types.HealthCheckResult{
				Status:  types.HealthStatusUnhealthy,
				Message: "ping failed",
				Err:     err.Error(),
			}
		}
		return types.HealthCheckResult{
			Status: types.HealthStatusHealthy,
			Details: map[string]any{
				"ping_ms": time.Since(start).Seconds() * 1000,
			},
		}
	}
}

// DirWritableProbe verifies that files can be created in dir by writing
// and removing a temp file.
func DirWritableProbe(dir string) Probe {
	return func(ctx context.Context) types.HealthCheckResult {
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return types.HealthCheckResult{
				Status:  types.HealthStatusUnhealthy,
				Message: fmt.Sprintf("directory %s is not writable", dir),
				Err:     err.Error(),
			}
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)

		return types.HealthCheckResult{
			Status: types.HealthStatusHealthy,
			Details: map[string]any{
				"directory": dir,
			},
		}
	}
}

// MemoryUtilizationProbe reports degraded once the memory tier's
// utilization reaches degradedAt and unhealthy at unhealthyAt, both
// fractions of the configured budget.
func MemoryUtilizationProbe(utilization func() float64, degradedAt, unhealthyAt float64) Probe {
	return func(ctx context.Context) types.HealthCheckResult {
		u := utilization()
		result := types.HealthCheckResult{
			Status: types.HealthStatusHealthy,
			Details: map[string]any{
				"utilization": u,
			},
		}

		switch {
		case u >= unhealthyAt:
			result.Status = types.HealthStatusUnhealthy
			result.Message = fmt.Sprintf("memory utilization %.0f%% at or above %.0f%%", u*100, unhealthyAt*100)
		case u >= degradedAt:
			result.Status = types.HealthStatusDegraded
			result.Message = fmt.Sprintf("memory utilization %.0f%% at or above %.0f%%", u*100, degradedAt*100)
		}

		return result
	}
}
