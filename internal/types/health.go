package types

import (
	"encoding/json"
	"time"
)

// HealthStatus represents the health state of a probe or the whole system.
type HealthStatus int

const (
	// HealthStatusUnknown indicates a probe that has never been run.
	HealthStatusUnknown HealthStatus = iota
	// HealthStatusHealthy indicates normal operation.
	HealthStatusHealthy
	// HealthStatusDegraded indicates partial functionality (e.g., the
	// shared store is down but memory and disk still serve).
	HealthStatusDegraded
	// HealthStatusUnhealthy indicates failure.
	HealthStatusUnhealthy
)

// String returns the string representation of health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form so operational
// endpoints serialize readable verdicts.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string form.
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "healthy":
		*s = HealthStatusHealthy
	case "degraded":
		*s = HealthStatusDegraded
	case "unhealthy":
		*s = HealthStatusUnhealthy
	default:
		*s = HealthStatusUnknown
	}
	return nil
}

// Worse reports whether s is a worse verdict than other. Ordering:
// unhealthy > degraded > healthy > unknown.
func (s HealthStatus) Worse(other HealthStatus) bool {
	return severity(s) > severity(other)
}

func severity(s HealthStatus) int {
	switch s {
	case HealthStatusUnhealthy:
		return 3
	case HealthStatusDegraded:
		return 2
	case HealthStatusHealthy:
		return 1
	default:
		return 0
	}
}

// HealthCheckResult is the outcome of a single probe run. Results are
// cached as "last known" by the aggregator between runs.
type HealthCheckResult struct {
	Name       string         `json:"name"`
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Err        string         `json:"error,omitempty"`
	Critical   bool           `json:"critical"`
	Duration   time.Duration  `json:"-"`
	DurationMS float64        `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// HealthSummary counts probe results by status.
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

// OverallHealth is the aggregated verdict across all registered probes.
// Unhealthy only when a critical probe is unhealthy; non-critical failures
// degrade the system instead.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Message   string                       `json:"message"`
	Checks    map[string]HealthCheckResult `json:"checks"`
	Summary   HealthSummary                `json:"summary"`
	Timestamp time.Time                    `json:"timestamp"`
}
