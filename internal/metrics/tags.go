package metrics

import "fmt"

// Tag formats a DataDog tag as "key:value".
func Tag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

// TierTag tags a metric with its cache tier (memory/shared/disk).
func TierTag(tier string) string {
	return Tag("tier", tier)
}

// OperationTag tags a metric with the cache operation name.
func OperationTag(op string) string {
	return Tag("operation", op)
}

// PatternTag tags bulk invalidations with their key pattern.
func PatternTag(pattern string) string {
	return Tag("pattern", pattern)
}

// StatusTag tags an outcome (hit/miss/error).
func StatusTag(status string) string {
	return Tag("status", status)
}

// StrategyTag tags a write with its strategy (lazy/write_through/write_back).
func StrategyTag(strategy string) string {
	return Tag("strategy", strategy)
}

// CircuitStateTag tags a circuit breaker state transition.
func CircuitStateTag(state string) string {
	return Tag("circuit_state", state)
}
