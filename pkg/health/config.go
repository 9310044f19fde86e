// Package health tracks token issuance outcomes and derives the service
// health status consumed by the readiness and liveness endpoints.
package health

import (
	"fmt"
)

// Status is the derived service health status. It is never stored; it is
// recomputed on every read from the tracked counters and external signals.
type Status string

const (
	// StatusHealthy means the service is serving normally.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the service is serving but has recent failures
	// or a depressed success rate.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy means the failure pattern justifies an external
	// restart once it persists beyond the liveness grace window.
	StatusUnhealthy Status = "unhealthy"

	// StatusNotReady means the service must not receive new traffic,
	// either because startup did not complete or because it is draining.
	StatusNotReady Status = "not_ready"
)

// Thresholds configures the status computation. The zero value is not
// usable; start from DefaultThresholds.
type Thresholds struct {
	// ConsecutiveFailureLimit is the trailing failure run length at which
	// the service becomes unhealthy.
	ConsecutiveFailureLimit int

	// MinRequestsForRate is the minimum number of recorded requests before
	// the success rate alone can mark the service unhealthy.
	MinRequestsForRate int

	// UnhealthyRate is the success rate below which the service is
	// unhealthy, once MinRequestsForRate requests have been seen.
	UnhealthyRate float64

	// DegradedRate is the success rate below which the service is
	// degraded.
	DegradedRate float64
}

// DefaultThresholds returns the standard policy: 5 consecutive failures or a
// success rate under 0.5 across at least 10 requests is unhealthy; any
// trailing failure or a rate under 0.8 is degraded.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailureLimit: 5,
		MinRequestsForRate:      10,
		UnhealthyRate:           0.5,
		DegradedRate:            0.8,
	}
}

// Validate checks the thresholds for internal consistency.
func (t Thresholds) Validate() error {
	if t.ConsecutiveFailureLimit < 1 {
		return fmt.Errorf("consecutive failure limit must be >= 1, got %d", t.ConsecutiveFailureLimit)
	}
	if t.MinRequestsForRate < 1 {
		return fmt.Errorf("minimum requests for rate must be >= 1, got %d", t.MinRequestsForRate)
	}
	if t.UnhealthyRate <= 0 || t.UnhealthyRate > 1 {
		return fmt.Errorf("unhealthy rate must be in (0, 1], got %v", t.UnhealthyRate)
	}
	if t.DegradedRate < t.UnhealthyRate || t.DegradedRate > 1 {
		return fmt.Errorf("degraded rate must be in [%v, 1], got %v", t.UnhealthyRate, t.DegradedRate)
	}
	return nil
}
