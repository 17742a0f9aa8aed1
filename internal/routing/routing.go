// Package routing estimates real travel times from a requester's location to
// shortlisted donors. It backs stage 2 of ranking; stage 1 never needs it.
package routing

import (
	"context"

	"lifeconnect/pkg/domain"
)

// UnreachableDurationSeconds is the sentinel duration assigned to a
// destination the routing service could not price. It is larger than any real
// driving time, so unreachable donors sort last without special-casing the
// comparator.
const UnreachableDurationSeconds = 999999

// Estimate is the travel estimate for one destination, positionally aligned
// with the destinations passed to DriveTimes.
type Estimate struct {
	// DurationSeconds is the traffic-aware driving time, or
	// UnreachableDurationSeconds when the service had no route.
	DurationSeconds int
	// DurationText and DistanceText are the provider's display strings,
	// "N/A" when unavailable.
	DurationText string
	DistanceText string
	// Reachable is false when the provider returned no duration for this
	// destination.
	Reachable bool
}

// Estimator prices a set of destinations from one origin using driving mode
// and departure-time-now traffic.
//
// A call either succeeds for the batch or fails as a whole: transport errors
// and non-OK provider statuses surface as an error and callers decide whether
// to retry or fall back to geometric order. Per-destination failures are NOT
// errors; they come back as unreachable estimates.
type Estimator interface {
	DriveTimes(ctx context.Context, origin domain.GeoPoint, destinations []domain.GeoPoint) ([]Estimate, error)
}

// Unreachable returns the sentinel estimate for a destination without a
// route.
func Unreachable() Estimate {
	return Estimate{
		DurationSeconds: UnreachableDurationSeconds,
		DurationText:    "N/A",
		DistanceText:    "N/A",
		Reachable:       false,
	}
}
