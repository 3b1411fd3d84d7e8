package chunkmanager

import "math"

// Tier is a coarse scheduling class.  A lower tier is always served before a higher one
// regardless of the numeric priority within the tier.
type Tier int

const (
	// TierVisible holds chunks needed by a fully visible view.
	TierVisible Tier = iota

	// TierNearby holds chunks of views with a finite visibility weighting, e.g. views
	// that are partially hidden.
	TierNearby

	// TierPrefetch holds speculative requests.
	TierPrefetch

	// TierRecent holds chunks that were not requested in the latest priority update.
	// They are never downloaded and are evicted once there are too many of them.
	TierRecent
)

func (t Tier) String() string {
	switch t {
	case TierVisible:
		return "visible"
	case TierNearby:
		return "nearby"
	case TierPrefetch:
		return "prefetch"
	case TierRecent:
		return "recent"
	default:
		return "unknown"
	}
}

// PriorityTier maps a visibility value to a tier.  +Inf is fully visible, -Inf is not
// visible at all, and finite values rank between.
func PriorityTier(visibility float64) Tier {
	switch {
	case math.IsInf(visibility, 1):
		return TierVisible
	case math.IsInf(visibility, -1) || math.IsNaN(visibility):
		return TierPrefetch
	default:
		return TierNearby
	}
}

// BasePriority returns the priority offset contributed by a visibility value.
func BasePriority(visibility float64) float64 {
	if math.IsInf(visibility, 0) || math.IsNaN(visibility) {
		return 0
	}
	return visibility
}

// less returns true if (t1, p1) should be served before (t2, p2).
func less(t1 Tier, p1 float64, t2 Tier, p2 float64) bool {
	if t1 != t2 {
		return t1 < t2
	}
	return p1 > p2
}
