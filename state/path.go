package state

import (
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/lio/spatialmath"
)

// EdgePolicy decides how poses are resolved for times outside a path.
type EdgePolicy uint8

const (
	// EdgeClamp uses the nearest path endpoint.
	EdgeClamp = EdgePolicy(iota)
	// EdgeExtrapolate continues the motion of the two outermost states.
	EdgeExtrapolate
)

// ParseEdgePolicy converts a configuration string into an EdgePolicy.
func ParseEdgePolicy(s string) (EdgePolicy, error) {
	switch s {
	case "", "clamp":
		return EdgeClamp, nil
	case "extrapolate":
		return EdgeExtrapolate, nil
	default:
		return EdgeClamp, errors.Errorf("unknown edge policy %q", s)
	}
}

func (p EdgePolicy) String() string {
	if p == EdgeExtrapolate {
		return "extrapolate"
	}
	return "clamp"
}

// Path is a time ordered sequence of states produced by integration.
type Path []State

// Start returns the first state's time.
func (p Path) Start() float64 {
	return p[0].Time
}

// End returns the last state's time.
func (p Path) End() float64 {
	return p[len(p)-1].Time
}

// IsOrdered reports whether state times are non-decreasing.
func (p Path) IsOrdered() bool {
	return sort.SliceIsSorted(p, func(i, j int) bool { return p[i].Time < p[j].Time })
}

// Bracket returns the indices of the states around t: p[lo].Time <= t <= p[hi].Time.
// For t outside the path both indices point at the nearest endpoint.
func (p Path) Bracket(t float64) (lo, hi int) {
	hi = sort.Search(len(p), func(i int) bool { return p[i].Time >= t })
	switch {
	case hi == 0:
		return 0, 0
	case hi == len(p):
		return len(p) - 1, len(p) - 1
	case p[hi].Time == t:
		return hi, hi
	default:
		return hi - 1, hi
	}
}

// PoseAt returns the body pose at time t by interpolating between bracketing states.
func (p Path) PoseAt(t float64, policy EdgePolicy) spatialmath.Transform {
	if len(p) == 0 {
		return spatialmath.Identity()
	}
	if len(p) == 1 {
		return p[0].Pose()
	}
	lo, hi := p.Bracket(t)
	if lo == hi {
		outside := t < p.Start() || t > p.End()
		if !outside || policy == EdgeClamp {
			return p[lo].Pose()
		}
		// extrapolate from the outermost segment with distinct times
		if lo == 0 {
			lo, hi = 0, 1
		} else {
			lo, hi = len(p)-2, len(p)-1
		}
	}
	span := p[hi].Time - p[lo].Time
	if span <= 0 {
		return p[hi].Pose()
	}
	return spatialmath.Interpolate(p[lo].Pose(), p[hi].Pose(), (t-p[lo].Time)/span)
}
