package localizator

// Phase is the state of one registration update.
type Phase uint8

const (
	// PhaseIterating means another refinement step will run.
	PhaseIterating = Phase(iota)
	// PhaseConverged means the last correction fell below the tolerance.
	PhaseConverged
	// PhaseExhausted means the iteration budget ran out before convergence.
	PhaseExhausted
	// PhaseDegenerate means registration was skipped and the propagated state kept.
	PhaseDegenerate
)

func (p Phase) String() string {
	switch p {
	case PhaseIterating:
		return "iterating"
	case PhaseConverged:
		return "converged"
	case PhaseExhausted:
		return "exhausted"
	case PhaseDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Corrected reports whether the update changed the state.
func (p Phase) Corrected() bool {
	return p == PhaseConverged || p == PhaseExhausted
}

// nextPhase decides the phase after iteration number iter (1 based) produced a correction of
// the given size.
func nextPhase(iter, maxIters int, correction, tolerance float64) Phase {
	switch {
	case correction < tolerance:
		return PhaseConverged
	case iter >= maxIters:
		return PhaseExhausted
	default:
		return PhaseIterating
	}
}

// UpdateResult describes how an update ended.
type UpdateResult struct {
	Phase           Phase
	Iterations      int
	Correspondences int
	// Correction is the size of the total correction applied to the propagated state.
	Correction float64
}
