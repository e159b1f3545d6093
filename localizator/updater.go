package localizator

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

// updater runs one iterated update: each step finds point to plane correspondences at the
// current estimate, linearizes, solves for a correction and applies it.
type updater struct {
	params Params
	m      Map

	prior     state.State
	priorInfo *mat.SymDense
	points    []r3.Vector // body frame

	x               state.State
	posterior       *mat.SymDense
	phase           Phase
	iter            int
	correspondences int
}

func newUpdater(params Params, m Map, prior state.State, cov *mat.SymDense, cloud sample.PointCloud) *updater {
	u := &updater{
		params: params,
		m:      m,
		prior:  prior,
		x:      prior,
		phase:  PhaseIterating,
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		u.phase = PhaseDegenerate
		return u
	}
	u.priorInfo = mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(u.priorInfo); err != nil {
		u.phase = PhaseDegenerate
		return u
	}
	u.points = make([]r3.Vector, cloud.Len())
	for i, p := range cloud.Points {
		u.points[i] = prior.Extrinsic.Apply(p.Position)
	}
	return u
}

func (u *updater) step() {
	if u.phase != PhaseIterating {
		return
	}
	u.iter++

	invVar := 1 / (u.params.LidarNoise * u.params.LidarNoise)
	info := mat.NewSymDense(dim, nil)
	grad := make([]float64, dim)
	h := make([]float64, dim)
	hv := mat.NewVecDense(dim, h)
	toBody := spatialmath.Inverse(u.x.Rotation)

	n := 0
	for _, pb := range u.points {
		pw := spatialmath.Rotate(u.x.Rotation, pb).Add(u.x.Position)
		plane, ok := u.m.NearestPlane(pw, u.params.NumNeighbors, u.params.MaxCorrespondenceDist, u.params.PlaneThreshold)
		if !ok {
			continue
		}
		r := plane.Distance(pw)
		if math.Abs(r) > u.params.MaxCorrespondenceDist {
			continue
		}
		// d(n·(R Exp(θ) pb + p))/dθ = pb × (Rᵀ n)
		rot := pb.Cross(spatialmath.Rotate(toBody, plane.Normal))
		for i := range h {
			h[i] = 0
		}
		h[idxPos], h[idxPos+1], h[idxPos+2] = plane.Normal.X, plane.Normal.Y, plane.Normal.Z
		h[idxRot], h[idxRot+1], h[idxRot+2] = rot.X, rot.Y, rot.Z

		info.SymRankOne(info, invVar, hv)
		floats.AddScaled(grad, r*invVar, h)
		n++
	}
	if n < u.params.MinCorrespondences {
		if u.posterior == nil {
			u.correspondences = n
		}
		u.stop()
		return
	}

	var normal mat.SymDense
	normal.AddSym(u.priorInfo, info)
	var chol mat.Cholesky
	if !chol.Factorize(&normal) {
		u.stop()
		return
	}

	// (P⁻¹ + HᵀH/σ²) δ = -P⁻¹ (x ⊟ prior) - Hᵀr/σ²
	var pull mat.VecDense
	pull.MulVec(u.priorInfo, boxMinus(u.x, u.prior))
	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < dim; i++ {
		rhs.SetVec(i, -pull.AtVec(i)-grad[i])
	}
	var delta mat.VecDense
	if err := chol.SolveVecTo(&delta, rhs); err != nil {
		u.stop()
		return
	}
	posterior := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(posterior); err != nil {
		u.stop()
		return
	}

	u.x = boxPlus(u.x, &delta)
	u.posterior = posterior
	u.correspondences = n
	u.phase = nextPhase(u.iter, u.params.MaxIterations, floats.Norm(delta.RawVector().Data, 2), u.params.ConvergenceTolerance)
}

// stop ends the update when a step cannot produce a correction. An earlier accepted iterate is
// kept and reported as exhausted; without one the update is degenerate.
func (u *updater) stop() {
	if u.posterior != nil {
		u.phase = PhaseExhausted
		return
	}
	u.phase = PhaseDegenerate
}

func (u *updater) result() UpdateResult {
	res := UpdateResult{
		Phase:           u.phase,
		Iterations:      u.iter,
		Correspondences: u.correspondences,
	}
	if u.phase.Corrected() {
		res.Correction = floats.Norm(boxMinus(u.x, u.prior).RawVector().Data, 2)
	}
	return res
}
