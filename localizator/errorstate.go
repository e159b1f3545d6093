package localizator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

// Error state layout: position, velocity, rotation (right perturbation), gyro bias, accel bias.
const (
	idxPos = 3 * iota
	idxVel
	idxRot
	idxBiasGyro
	idxBiasAcc
	dim
)

// boxPlus applies the error state correction delta to s.
func boxPlus(s state.State, delta mat.Vector) state.State {
	s.Position = s.Position.Add(spatialmath.DenseToVec(delta, idxPos))
	s.Velocity = s.Velocity.Add(spatialmath.DenseToVec(delta, idxVel))
	s.Rotation = spatialmath.Normalize(quat.Mul(s.Rotation, spatialmath.Exp(spatialmath.DenseToVec(delta, idxRot))))
	s.BiasGyro = s.BiasGyro.Add(spatialmath.DenseToVec(delta, idxBiasGyro))
	s.BiasAcc = s.BiasAcc.Add(spatialmath.DenseToVec(delta, idxBiasAcc))
	return s
}

// boxMinus returns the error state taking ref to s, so that boxPlus(ref, boxMinus(s, ref)) == s.
func boxMinus(s, ref state.State) *mat.VecDense {
	out := mat.NewVecDense(dim, nil)
	set := func(offset int, v r3.Vector) {
		out.SetVec(offset, v.X)
		out.SetVec(offset+1, v.Y)
		out.SetVec(offset+2, v.Z)
	}
	set(idxPos, s.Position.Sub(ref.Position))
	set(idxVel, s.Velocity.Sub(ref.Velocity))
	set(idxRot, spatialmath.Log(quat.Mul(spatialmath.Inverse(ref.Rotation), s.Rotation)))
	set(idxBiasGyro, s.BiasGyro.Sub(ref.BiasGyro))
	set(idxBiasAcc, s.BiasAcc.Sub(ref.BiasAcc))
	return out
}

func setBlock(dst *mat.Dense, row, col int, src mat.Matrix) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(row+i, col+j, src.At(i, j))
		}
	}
}

func identity3(scale float64) *mat.DiagDense {
	return mat.NewDiagDense(3, []float64{scale, scale, scale})
}

// InitialCovariance is the error state covariance assigned on initialization.
func InitialCovariance() *mat.SymDense {
	diag := make([]float64, 0, dim)
	for _, v := range []float64{1e-4, 1e-2, 1e-4, 1e-6, 1e-4} {
		diag = append(diag, v, v, v)
	}
	cov := mat.NewSymDense(dim, nil)
	for i, v := range diag {
		cov.SetSym(i, i, v)
	}
	return cov
}

// transition returns the discrete error state transition over dt starting from s.
func transition(s state.State, dt float64) *mat.Dense {
	f := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		f.Set(i, i, 1)
	}
	rot := spatialmath.RotationMatrix(s.Rotation)

	setBlock(f, idxPos, idxVel, identity3(dt))

	var accBlock mat.Dense
	accBlock.Mul(rot, spatialmath.Skew(s.Acc.Sub(s.BiasAcc)))
	accBlock.Scale(-dt, &accBlock)
	setBlock(f, idxVel, idxRot, &accBlock)

	var biasAccBlock mat.Dense
	biasAccBlock.Scale(-dt, rot)
	setBlock(f, idxVel, idxBiasAcc, &biasAccBlock)

	w := s.Gyro.Sub(s.BiasGyro)
	setBlock(f, idxRot, idxRot, spatialmath.RotationMatrix(spatialmath.Exp(w.Mul(-dt))))
	setBlock(f, idxRot, idxBiasGyro, identity3(-dt))
	return f
}

// symmetrize returns (m + mᵀ)/2.
func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}
