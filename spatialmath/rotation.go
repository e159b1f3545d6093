// Package spatialmath defines the rotation and rigid transform operations used by the odometry pipeline.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Below this rotation angle the first order expansions of Exp and Log are used.
const smallAngle = 1e-9

// IdentityQuat returns the identity rotation.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// Norm returns the norm of the imaginary part of the quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales q to unit length. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return IdentityQuat()
	}
	return quat.Scale(1/n, q)
}

// IsUnit reports whether q has unit norm within tol.
func IsUnit(q quat.Number, tol float64) bool {
	return math.Abs(quat.Abs(q)-1) <= tol
}

// Exp maps a rotation vector (axis scaled by angle, radians) to a unit quaternion.
func Exp(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < smallAngle {
		return Normalize(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// Log maps a unit quaternion to its rotation vector, always taking the shortest rotation.
func Log(q quat.Number) r3.Vector {
	q = Normalize(q)
	if q.Real < 0 {
		q = Flip(q)
	}
	n := Norm(q)
	if n < smallAngle {
		return r3.Vector{X: 2 * q.Imag, Y: 2 * q.Jmag, Z: 2 * q.Kmag}
	}
	angle := 2 * math.Atan2(n, q.Real)
	return r3.Vector{X: q.Imag / n, Y: q.Jmag / n, Z: q.Kmag / n}.Mul(angle)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Inverse returns the inverse of the unit rotation q.
func Inverse(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// Slerp interpolates between two unit quaternions along the shortest arc.
// alpha=0 returns q0 and alpha=1 returns q1; values outside [0,1] extrapolate.
func Slerp(q0, q1 quat.Number, alpha float64) quat.Number {
	dot := q0.Real*q1.Real + q0.Imag*q1.Imag + q0.Jmag*q1.Jmag + q0.Kmag*q1.Kmag
	if dot < 0 {
		q1 = Flip(q1)
	}
	delta := Log(quat.Mul(quat.Conj(q0), q1))
	return Normalize(quat.Mul(q0, Exp(delta.Mul(alpha))))
}

// AngleBetween returns the rotation angle separating two orientations, in radians.
func AngleBetween(q0, q1 quat.Number) float64 {
	return Log(quat.Mul(quat.Conj(q0), q1)).Norm()
}

// Skew returns the 3x3 cross product matrix of v, so that Skew(v)*w == v x w.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// RotationMatrix returns the 3x3 rotation matrix of the unit quaternion q.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// VecToDense converts a vector to a 3x1 column.
func VecToDense(v r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

// DenseToVec reads a 3-vector out of a column at the given offset.
func DenseToVec(v mat.Vector, offset int) r3.Vector {
	return r3.Vector{X: v.AtVec(offset), Y: v.AtVec(offset + 1), Z: v.AtVec(offset + 2)}
}

// IsFinite reports whether every component of v is neither NaN nor infinite.
func IsFinite(v r3.Vector) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
