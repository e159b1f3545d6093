package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid transform: a point p maps to Rotation*p + Translation.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vector
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: IdentityQuat()}
}

// NewTransform builds a transform, normalizing the rotation.
func NewTransform(rotation quat.Number, translation r3.Vector) Transform {
	return Transform{Rotation: Normalize(rotation), Translation: translation}
}

// Apply transforms the point p.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return Rotate(t.Rotation, p).Add(t.Translation)
}

// Compose returns the transform equivalent to applying other first and then t.
func (t Transform) Compose(other Transform) Transform {
	return Transform{
		Rotation:    Normalize(quat.Mul(t.Rotation, other.Rotation)),
		Translation: t.Apply(other.Translation),
	}
}

// Inverse returns the transform undoing t.
func (t Transform) Inverse() Transform {
	inv := Inverse(t.Rotation)
	return Transform{Rotation: inv, Translation: Rotate(inv, t.Translation).Mul(-1)}
}

// Interpolate blends two transforms: translations linearly, rotations along the shortest arc.
func Interpolate(a, b Transform, alpha float64) Transform {
	return Transform{
		Rotation:    Slerp(a.Rotation, b.Rotation, alpha),
		Translation: a.Translation.Add(b.Translation.Sub(a.Translation).Mul(alpha)),
	}
}

// ApproxEqual reports whether two transforms agree within the given translation and angle tolerances.
func (t Transform) ApproxEqual(other Transform, transTol, angleTol float64) bool {
	return t.Translation.Sub(other.Translation).Norm() <= transTol &&
		AngleBetween(t.Rotation, other.Rotation) <= angleTol
}
