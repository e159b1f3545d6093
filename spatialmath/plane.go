package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Plane is the set of points x with Normal·x + Offset == 0. Normal has unit length.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// Distance returns the signed distance of x from the plane.
func (p Plane) Distance(x r3.Vector) float64 {
	return p.Normal.Dot(x) + p.Offset
}

// FitPlane fits a plane to pts by principal component analysis. It returns the plane and the
// RMS distance of the points from it; ok is false with fewer than three points or when the
// points are collinear.
func FitPlane(pts []r3.Vector) (plane Plane, rms float64, ok bool) {
	if len(pts) < 3 {
		return Plane{}, 0, false
	}
	data := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return Plane{}, 0, false
	}
	values := eig.Values(nil)
	// eigenvalues are ascending: the smallest belongs to the normal
	if values[1] <= 1e-12 {
		return Plane{}, 0, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()

	var centroid r3.Vector
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	plane = Plane{Normal: normal, Offset: -normal.Dot(centroid)}
	var sum float64
	for _, p := range pts {
		d := plane.Distance(p)
		sum += d * d
	}
	return plane, math.Sqrt(sum / float64(len(pts))), true
}
