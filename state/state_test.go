package state

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
)

func atRest(t float64) State {
	return New(t, StandardGravity, spatialmath.Identity())
}

func TestStep(t *testing.T) {
	t.Run("A platform at rest stays at rest", func(t *testing.T) {
		s := atRest(0)
		for i := 0; i < 100; i++ {
			s = Step(s, r3.Vector{}, StandardGravity.Mul(-1), 0.01)
		}
		test.That(t, s.Position.Norm(), test.ShouldBeLessThan, 1e-9)
		test.That(t, s.Velocity.Norm(), test.ShouldBeLessThan, 1e-9)
		test.That(t, s.Time, test.ShouldAlmostEqual, 1.0, 1e-9)
	})

	t.Run("Constant acceleration integrates exactly", func(t *testing.T) {
		s := atRest(0)
		acc := StandardGravity.Mul(-1).Add(r3.Vector{X: 2})
		s = Step(s, r3.Vector{}, acc, 1)
		test.That(t, s.Position.X, test.ShouldAlmostEqual, 1.0, 1e-9)
		test.That(t, s.Velocity.X, test.ShouldAlmostEqual, 2.0, 1e-9)
	})

	t.Run("Yaw rate rotates the orientation", func(t *testing.T) {
		s := atRest(0)
		s = Step(s, r3.Vector{Z: math.Pi / 2}, StandardGravity.Mul(-1), 1)
		heading := spatialmath.Rotate(s.Rotation, r3.Vector{X: 1})
		test.That(t, heading.Y, test.ShouldAlmostEqual, 1.0, 1e-9)
		test.That(t, spatialmath.IsUnit(s.Rotation, 1e-12), test.ShouldBeTrue)
	})

	t.Run("Non-positive dt only records the reading", func(t *testing.T) {
		s := atRest(5)
		next := Step(s, r3.Vector{X: 1}, r3.Vector{}, -1)
		test.That(t, next.Time, test.ShouldEqual, 5.0)
		test.That(t, next.Gyro, test.ShouldResemble, r3.Vector{X: 1})
		test.That(t, next.Position, test.ShouldResemble, s.Position)
	})
}

func TestAdvance(t *testing.T) {
	imus := []sample.IMU{
		{Time: 0.5, Acc: r3.Vector{X: 1, Z: 9.80665}},
		{Time: 1.0, Acc: r3.Vector{Z: 9.80665}},
		{Time: 1.5, Acc: r3.Vector{X: 100, Z: 9.80665}},
	}

	t.Run("Ends exactly at the target time", func(t *testing.T) {
		s := Advance(atRest(0.25), imus, 1.2)
		test.That(t, s.Time, test.ShouldEqual, 1.2)
		// 0.25..0.5 at rest, 0.5..1.0 at 1 m/s^2, then coasting
		test.That(t, s.Velocity.X, test.ShouldAlmostEqual, 0.5, 1e-9)
	})

	t.Run("Never moves time backward", func(t *testing.T) {
		s := Advance(atRest(2), imus, 1)
		test.That(t, s.Time, test.ShouldEqual, 2.0)
		test.That(t, s.Velocity.Norm(), test.ShouldEqual, 0.0)
	})

	t.Run("Same target twice gives the same state", func(t *testing.T) {
		a := Advance(atRest(0), imus, 1.3)
		b := Advance(a, imus, 1.3)
		test.That(t, b, test.ShouldResemble, a)
	})
}

func TestPath(t *testing.T) {
	p := Path{
		atRest(0).WithPose(spatialmath.Transform{Rotation: spatialmath.IdentityQuat()}),
		atRest(1).WithPose(spatialmath.Transform{Rotation: spatialmath.Exp(r3.Vector{Z: 1}), Translation: r3.Vector{X: 1}}),
		atRest(2).WithPose(spatialmath.Transform{Rotation: spatialmath.Exp(r3.Vector{Z: 2}), Translation: r3.Vector{X: 2}}),
	}
	test.That(t, p.IsOrdered(), test.ShouldBeTrue)

	t.Run("Bracket finds surrounding states", func(t *testing.T) {
		lo, hi := p.Bracket(0.5)
		test.That(t, []int{lo, hi}, test.ShouldResemble, []int{0, 1})
		lo, hi = p.Bracket(1)
		test.That(t, []int{lo, hi}, test.ShouldResemble, []int{1, 1})
		lo, hi = p.Bracket(-3)
		test.That(t, []int{lo, hi}, test.ShouldResemble, []int{0, 0})
		lo, hi = p.Bracket(7)
		test.That(t, []int{lo, hi}, test.ShouldResemble, []int{2, 2})
	})

	t.Run("Interpolates inside the path", func(t *testing.T) {
		pose := p.PoseAt(1.5, EdgeClamp)
		test.That(t, pose.Translation.X, test.ShouldAlmostEqual, 1.5, 1e-12)
		test.That(t, spatialmath.Log(pose.Rotation).Z, test.ShouldAlmostEqual, 1.5, 1e-9)
	})

	t.Run("Clamp policy holds the endpoints", func(t *testing.T) {
		test.That(t, p.PoseAt(3, EdgeClamp).Translation.X, test.ShouldAlmostEqual, 2, 1e-12)
		test.That(t, p.PoseAt(-1, EdgeClamp).Translation.X, test.ShouldAlmostEqual, 0, 1e-12)
	})

	t.Run("Extrapolate policy continues the motion", func(t *testing.T) {
		test.That(t, p.PoseAt(3, EdgeExtrapolate).Translation.X, test.ShouldAlmostEqual, 3, 1e-12)
		test.That(t, p.PoseAt(-1, EdgeExtrapolate).Translation.X, test.ShouldAlmostEqual, -1, 1e-12)
	})

	t.Run("Parse edge policy", func(t *testing.T) {
		policy, err := ParseEdgePolicy("extrapolate")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, policy, test.ShouldEqual, EdgeExtrapolate)
		_, err = ParseEdgePolicy("nearest")
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestValidate(t *testing.T) {
	s := atRest(0)
	test.That(t, s.Validate(), test.ShouldBeNil)
	s.Rotation = quat.Number{Real: 2}
	test.That(t, s.Validate(), test.ShouldNotBeNil)
}
