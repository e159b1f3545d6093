// Package state holds the fused platform state and the inertial kinematic model shared by
// motion compensation and propagation.
package state

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
)

// StandardGravity is the gravity vector used when none is configured (global frame, z up).
var StandardGravity = r3.Vector{Z: -9.80665}

// State is the fused estimate at Time. Rotation and Position take body coordinates to global.
// Extrinsic takes LiDAR coordinates to body coordinates and is constant for the process lifetime.
type State struct {
	Time     float64
	Position r3.Vector
	Velocity r3.Vector
	Rotation quat.Number
	BiasGyro r3.Vector
	BiasAcc  r3.Vector
	Gravity  r3.Vector

	Extrinsic spatialmath.Transform

	// Last inertial input, held constant until the next sample.
	Gyro r3.Vector
	Acc  r3.Vector
}

// New returns a state at rest at the origin.
func New(t float64, gravity r3.Vector, extrinsic spatialmath.Transform) State {
	return State{
		Time:      t,
		Rotation:  spatialmath.IdentityQuat(),
		Gravity:   gravity,
		Extrinsic: extrinsic,
		// a platform at rest measures the reaction to gravity
		Acc: gravity.Mul(-1),
	}
}

// Pose returns the body to global transform.
func (s State) Pose() spatialmath.Transform {
	return spatialmath.Transform{Rotation: s.Rotation, Translation: s.Position}
}

// LidarPose returns the LiDAR to global transform.
func (s State) LidarPose() spatialmath.Transform {
	return s.Pose().Compose(s.Extrinsic)
}

// ToGlobal expresses a sensor frame cloud in the global frame.
func (s State) ToGlobal(cloud sample.PointCloud) sample.PointCloud {
	return cloud.Transform(s.LidarPose(), sample.FrameGlobal)
}

// WithPose returns a copy of s with the pose replaced.
func (s State) WithPose(t spatialmath.Transform) State {
	s.Rotation = spatialmath.Normalize(t.Rotation)
	s.Position = t.Translation
	return s
}

// Validate checks the state invariants.
func (s State) Validate() error {
	if !spatialmath.IsUnit(s.Rotation, 1e-6) {
		return errors.Errorf("rotation is not a unit quaternion (norm %f)", quat.Abs(s.Rotation))
	}
	if !spatialmath.IsUnit(s.Extrinsic.Rotation, 1e-6) {
		return errors.New("extrinsic rotation is not a unit quaternion")
	}
	return nil
}

// Step advances s by dt seconds with the given raw inertial reading held constant.
// Both compensation and propagation integrate through this function.
func Step(s State, gyro, acc r3.Vector, dt float64) State {
	s.Gyro = gyro
	s.Acc = acc
	if dt <= 0 {
		return s
	}
	w := gyro.Sub(s.BiasGyro)
	a := spatialmath.Rotate(s.Rotation, acc.Sub(s.BiasAcc)).Add(s.Gravity)

	s.Position = s.Position.Add(s.Velocity.Mul(dt)).Add(a.Mul(0.5 * dt * dt))
	s.Velocity = s.Velocity.Add(a.Mul(dt))
	s.Rotation = spatialmath.Normalize(quat.Mul(s.Rotation, spatialmath.Exp(w.Mul(dt))))
	s.Time += dt
	return s
}

// Advance integrates s through the inertial samples up to time t. Samples at or before s.Time
// only update the held reading; samples after t are ignored. It never moves time backward.
func Advance(s State, imus []sample.IMU, t float64) State {
	return AdvanceFunc(s, imus, t, nil)
}

// AdvanceFunc is Advance with a hook called before every integration step with the state the
// step starts from and the step length.
func AdvanceFunc(s State, imus []sample.IMU, t float64, onStep func(from State, dt float64)) State {
	stepTo := func(to float64) {
		if onStep != nil {
			onStep(s, to-s.Time)
		}
		s = Step(s, s.Gyro, s.Acc, to-s.Time)
		s.Time = to
	}
	for _, imu := range imus {
		if imu.Time > t {
			break
		}
		if imu.Time > s.Time {
			stepTo(imu.Time)
		}
		s.Gyro, s.Acc = imu.Gyro, imu.Acc
	}
	if t > s.Time {
		stepTo(t)
	}
	return s
}
