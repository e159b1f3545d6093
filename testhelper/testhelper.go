// Package testhelper provides synthetic scenes, sensor streams and folder helpers for testing the odometry pipeline
package testhelper

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

// CreateTempFolderArchitecture creates a new random temporary
// directory with the config, clouds, and map subdirectories used
// for exporting point clouds.
func CreateTempFolderArchitecture() (string, error) {
	name, err := os.MkdirTemp("", "*")
	if err != nil {
		return "", err
	}

	for _, sub := range []string{"config", "clouds", "map"} {
		if err := os.Mkdir(filepath.Join(name, sub), os.ModePerm); err != nil {
			return "", err
		}
	}
	return name, nil
}

// ResetFolder removes all content in path and creates a new directory
// in its place.
func ResetFolder(path string) error {
	err := os.RemoveAll(path)
	if err != nil {
		return err
	}
	err = os.Mkdir(path, os.ModePerm)
	return err
}

// CheckExportedClouds compares the number of files in dir with the previous count.
// When mapped is true a new export is expected, otherwise the count must not change.
func CheckExportedClouds(t *testing.T, dir string, prev int, mapped bool) int {
	t.Helper()
	files, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)

	if mapped {
		test.That(t, len(files), test.ShouldBeGreaterThan, prev)
	} else {
		test.That(t, len(files), test.ShouldEqual, prev)
	}
	return len(files)
}

// Room returns points on the inner surfaces of an axis aligned box centered on the z axis,
// spaced on a regular grid.
func Room(halfX, halfY, floorZ, ceilZ, spacing float64) []r3.Vector {
	var pts []r3.Vector
	steps := func(lo, hi float64) []float64 {
		var out []float64
		for v := lo; v <= hi+1e-9; v += spacing {
			out = append(out, v)
		}
		return out
	}
	xs, ys, zs := steps(-halfX, halfX), steps(-halfY, halfY), steps(floorZ, ceilZ)
	for _, x := range xs {
		for _, y := range ys {
			pts = append(pts, r3.Vector{X: x, Y: y, Z: floorZ}, r3.Vector{X: x, Y: y, Z: ceilZ})
		}
	}
	for _, z := range zs[1 : len(zs)-1] {
		for _, x := range xs {
			pts = append(pts, r3.Vector{X: x, Y: -halfY, Z: z}, r3.Vector{X: x, Y: halfY, Z: z})
		}
		for _, y := range ys[1 : len(ys)-1] {
			pts = append(pts, r3.Vector{X: -halfX, Y: y, Z: z}, r3.Vector{X: halfX, Y: y, Z: z})
		}
	}
	return pts
}

// DefaultRoom is a 10m x 8m room, 4m high, sampled every 25cm.
func DefaultRoom() []r3.Vector {
	return Room(5, 4, -1.5, 2.5, 0.25)
}

// RoomCloud wraps room points into a global frame cloud stamped at t.
func RoomCloud(pts []r3.Vector, t float64) sample.PointCloud {
	cloud := sample.NewPointCloud(sample.FrameGlobal, len(pts))
	for _, p := range pts {
		cloud.Points = append(cloud.Points, sample.Point{Position: p, Time: t})
	}
	return cloud
}

// YawPose returns the ground truth pose of a platform spinning in place about z.
func YawPose(t0, yawRate float64) func(t float64) spatialmath.Transform {
	return func(t float64) spatialmath.Transform {
		return spatialmath.Transform{
			Rotation: spatialmath.Exp(r3.Vector{Z: yawRate * (t - t0)}),
		}
	}
}

// YawIMU returns inertial samples at hz over [t0, t1] for a platform spinning in place about z.
// Gaussian noise with the given standard deviation is added to every axis; seed makes it repeatable.
func YawIMU(t0, t1, hz, yawRate, noise float64, seed int64) []sample.IMU {
	rng := rand.New(rand.NewSource(seed))
	jitter := func() r3.Vector {
		if noise == 0 {
			return r3.Vector{}
		}
		return r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(noise)
	}
	n := int(math.Round((t1-t0)*hz)) + 1
	out := make([]sample.IMU, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sample.IMU{
			Time: t0 + float64(i)/hz,
			Gyro: r3.Vector{Z: yawRate}.Add(jitter()),
			Acc:  state.StandardGravity.Mul(-1).Add(jitter()),
		})
	}
	return out
}

// StaticIMU returns noisy inertial samples of a platform at rest.
func StaticIMU(t0, t1, hz, noise float64, seed int64) []sample.IMU {
	return YawIMU(t0, t1, hz, 0, noise, seed)
}

// Scan samples n world points and expresses each in the sensor frame at its acquisition time.
// Times are spread evenly over [t0, t1). The result is sorted by time.
func Scan(
	world []r3.Vector,
	pose func(t float64) spatialmath.Transform,
	extrinsic spatialmath.Transform,
	t0, t1 float64,
	n int,
	seed int64,
) []sample.Point {
	rng := rand.New(rand.NewSource(seed))
	out := make([]sample.Point, 0, n)
	for i := 0; i < n; i++ {
		tp := t0 + (t1-t0)*float64(i)/float64(n)
		w := world[rng.Intn(len(world))]
		lidar := pose(tp).Compose(extrinsic)
		out = append(out, sample.Point{Position: lidar.Inverse().Apply(w), Time: tp, Intensity: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
