// Package sample defines the timestamped sensor samples and point clouds consumed by the pipeline.
//
// Times are seconds on the sensor clock, as delivered by the transport.
package sample

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"

	"go.viam.com/lio/spatialmath"
)

// Frame tags the reference frame a cloud is expressed in.
type Frame uint8

const (
	// FrameSensor is the LiDAR's own frame.
	FrameSensor = Frame(iota)
	// FrameBody is the inertial/body frame of the platform.
	FrameBody
	// FrameGlobal is the map frame.
	FrameGlobal
)

func (f Frame) String() string {
	switch f {
	case FrameSensor:
		return "sensor"
	case FrameBody:
		return "body"
	case FrameGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Point is a single ranged point with its acquisition time.
type Point struct {
	Position  r3.Vector
	Time      float64
	Intensity float64
}

// Finite reports whether the position and time are all finite numbers.
func (p Point) Finite() bool {
	return spatialmath.IsFinite(p.Position) && !math.IsNaN(p.Time) && !math.IsInf(p.Time, 0)
}

// Range returns the distance of the point from the origin of its frame.
func (p Point) Range() float64 {
	return p.Position.Norm()
}

// IMU is an inertial sample: angular rate (rad/s) and specific force (m/s^2), body frame.
type IMU struct {
	Time float64
	Gyro r3.Vector
	Acc  r3.Vector
}

// PointCloud is an ordered sequence of points expressed in one frame.
type PointCloud struct {
	Frame  Frame
	Points []Point
}

// NewPointCloud returns an empty cloud in the given frame.
func NewPointCloud(frame Frame, capacity int) PointCloud {
	return PointCloud{Frame: frame, Points: make([]Point, 0, capacity)}
}

// Len returns the number of points.
func (pc PointCloud) Len() int {
	return len(pc.Points)
}

// Empty reports whether the cloud has no points.
func (pc PointCloud) Empty() bool {
	return len(pc.Points) == 0
}

// IsSorted reports whether acquisition times are non-decreasing.
func (pc PointCloud) IsSorted() bool {
	return sort.SliceIsSorted(pc.Points, func(i, j int) bool { return pc.Points[i].Time < pc.Points[j].Time })
}

// SortByTime orders points by acquisition time, keeping arrival order for ties.
func (pc PointCloud) SortByTime() {
	sort.SliceStable(pc.Points, func(i, j int) bool { return pc.Points[i].Time < pc.Points[j].Time })
}

// TimeSpan returns the first and last acquisition times. ok is false for an empty cloud.
func (pc PointCloud) TimeSpan() (first, last float64, ok bool) {
	if pc.Empty() {
		return 0, 0, false
	}
	return pc.Points[0].Time, pc.Points[len(pc.Points)-1].Time, true
}

// Transform returns a copy of the cloud with every point mapped by t and tagged with frame.
func (pc PointCloud) Transform(t spatialmath.Transform, frame Frame) PointCloud {
	out := PointCloud{Frame: frame, Points: make([]Point, len(pc.Points))}
	for i, p := range pc.Points {
		p.Position = t.Apply(p.Position)
		out.Points[i] = p
	}
	return out
}

// Positions returns the point positions in order.
func (pc PointCloud) Positions() []r3.Vector {
	out := make([]r3.Vector, len(pc.Points))
	for i, p := range pc.Points {
		out[i] = p.Position
	}
	return out
}

// Clone returns a deep copy of the cloud.
func (pc PointCloud) Clone() PointCloud {
	out := PointCloud{Frame: pc.Frame, Points: make([]Point, len(pc.Points))}
	copy(out.Points, pc.Points)
	return out
}

// RawPoint is a point as delivered inside a scan message: offset is relative to the scan stamp.
type RawPoint struct {
	X, Y, Z   float64
	Intensity float64
	Offset    float64
}

// Scan is one raw LiDAR message.
type Scan struct {
	Time   float64
	Points []RawPoint
}
