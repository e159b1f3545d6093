// Package compensator removes the motion distortion of LiDAR scans using integrated inertial motion.
package compensator

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/state"
)

// ErrNoState is returned when no accepted state exists at or before the window start.
var ErrNoState = errors.New("no state at or before window start")

// Source is the buffered data the compensator integrates over.
type Source interface {
	IMUWindow(from, to float64) []sample.IMU
	StateBefore(t float64) (state.State, bool)
	PointsBetween(t1, t2 float64) sample.PointCloud
}

// Compensator integrates inertial motion over a window and de-skews clouds against it.
type Compensator struct {
	source Source
	policy state.EdgePolicy
	logger golog.Logger
}

// New returns a compensator reading from source.
func New(source Source, policy state.EdgePolicy, logger golog.Logger) *Compensator {
	return &Compensator{source: source, policy: policy, logger: logger}
}

// Integrate produces the path over [t1, t2] starting from the newest accepted state at or before t1.
// The path holds one state at t1, one at every inertial sample time strictly inside the window,
// and one at t2.
func (c *Compensator) Integrate(t1, t2 float64) (state.Path, error) {
	if t2 < t1 {
		return nil, errors.Errorf("window end %f is before window start %f", t2, t1)
	}
	start, ok := c.source.StateBefore(t1)
	if !ok {
		return nil, ErrNoState
	}
	imus := c.source.IMUWindow(start.Time, t2)

	s := state.Advance(start, imus, t1)
	path := make(state.Path, 0, len(imus)+2)
	path = append(path, s)
	for i := range imus {
		if imus[i].Time <= t1 {
			continue
		}
		if imus[i].Time >= t2 {
			break
		}
		s = state.Advance(s, imus[i:i+1], imus[i].Time)
		path = append(path, s)
	}
	if t2 > t1 {
		path = append(path, state.Advance(s, nil, t2))
	}
	return path, nil
}

// Compensate re-expresses every point of a sensor frame cloud in the sensor frame at the path end.
// Each point is moved with the pose interpolated at its own acquisition time and stamped with the
// path end time. Points outside the path resolve according to the edge policy.
func (c *Compensator) Compensate(path state.Path, cloud sample.PointCloud) sample.PointCloud {
	if len(path) == 0 {
		c.logger.Debug("empty path, cloud left uncompensated")
		return cloud.Clone()
	}
	end := path[len(path)-1]
	extrinsic := end.Extrinsic
	toEnd := end.LidarPose().Inverse()

	out := sample.NewPointCloud(sample.FrameSensor, cloud.Len())
	outside := 0
	for _, p := range cloud.Points {
		if p.Time < path.Start() || p.Time > path.End() {
			outside++
		}
		lidar := path.PoseAt(p.Time, c.policy).Compose(extrinsic)
		out.Points = append(out.Points, sample.Point{
			Position:  toEnd.Compose(lidar).Apply(p.Position),
			Time:      end.Time,
			Intensity: p.Intensity,
		})
	}
	if outside > 0 {
		c.logger.Debugf("%d of %d points outside [%.6f, %.6f], resolved by %s", outside, cloud.Len(), path.Start(), path.End(), c.policy)
	}
	return out
}

// CompensateWindow de-skews every retained point in [t1, t2) to t2.
func (c *Compensator) CompensateWindow(t1, t2 float64) (sample.PointCloud, error) {
	path, err := c.Integrate(t1, t2)
	if err != nil {
		return sample.PointCloud{}, err
	}
	return c.Compensate(path, c.source.PointsBetween(t1, t2)), nil
}
