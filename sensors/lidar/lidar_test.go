package lidar_test

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"go.viam.com/lio/accumulator"
	"go.viam.com/lio/config"
	"go.viam.com/lio/sample"
	"go.viam.com/lio/sensors"
	"go.viam.com/lio/sensors/lidar"
)

type recordingSink struct {
	points []sample.Point
}

func (s *recordingSink) ReceivePoints(points ...sample.Point) {
	s.points = append(s.points, points...)
}

func newConfig(t *testing.T, attrs config.AttributeMap) *config.AttrConfig {
	cfg, err := config.NewAttrConfig(attrs, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

func TestNew(t *testing.T) {
	logger := golog.NewTestLogger(t)

	t.Run("Wrong sensor kind failure", func(t *testing.T) {
		_, err := lidar.New(sensors.IMUSensor, newConfig(t, nil), &recordingSink{}, logger)
		test.That(t, err, test.ShouldBeError, `sensor of kind "imu" cannot be used as a lidar`)
	})

	t.Run("Config without defaults failure", func(t *testing.T) {
		_, err := lidar.New(sensors.PointsSensor, &config.AttrConfig{}, &recordingSink{}, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("Successful creation of lidar", func(t *testing.T) {
		l, err := lidar.New(sensors.PointsSensor, newConfig(t, nil), &recordingSink{}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, l.Topic, test.ShouldEqual, config.DefaultPointsTopic)
	})
}

func TestProcess(t *testing.T) {
	logger := golog.NewTestLogger(t)
	scan := sample.Scan{Time: 10}
	// Ranges 1 through 10 along x, offsets deliberately out of order.
	for i := 1; i <= 10; i++ {
		scan.Points = append(scan.Points, sample.RawPoint{X: float64(i), Intensity: float64(i), Offset: float64(10-i) / 100})
	}

	t.Run("Near points are dropped and the rest decimated", func(t *testing.T) {
		sink := &recordingSink{}
		l, err := lidar.New(sensors.PointsSensor, newConfig(t, config.AttributeMap{"min_dist": 3.0, "ds_rate": 2.0}), sink, logger)
		test.That(t, err, test.ShouldBeNil)

		test.That(t, l.Process(scan), test.ShouldEqual, 4)
		// Ranges 3..10 survive the filter, every other one is kept: 3, 5, 7, 9.
		ranges := []float64{}
		for _, p := range sink.points {
			ranges = append(ranges, p.Range())
		}
		test.That(t, ranges, test.ShouldResemble, []float64{9, 7, 5, 3})
		test.That(t, sample.PointCloud{Points: sink.points}.IsSorted(), test.ShouldBeTrue)
		test.That(t, sink.points[0].Time, test.ShouldAlmostEqual, 10.01)
		test.That(t, sink.points[0].Intensity, test.ShouldEqual, 9.0)

		scans, received, kept := l.Counts()
		test.That(t, scans, test.ShouldEqual, 1)
		test.That(t, received, test.ShouldEqual, 10)
		test.That(t, kept, test.ShouldEqual, 4)
	})

	t.Run("A scan with nothing in range pushes nothing", func(t *testing.T) {
		sink := &recordingSink{}
		l, err := lidar.New(sensors.PointsSensor, newConfig(t, config.AttributeMap{"min_dist": 100.0}), sink, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, l.Process(scan), test.ShouldEqual, 0)
		test.That(t, sink.points, test.ShouldBeEmpty)
	})

	t.Run("No-return points are dropped before decimation", func(t *testing.T) {
		organized := sample.Scan{Time: 10}
		for i := 1; i <= 6; i++ {
			raw := sample.RawPoint{X: float64(i), Offset: float64(i) / 100}
			if i%2 == 0 {
				raw = sample.RawPoint{X: math.NaN(), Y: math.NaN(), Z: math.NaN(), Offset: raw.Offset}
			}
			organized.Points = append(organized.Points, raw)
		}
		organized.Points = append(organized.Points, sample.RawPoint{X: math.Inf(1), Offset: 0.07})

		sink := &recordingSink{}
		l, err := lidar.New(sensors.PointsSensor, newConfig(t, config.AttributeMap{"min_dist": 0.0, "ds_rate": 1.0}), sink, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, l.Process(organized), test.ShouldEqual, 3)
		test.That(t, l.NonFinite(), test.ShouldEqual, 4)
		for _, p := range sink.points {
			test.That(t, p.Finite(), test.ShouldBeTrue)
		}
	})

	t.Run("Points reach the buffers", func(t *testing.T) {
		acc := accumulator.New(accumulator.Params{Delta: 0.025}, logger)
		l, err := lidar.New(sensors.PointsSensor, newConfig(t, config.AttributeMap{"min_dist": 0.0, "ds_rate": 1.0}), acc, logger)
		test.That(t, err, test.ShouldBeNil)
		l.Process(scan)
		test.That(t, acc.Stats().Points, test.ShouldEqual, 10)
	})
}
