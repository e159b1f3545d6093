// Package lidar implements the LiDAR ingestion adapter
package lidar

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/lio/config"
	"go.viam.com/lio/sample"
	"go.viam.com/lio/sensors"
)

// PointSink receives filtered points.
type PointSink interface {
	ReceivePoints(points ...sample.Point)
}

// Lidar turns raw scan messages into timestamped points for the buffers.
type Lidar struct {
	Topic   string
	minDist float64
	dsRate  int
	sink    PointSink
	logger  golog.Logger

	scans     atomic.Int64
	received  atomic.Int64
	kept      atomic.Int64
	nonFinite atomic.Int64
}

// New creates a new Lidar adapter based on the sensor definition and the service config.
func New(sensor sensors.Sensor, svcConfig *config.AttrConfig, sink PointSink, logger golog.Logger) (*Lidar, error) {
	if sensor.Kind != sensors.KindPoints {
		return nil, errors.Errorf("sensor of kind %q cannot be used as a lidar", sensor.Kind)
	}
	if svcConfig.MinDist == nil {
		return nil, errors.New("min_dist must be set before creating a lidar")
	}
	if svcConfig.DsRate < 1 {
		return nil, errors.Errorf("ds_rate must be at least 1, got %d", svcConfig.DsRate)
	}
	return &Lidar{
		Topic:   sensor.GetTopic(svcConfig),
		minDist: *svcConfig.MinDist,
		dsRate:  svcConfig.DsRate,
		sink:    sink,
		logger:  logger,
	}, nil
}

// Process filters a scan and pushes the result to the sink: non finite points and points closer
// than min_dist are dropped, every ds_rate-th remaining point is kept, and the rest are sorted by absolute time.
// It returns the number of points pushed.
func (lidar *Lidar) Process(scan sample.Scan) int {
	lidar.scans.Inc()
	lidar.received.Add(int64(len(scan.Points)))

	out := sample.NewPointCloud(sample.FrameSensor, len(scan.Points)/lidar.dsRate+1)
	n := 0
	for _, raw := range scan.Points {
		p := sample.Point{
			Position:  r3.Vector{X: raw.X, Y: raw.Y, Z: raw.Z},
			Time:      scan.Time + raw.Offset,
			Intensity: raw.Intensity,
		}
		// no-return points of organized clouds arrive as NaN
		if !p.Finite() {
			lidar.nonFinite.Inc()
			continue
		}
		if p.Range() < lidar.minDist {
			continue
		}
		n++
		if (n-1)%lidar.dsRate != 0 {
			continue
		}
		out.Points = append(out.Points, p)
	}
	if out.Empty() {
		lidar.logger.Debugf("scan at %.6f on %s had no points after filtering", scan.Time, lidar.Topic)
		return 0
	}
	if !out.IsSorted() {
		out.SortByTime()
	}
	lidar.sink.ReceivePoints(out.Points...)
	lidar.kept.Add(int64(out.Len()))
	return out.Len()
}

// Counts returns the number of scans processed, points received and points kept.
func (lidar *Lidar) Counts() (scans, received, kept int) {
	return int(lidar.scans.Load()), int(lidar.received.Load()), int(lidar.kept.Load())
}

// NonFinite returns the number of points dropped for carrying NaN or infinite values.
func (lidar *Lidar) NonFinite() int {
	return int(lidar.nonFinite.Load())
}
