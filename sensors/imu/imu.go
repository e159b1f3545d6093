// Package imu implements the inertial ingestion adapter
package imu

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/lio/config"
	"go.viam.com/lio/sample"
	"go.viam.com/lio/sensors"
	"go.viam.com/lio/spatialmath"
)

// IMUSink receives validated inertial samples.
type IMUSink interface {
	ReceiveIMU(imu sample.IMU)
}

// IMU validates inertial messages before they reach the buffers.
type IMU struct {
	Topic  string
	sink   IMUSink
	logger golog.Logger

	mu       sync.Mutex
	last     float64
	started  bool
	rejected int
}

// New creates a new IMU adapter based on the sensor definition and the service config.
func New(sensor sensors.Sensor, svcConfig *config.AttrConfig, sink IMUSink, logger golog.Logger) (*IMU, error) {
	if sensor.Kind != sensors.KindIMU {
		return nil, errors.Errorf("sensor of kind %q cannot be used as an imu", sensor.Kind)
	}
	return &IMU{Topic: sensor.GetTopic(svcConfig), sink: sink, logger: logger}, nil
}

// Process pushes msg to the sink unless it carries non finite values or does not advance time.
// It reports whether the sample was accepted.
func (imu *IMU) Process(msg sample.IMU) bool {
	imu.mu.Lock()
	defer imu.mu.Unlock()

	if math.IsNaN(msg.Time) || math.IsInf(msg.Time, 0) || !spatialmath.IsFinite(msg.Gyro) || !spatialmath.IsFinite(msg.Acc) {
		imu.rejected++
		imu.logger.Warnw("dropping imu sample with non finite values", "topic", imu.Topic, "time", msg.Time)
		return false
	}
	if imu.started && msg.Time <= imu.last {
		imu.rejected++
		imu.logger.Warnw("dropping imu sample that does not advance time", "topic", imu.Topic, "time", msg.Time, "last", imu.last)
		return false
	}
	imu.started = true
	imu.last = msg.Time
	imu.sink.ReceiveIMU(msg)
	return true
}

// Rejected returns the number of samples dropped so far.
func (imu *IMU) Rejected() int {
	imu.mu.Lock()
	defer imu.mu.Unlock()
	return imu.rejected
}
