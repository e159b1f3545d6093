// Package sensors describes the ingestion topics the engine subscribes to.
package sensors

import (
	"go.viam.com/lio/config"
)

// Kind is the type of data a topic carries.
type Kind string

const (
	// KindPoints topics carry LiDAR scans.
	KindPoints = Kind("points")
	// KindIMU topics carry inertial samples.
	KindIMU = Kind("imu")
)

// Sensor is a topic the engine ingests from.
type Sensor struct {
	Kind         Kind
	DefaultTopic string
}

var (
	// PointsSensor is the LiDAR topic.
	PointsSensor = Sensor{Kind: KindPoints, DefaultTopic: config.DefaultPointsTopic}
	// IMUSensor is the inertial topic.
	IMUSensor = Sensor{Kind: KindIMU, DefaultTopic: config.DefaultIMUsTopic}
)

// GetTopic returns the configured topic for the sensor, or its default.
func (sensor Sensor) GetTopic(svcConfig *config.AttrConfig) string {
	var topic string
	switch sensor.Kind {
	case KindPoints:
		topic = svcConfig.PointsTopic
	case KindIMU:
		topic = svcConfig.IMUsTopic
	}
	if topic == "" {
		return sensor.DefaultTopic
	}
	return topic
}
