package sensors_test

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/lio/config"
	"go.viam.com/lio/sensors"
)

func TestGetTopic(t *testing.T) {
	t.Run("Unset topics fall back to defaults", func(t *testing.T) {
		cfg := &config.AttrConfig{}
		test.That(t, sensors.PointsSensor.GetTopic(cfg), test.ShouldEqual, config.DefaultPointsTopic)
		test.That(t, sensors.IMUSensor.GetTopic(cfg), test.ShouldEqual, config.DefaultIMUsTopic)
	})

	t.Run("Configured topics are used", func(t *testing.T) {
		cfg := &config.AttrConfig{PointsTopic: "/ouster/points", IMUsTopic: "/ouster/imu"}
		test.That(t, sensors.PointsSensor.GetTopic(cfg), test.ShouldEqual, "/ouster/points")
		test.That(t, sensors.IMUSensor.GetTopic(cfg), test.ShouldEqual, "/ouster/imu")
	})
}
