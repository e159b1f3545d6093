// Package config implements functions to assist with attribute evaluation for the odometry engine
package config

import (
	"encoding/json"
	"math"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

// Defaults follow the reference driver.
const (
	DefaultDelta                 = 0.025
	DefaultDsRate                = 4
	DefaultMaxNumIters           = 3
	DefaultMinDist               = 3.0
	DefaultFullRotationTime      = 0.1
	DefaultEmptyLidarTime        = 20.0
	DefaultRealTimeDelay         = 1.0
	DefaultPointsTopic           = "/velodyne_points"
	DefaultIMUsTopic             = "/vectornav/IMU"
	DefaultMapVoxelSize          = 0.5
	DefaultNumNeighbors          = 5
	DefaultPlaneThreshold        = 0.1
	DefaultMaxCorrespondenceDist = 1.0
	DefaultMinCorrespondences    = 20
	DefaultConvergenceTolerance  = 1e-3
	DefaultGyroNoise             = 0.01
	DefaultAccNoise              = 0.1
	DefaultGyroBiasNoise         = 1e-4
	DefaultAccBiasNoise          = 1e-3
	DefaultLidarNoise            = 0.01
	// DefaultDeltaMaxFactor bounds the refined interval at this multiple of delta.
	DefaultDeltaMaxFactor = 4
)

// AttributeMap is a generic set of configuration attributes, as decoded from JSON.
type AttributeMap map[string]interface{}

// NewError returns an error specific to a failure in the odometry config.
func NewError(configError string) error {
	return errors.Errorf("LIO configuration error: %s", configError)
}

// WrapError wraps an error to show it came from the odometry config.
func WrapError(configError error) error {
	return NewError(configError.Error())
}

// DetermineMappingOnline will determine the value of the mapping_online attribute,
// defaulting to online mapping when unset.
func DetermineMappingOnline(logger golog.Logger, mappingOnline *bool) bool {
	if mappingOnline == nil {
		logger.Debug("no mapping_online given, mapping every frame")
		return true
	}
	if !*mappingOnline {
		logger.Info("setting mapper to offline mode, batches are inserted once per full rotation")
	}
	return *mappingOnline
}

// AttrConfig describes how to configure the engine.
//
// The processing interval is refined every cycle within [DeltaMin, DeltaMax]. DeltaMin defaults
// to Delta, so by default the interval only grows past its nominal value when inertial data
// arrives late; set delta_min below delta to let it shrink as well.
type AttrConfig struct {
	Delta            float64  `json:"delta"`
	Rate             float64  `json:"rate"`
	DeltaMin         float64  `json:"delta_min"`
	DeltaMax         float64  `json:"delta_max"`
	DsRate           int      `json:"ds_rate"`
	MaxNumIters      int      `json:"max_num_iters"`
	MinDist          *float64 `json:"min_dist"`
	FullRotationTime float64  `json:"full_rotation_time"`
	EmptyLidarTime   float64  `json:"empty_lidar_time"`
	RealTimeDelay    *float64 `json:"real_time_delay"`
	PointsTopic      string   `json:"points_topic"`
	IMUsTopic        string   `json:"imus_topic"`
	MappingOnline    *bool    `json:"mapping_online"`

	MapVoxelSize          float64 `json:"map_voxel_size"`
	NumNeighbors          int     `json:"num_neighbors"`
	PlaneThreshold        float64 `json:"plane_threshold"`
	MaxCorrespondenceDist float64 `json:"max_correspondence_dist"`
	MinCorrespondences    int     `json:"min_correspondences"`
	ConvergenceTolerance  float64 `json:"convergence_tolerance"`
	EdgePolicy            string  `json:"edge_policy"`

	Gravity              []float64 `json:"gravity"`
	ExtrinsicTranslation []float64 `json:"extrinsic_translation"`
	ExtrinsicRotation    []float64 `json:"extrinsic_rotation"`

	GyroNoise     float64 `json:"gyro_noise"`
	AccNoise      float64 `json:"acc_noise"`
	GyroBiasNoise float64 `json:"gyro_bias_noise"`
	AccBiasNoise  float64 `json:"acc_bias_noise"`
	LidarNoise    float64 `json:"lidar_noise"`

	DataDirectory string `json:"data_dir"`
	MapFile       string `json:"map_file"`
}

// NewAttrConfig decodes attributes, fills defaults and validates the result.
func NewAttrConfig(attributes AttributeMap, logger golog.Logger) (*AttrConfig, error) {
	attrCfg := &AttrConfig{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: attrCfg})
	if err != nil {
		return nil, WrapError(err)
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return nil, WrapError(err)
	}

	attrCfg.SetParameters(logger)

	if _, err := attrCfg.Validate("attributes"); err != nil {
		return nil, WrapError(err)
	}
	return attrCfg, nil
}

// Load reads a JSON attribute file and returns the resulting config.
func Load(path string, logger golog.Logger) (*AttrConfig, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(errors.Wrapf(err, "reading %s", path))
	}
	var attributes AttributeMap
	if err := json.Unmarshal(raw, &attributes); err != nil {
		return nil, WrapError(errors.Wrapf(err, "parsing %s", path))
	}
	return NewAttrConfig(attributes, logger)
}

// Validate checks bounds and returns the ingestion topics the engine depends on.
func (config *AttrConfig) Validate(path string) ([]string, error) {
	if config.PointsTopic == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "points_topic")
	}

	if config.IMUsTopic == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "imus_topic")
	}

	if config.MinDist == nil {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "min_dist")
	}

	if config.RealTimeDelay == nil {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "real_time_delay")
	}

	if config.MappingOnline == nil {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "mapping_online")
	}

	if config.Delta <= 0 {
		return nil, errors.New("delta must be greater than zero")
	}

	if config.DeltaMin <= 0 || config.DeltaMin > config.Delta || config.DeltaMax < config.Delta {
		return nil, errors.Errorf("delta bounds must satisfy 0 < delta_min <= delta <= delta_max, got %v <= %v <= %v",
			config.DeltaMin, config.Delta, config.DeltaMax)
	}

	if config.Rate < 0 {
		return nil, errors.New("cannot specify rate less than zero")
	}

	if config.MaxNumIters < 1 {
		return nil, errors.New("max_num_iters must be at least 1")
	}

	if config.DsRate < 1 {
		return nil, errors.New("ds_rate must be at least 1")
	}

	if *config.MinDist < 0 {
		return nil, errors.New("cannot specify min_dist less than zero")
	}

	if config.FullRotationTime <= 0 {
		return nil, errors.New("full_rotation_time must be greater than zero")
	}

	if config.EmptyLidarTime <= 0 {
		return nil, errors.New("empty_lidar_time must be greater than zero")
	}

	if *config.RealTimeDelay < 0 {
		return nil, errors.New("cannot specify real_time_delay less than zero")
	}

	if config.MapVoxelSize <= 0 {
		return nil, errors.New("map_voxel_size must be greater than zero")
	}

	if config.NumNeighbors < 3 {
		return nil, errors.New("num_neighbors must be at least 3 to fit a plane")
	}

	if config.MinCorrespondences < 1 {
		return nil, errors.New("min_correspondences must be at least 1")
	}

	if config.PlaneThreshold <= 0 || config.MaxCorrespondenceDist <= 0 || config.ConvergenceTolerance <= 0 {
		return nil, errors.New("plane_threshold, max_correspondence_dist and convergence_tolerance must be greater than zero")
	}

	for name, v := range map[string]float64{
		"gyro_noise":      config.GyroNoise,
		"acc_noise":       config.AccNoise,
		"gyro_bias_noise": config.GyroBiasNoise,
		"acc_bias_noise":  config.AccBiasNoise,
	} {
		if v < 0 {
			return nil, errors.Errorf("cannot specify %s less than zero", name)
		}
	}

	if config.LidarNoise <= 0 {
		return nil, errors.New("lidar_noise must be greater than zero")
	}

	if _, err := state.ParseEdgePolicy(config.EdgePolicy); err != nil {
		return nil, err
	}

	if _, err := config.GravityVector(); err != nil {
		return nil, err
	}

	if _, err := config.Extrinsic(); err != nil {
		return nil, err
	}

	return []string{config.PointsTopic, config.IMUsTopic}, nil
}

// SetParameters fills every unset attribute with its default.
func (config *AttrConfig) SetParameters(logger golog.Logger) {
	if config.Delta == 0 {
		if config.Rate > 0 {
			config.Delta = 1 / config.Rate
			logger.Debugf("no delta given, deriving %v from rate", config.Delta)
		} else {
			config.Delta = DefaultDelta
			logger.Debugf("no delta given, setting to default value of %v", DefaultDelta)
		}
	}

	if config.Rate == 0 && config.Delta > 0 {
		config.Rate = 1 / config.Delta
	}

	if config.DeltaMin == 0 {
		config.DeltaMin = config.Delta
		logger.Debugf("no delta_min given, the refined interval will not drop below delta %v", config.Delta)
	}

	if config.DeltaMax == 0 {
		config.DeltaMax = DefaultDeltaMaxFactor * config.Delta
		logger.Debugf("no delta_max given, setting to %v", config.DeltaMax)
	}

	if config.DsRate == 0 {
		config.DsRate = DefaultDsRate
		logger.Debugf("no ds_rate given, setting to default value of %d", DefaultDsRate)
	}

	if config.MaxNumIters == 0 {
		config.MaxNumIters = DefaultMaxNumIters
		logger.Debugf("no max_num_iters given, setting to default value of %d", DefaultMaxNumIters)
	}

	if config.MinDist == nil {
		minDist := DefaultMinDist
		config.MinDist = &minDist
		logger.Debugf("no min_dist given, setting to default value of %v", DefaultMinDist)
	}

	if config.FullRotationTime == 0 {
		config.FullRotationTime = DefaultFullRotationTime
		logger.Debugf("no full_rotation_time given, setting to default value of %v", DefaultFullRotationTime)
	}

	if config.EmptyLidarTime == 0 {
		config.EmptyLidarTime = DefaultEmptyLidarTime
		logger.Debugf("no empty_lidar_time given, setting to default value of %v", DefaultEmptyLidarTime)
	}

	if config.RealTimeDelay == nil {
		delay := DefaultRealTimeDelay
		config.RealTimeDelay = &delay
		logger.Debugf("no real_time_delay given, setting to default value of %v", DefaultRealTimeDelay)
	}

	if config.PointsTopic == "" {
		config.PointsTopic = DefaultPointsTopic
	}

	if config.IMUsTopic == "" {
		config.IMUsTopic = DefaultIMUsTopic
	}

	mappingOnline := DetermineMappingOnline(logger, config.MappingOnline)
	config.MappingOnline = &mappingOnline

	setFloat := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setFloat(&config.MapVoxelSize, DefaultMapVoxelSize)
	setFloat(&config.PlaneThreshold, DefaultPlaneThreshold)
	setFloat(&config.MaxCorrespondenceDist, DefaultMaxCorrespondenceDist)
	setFloat(&config.ConvergenceTolerance, DefaultConvergenceTolerance)
	setFloat(&config.GyroNoise, DefaultGyroNoise)
	setFloat(&config.AccNoise, DefaultAccNoise)
	setFloat(&config.GyroBiasNoise, DefaultGyroBiasNoise)
	setFloat(&config.AccBiasNoise, DefaultAccBiasNoise)
	setFloat(&config.LidarNoise, DefaultLidarNoise)

	if config.NumNeighbors == 0 {
		config.NumNeighbors = DefaultNumNeighbors
	}

	if config.MinCorrespondences == 0 {
		config.MinCorrespondences = DefaultMinCorrespondences
	}
}

// GravityVector returns the configured gravity, or standard gravity along -z.
func (config *AttrConfig) GravityVector() (r3.Vector, error) {
	if len(config.Gravity) == 0 {
		return state.StandardGravity, nil
	}
	if len(config.Gravity) != 3 {
		return r3.Vector{}, errors.Errorf("gravity must have 3 components, got %d", len(config.Gravity))
	}
	return r3.Vector{X: config.Gravity[0], Y: config.Gravity[1], Z: config.Gravity[2]}, nil
}

// Extrinsic returns the LiDAR to body transform. The rotation is given as w, x, y, z.
func (config *AttrConfig) Extrinsic() (spatialmath.Transform, error) {
	extrinsic := spatialmath.Identity()
	switch len(config.ExtrinsicTranslation) {
	case 0:
	case 3:
		extrinsic.Translation = r3.Vector{
			X: config.ExtrinsicTranslation[0],
			Y: config.ExtrinsicTranslation[1],
			Z: config.ExtrinsicTranslation[2],
		}
	default:
		return spatialmath.Transform{}, errors.Errorf("extrinsic_translation must have 3 components, got %d",
			len(config.ExtrinsicTranslation))
	}
	switch len(config.ExtrinsicRotation) {
	case 0:
	case 4:
		q := quat.Number{
			Real: config.ExtrinsicRotation[0],
			Imag: config.ExtrinsicRotation[1],
			Jmag: config.ExtrinsicRotation[2],
			Kmag: config.ExtrinsicRotation[3],
		}
		if math.Abs(quat.Abs(q)-1) > 1e-3 {
			return spatialmath.Transform{}, errors.Errorf("extrinsic_rotation must be a unit quaternion, norm is %v", quat.Abs(q))
		}
		extrinsic.Rotation = spatialmath.Normalize(q)
	default:
		return spatialmath.Transform{}, errors.Errorf("extrinsic_rotation must have 4 components (w, x, y, z), got %d",
			len(config.ExtrinsicRotation))
	}
	return extrinsic, nil
}

// EdgePolicyValue returns the parsed edge policy.
func (config *AttrConfig) EdgePolicyValue() state.EdgePolicy {
	policy, err := state.ParseEdgePolicy(config.EdgePolicy)
	if err != nil {
		return state.EdgeClamp
	}
	return policy
}
