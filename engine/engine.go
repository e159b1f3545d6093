// Package engine runs the LiDAR-inertial odometry control loop: it pulls windows from the
// buffers, de-skews them, localizes them against the map and grows the map.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/lio/accumulator"
	"go.viam.com/lio/compensator"
	"go.viam.com/lio/config"
	"go.viam.com/lio/dataprocess"
	"go.viam.com/lio/localizator"
	"go.viam.com/lio/mapper"
	"go.viam.com/lio/sample"
	"go.viam.com/lio/sensors"
	"go.viam.com/lio/sensors/imu"
	"go.viam.com/lio/sensors/lidar"
	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
	"go.viam.com/lio/utils"
)

// Output describes what one cycle did.
type Output struct {
	T1, T2 float64

	// Localized is set when the estimate was propagated and updated this cycle.
	Localized bool
	State     state.State
	Update    localizator.UpdateResult

	// Registered is the cycle's de-skewed cloud in the global frame.
	Registered sample.PointCloud

	// Mapped is set when Registered was inserted into the map.
	Mapped bool

	// MappedBatch is set when a full rotation was inserted into the map.
	MappedBatch bool

	Pruned int
}

// Engine owns the pipeline components. RunCycle must only be called from one goroutine at a
// time; ingestion and the read accessors are safe from any goroutine.
type Engine struct {
	cfg    config.AttrConfig
	logger golog.Logger

	mappingOnline    bool
	realTimeDelay    float64
	fullRotationTime float64
	emptyLidarTime   float64
	gravity          r3.Vector
	extrinsic        spatialmath.Transform
	initialPose      spatialmath.Transform

	acc   *accumulator.Accumulator
	comp  *compensator.Compensator
	loc   *localizator.Localizator
	m     *mapper.Mapper
	lidar *lidar.Lidar
	imu   *imu.IMU

	publisher Publisher
	clock     clock.Clock

	cycles  atomic.Int64
	running atomic.Bool

	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New builds an engine from a validated config. When a map file is configured the map is seeded from it.
func New(ctx context.Context, cfg *config.AttrConfig, logger golog.Logger, opts ...Option) (*Engine, error) {
	if _, err := cfg.Validate("lio"); err != nil {
		return nil, config.WrapError(err)
	}
	gravity, err := cfg.GravityVector()
	if err != nil {
		return nil, config.WrapError(err)
	}
	extrinsic, err := cfg.Extrinsic()
	if err != nil {
		return nil, config.WrapError(err)
	}

	e := &Engine{
		cfg:              *cfg,
		logger:           logger,
		mappingOnline:    *cfg.MappingOnline,
		realTimeDelay:    *cfg.RealTimeDelay,
		fullRotationTime: cfg.FullRotationTime,
		emptyLidarTime:   cfg.EmptyLidarTime,
		gravity:          gravity,
		extrinsic:        extrinsic,
		initialPose:      spatialmath.Identity(),
		publisher:        LogPublisher{Logger: logger},
		clock:            clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.acc = accumulator.New(accumulator.Params{
		Delta:         cfg.Delta,
		DeltaMin:      cfg.DeltaMin,
		DeltaMax:      cfg.DeltaMax,
		RealTimeDelay: *cfg.RealTimeDelay,
	}, logger)
	e.comp = compensator.New(e.acc, cfg.EdgePolicyValue(), logger)
	e.m = mapper.New(mapper.Params{VoxelSize: cfg.MapVoxelSize, FullRotationTime: cfg.FullRotationTime}, logger)
	e.loc = localizator.New(localizator.Params{
		MaxIterations:         cfg.MaxNumIters,
		NumNeighbors:          cfg.NumNeighbors,
		PlaneThreshold:        cfg.PlaneThreshold,
		MaxCorrespondenceDist: cfg.MaxCorrespondenceDist,
		MinCorrespondences:    cfg.MinCorrespondences,
		ConvergenceTolerance:  cfg.ConvergenceTolerance,
		GyroNoise:             cfg.GyroNoise,
		AccNoise:              cfg.AccNoise,
		GyroBiasNoise:         cfg.GyroBiasNoise,
		AccBiasNoise:          cfg.AccBiasNoise,
		LidarNoise:            cfg.LidarNoise,
	}, e.acc, e.m, logger)

	if e.lidar, err = lidar.New(sensors.PointsSensor, cfg, e.acc, logger); err != nil {
		return nil, err
	}
	if e.imu, err = imu.New(sensors.IMUSensor, cfg, e.acc, logger); err != nil {
		return nil, err
	}

	if cfg.DataDirectory != "" {
		if err := config.SetupDirectories(cfg.DataDirectory, logger); err != nil {
			return nil, err
		}
	}
	if cfg.MapFile != "" {
		seed, err := dataprocess.ReadPCDFile(cfg.MapFile, sample.FrameGlobal, 0)
		if err != nil {
			return nil, errors.Wrap(err, "seeding map")
		}
		if err := e.m.Add(ctx, seed, 0, true); err != nil {
			return nil, errors.Wrap(err, "seeding map")
		}
		logger.Infow("map seeded from file", "file", cfg.MapFile, "points", seed.Len())
	}

	logger.Infof("lio engine configured with %s", utils.DictToString(map[string]string{
		"delta":              fmt.Sprint(cfg.Delta),
		"ds_rate":            fmt.Sprint(cfg.DsRate),
		"max_num_iters":      fmt.Sprint(cfg.MaxNumIters),
		"min_dist":           fmt.Sprint(*cfg.MinDist),
		"full_rotation_time": fmt.Sprint(cfg.FullRotationTime),
		"empty_lidar_time":   fmt.Sprint(cfg.EmptyLidarTime),
		"real_time_delay":    fmt.Sprint(*cfg.RealTimeDelay),
		"mapping_online":     fmt.Sprint(e.mappingOnline),
		"points_topic":       e.lidar.Topic,
		"imus_topic":         e.imu.Topic,
	}))
	return e, nil
}

// ProcessScan filters a raw scan message and buffers its points.
func (e *Engine) ProcessScan(scan sample.Scan) int {
	return e.lidar.Process(scan)
}

// ProcessIMU validates an inertial message and buffers it.
func (e *Engine) ProcessIMU(msg sample.IMU) bool {
	return e.imu.Process(msg)
}

// ReceivePoints buffers already filtered points.
func (e *Engine) ReceivePoints(points ...sample.Point) {
	e.acc.ReceivePoints(points...)
}

// ReceivePoint buffers one already filtered point.
func (e *Engine) ReceivePoint(p sample.Point) {
	e.acc.ReceivePoint(p)
}

// ReceiveIMU buffers an inertial sample without validation.
func (e *Engine) ReceiveIMU(msg sample.IMU) {
	e.acc.ReceiveIMU(msg)
}

// LatestState returns the current estimate. ok is false before the first cycle.
func (e *Engine) LatestState() (state.State, bool) {
	if !e.loc.Initialized() {
		return state.State{}, false
	}
	return e.loc.LatestState(), true
}

// Map returns the map store.
func (e *Engine) Map() *mapper.Mapper {
	return e.m
}

// Stats returns the buffer statistics.
func (e *Engine) Stats() accumulator.Stats {
	return e.acc.Stats()
}

// Cycles returns the number of cycles that ran.
func (e *Engine) Cycles() int {
	return int(e.cycles.Load())
}

// initialize seeds the estimate so that integration can start at or before t0.
func (e *Engine) initialize(t0 float64) {
	s := state.New(t0, e.gravity, e.extrinsic).WithPose(e.initialPose)
	e.loc.Initialize(s)
	e.acc.PushState(s)
}

// RunCycle runs one iteration of the control loop. It reports false when the buffers did not
// hold a full window yet. Problems inside a cycle are logged and never stop the loop.
func (e *Engine) RunCycle(ctx context.Context) (Output, bool) {
	ctx, span := trace.StartSpan(ctx, "lio::engine::RunCycle")
	defer span.End()

	if !e.acc.Ready() {
		return Output{}, false
	}
	latest, _ := e.acc.LatestIMUTime()
	t2 := latest - e.realTimeDelay
	delta := e.acc.RefineInterval(t2)
	t1 := t2 - delta
	out := Output{T1: t1, T2: t2}

	if !e.loc.Initialized() {
		e.initialize(math.Min(t1, t2-e.fullRotationTime))
	}

	if e.mappingOnline || e.m.Exists() {
		e.loc.PropagateTo(t2)

		points := e.acc.ExtractPoints(t1, t2)
		path, err := e.comp.Integrate(t1, t2)
		if err != nil {
			e.logger.Warnw("cannot integrate window", "t1", t1, "t2", t2, "error", err)
		}
		compensated := e.comp.Compensate(path, points)

		out.Update = e.loc.Update(ctx, compensated)
		xt2 := e.loc.LatestState()
		e.acc.PushState(xt2)
		e.publisher.State(xt2, out.Update.Phase.Corrected())

		registered := xt2.ToGlobal(compensated)
		e.publisher.PointCloud(registered)
		out.Localized = true
		out.State = xt2
		out.Registered = registered

		if e.mappingOnline {
			if err := e.m.Add(ctx, registered, t2, false); err != nil {
				e.logger.Errorw("cannot map registered cloud", "t2", t2, "error", err)
			} else {
				e.publisher.FullPointCloud(registered)
				e.exportCloud(ctx, registered, t2)
				out.Mapped = true
			}
		}
	}

	if !e.mappingOnline && e.m.HasToMap(t2) {
		out.MappedBatch = e.mapFullRotation(ctx, t2)
	}

	out.Pruned = e.acc.PruneBefore(t2 - e.emptyLidarTime)
	e.acc.PruneInertialBefore(t2 - e.emptyLidarTime)
	e.cycles.Inc()
	e.logger.Debugf("cycle [%.6f, %.6f) localized %t mapped %t batch %t", t1, t2, out.Localized, out.Mapped, out.MappedBatch)
	return out, true
}

// mapFullRotation inserts the last full sensor rotation before t2 into the map.
func (e *Engine) mapFullRotation(ctx context.Context, t2 float64) bool {
	if e.loc.PropagateTo(t2) {
		e.acc.PushState(e.loc.LatestState())
	}
	full, err := e.comp.CompensateWindow(t2-e.fullRotationTime, t2)
	if err != nil {
		e.logger.Warnw("cannot compensate full rotation", "t2", t2, "error", err)
		return false
	}
	global := e.loc.LatestState().ToGlobal(full)
	if err := e.m.Add(ctx, global, t2, true); err != nil {
		e.logger.Errorw("cannot map full rotation", "t2", t2, "error", err)
		return false
	}
	e.publisher.FullPointCloud(global)
	e.exportCloud(ctx, global, t2)
	return true
}

// exportCloud writes a mapped cloud to the clouds directory when a data directory is configured.
func (e *Engine) exportCloud(ctx context.Context, cloud sample.PointCloud, t float64) {
	if e.cfg.DataDirectory == "" || cloud.Empty() {
		return
	}
	filename, err := dataprocess.ExportCloud(ctx, cloud, e.cfg.DataDirectory, t)
	if err != nil {
		e.logger.Warnw("cannot export mapped cloud", "t", t, "error", err)
		return
	}
	e.logger.Debugw("mapped cloud exported", "file", filename, "points", cloud.Len())
}

// Start runs the control loop in the background until Close is called. When c is non nil every
// cycle that ran is sent on it.
func (e *Engine) Start(c chan<- Output) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	e.cancelFunc = cancelFunc
	e.StartLoop(cancelCtx, c)
}

// StartLoop runs the control loop in the background until cancelCtx is done.
func (e *Engine) StartLoop(cancelCtx context.Context, c chan<- Output) {
	e.activeBackgroundWorkers.Add(1)
	if err := cancelCtx.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Errorw("unexpected error in lio engine", "error", err)
		}
		e.activeBackgroundWorkers.Done()
		return
	}
	e.running.Store(true)
	goutils.PanicCapturingGo(func() {
		period := e.acc.Period()
		ticker := e.clock.Ticker(period)
		defer ticker.Stop()
		defer e.activeBackgroundWorkers.Done()
		defer e.running.Store(false)

		for {
			if err := cancelCtx.Err(); err != nil {
				if !errors.Is(err, context.Canceled) {
					e.logger.Errorw("unexpected error in lio loop", "error", err)
				}
				return
			}

			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
				out, ok := e.RunCycle(cancelCtx)
				if !ok {
					continue
				}
				if next := e.acc.Period(); next != period && next > 0 {
					period = next
					ticker.Reset(period)
				}
				if c != nil {
					select {
					case c <- out:
					case <-cancelCtx.Done():
						return
					}
				}
			}
		}
	})
}

// Running reports whether the background loop is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// ExportMap writes the current map to the data directory.
func (e *Engine) ExportMap(ctx context.Context) (string, error) {
	if e.cfg.DataDirectory == "" {
		return "", errors.New("no data_dir configured")
	}
	return dataprocess.ExportMap(ctx, e.m, e.cfg.DataDirectory, e.m.LastMapTime())
}

// Close stops the background loop and, when a data directory is configured, exports the map.
func (e *Engine) Close(ctx context.Context) error {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.activeBackgroundWorkers.Wait()

	var err error
	if e.cfg.DataDirectory != "" && e.m.Exists() {
		filename, exportErr := e.ExportMap(ctx)
		if exportErr == nil {
			e.logger.Infow("map exported", "file", filename, "points", e.m.Size())
		}
		err = multierr.Combine(err, exportErr)
	}
	if closer, ok := e.publisher.(interface{ Close() error }); ok {
		err = multierr.Combine(err, closer.Close())
	}
	if err != nil {
		e.logger.Errorw("error closing lio engine", "error", err)
	}
	return err
}
