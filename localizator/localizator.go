// Package localizator implements the fused state estimator: inertial propagation and
// iterated error state Kalman updates registering compensated scans against the map.
package localizator

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

// Map is the registration target.
type Map interface {
	Exists() bool
	NearestPlane(p r3.Vector, k int, maxDist, threshold float64) (spatialmath.Plane, bool)
}

// IMUSource provides the inertial samples to propagate through.
type IMUSource interface {
	IMUWindow(from, to float64) []sample.IMU
}

// Params configures propagation noise and registration.
type Params struct {
	MaxIterations         int
	NumNeighbors          int
	PlaneThreshold        float64
	MaxCorrespondenceDist float64
	MinCorrespondences    int
	ConvergenceTolerance  float64

	GyroNoise     float64
	AccNoise      float64
	GyroBiasNoise float64
	AccBiasNoise  float64
	LidarNoise    float64
}

// Localizator owns the authoritative platform state. PropagateTo and Update must be called from
// a single goroutine; LatestState and Covariance may be called from any goroutine.
type Localizator struct {
	params Params
	imus   IMUSource
	m      Map
	logger golog.Logger

	mu          sync.RWMutex
	s           state.State
	cov         *mat.SymDense
	initialized bool
}

// New returns an uninitialized localizator.
func New(params Params, imus IMUSource, m Map, logger golog.Logger) *Localizator {
	return &Localizator{params: params, imus: imus, m: m, logger: logger}
}

// Initialize sets the starting state and resets the covariance.
func (l *Localizator) Initialize(s state.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = s
	l.cov = InitialCovariance()
	l.initialized = true
	l.logger.Infow("localizator initialized", "time", s.Time, "position", s.Position)
}

// Initialized reports whether Initialize was called.
func (l *Localizator) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// LatestState returns a copy of the current estimate.
func (l *Localizator) LatestState() state.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

// Covariance returns a copy of the current error state covariance.
func (l *Localizator) Covariance() *mat.SymDense {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cov == nil {
		return nil
	}
	out := mat.NewSymDense(dim, nil)
	out.CopySym(l.cov)
	return out
}

func (l *Localizator) snapshot() (state.State, *mat.SymDense, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s, l.cov, l.initialized
}

func (l *Localizator) commit(s state.State, cov *mat.SymDense) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = s
	l.cov = cov
}

// PropagateTo advances the state to t2 through the buffered inertial samples. A t2 at or
// before the current state time leaves the state untouched. It reports whether time advanced.
func (l *Localizator) PropagateTo(t2 float64) bool {
	s, cov, ok := l.snapshot()
	if !ok {
		return false
	}
	if t2 <= s.Time {
		if t2 < s.Time {
			l.logger.Warnw("propagation target is behind the state, ignoring", "target", t2, "state_time", s.Time)
		}
		return false
	}

	imus := l.imus.IMUWindow(s.Time, t2)
	s = state.AdvanceFunc(s, imus, t2, func(from state.State, dt float64) {
		cov = l.propagateCovariance(cov, from, dt)
	})
	l.commit(s, cov)
	return true
}

// propagateCovariance returns F P Fᵀ + Q dt.
func (l *Localizator) propagateCovariance(p *mat.SymDense, from state.State, dt float64) *mat.SymDense {
	f := transition(from, dt)
	var fp, fpf mat.Dense
	fp.Mul(f, p)
	fpf.Mul(&fp, f.T())
	next := symmetrize(&fpf)

	noise := []struct {
		offset int
		sigma  float64
	}{
		{idxVel, l.params.AccNoise},
		{idxRot, l.params.GyroNoise},
		{idxBiasGyro, l.params.GyroBiasNoise},
		{idxBiasAcc, l.params.AccBiasNoise},
	}
	for _, n := range noise {
		for i := n.offset; i < n.offset+3; i++ {
			next.SetSym(i, i, next.At(i, i)+n.sigma*n.sigma*dt)
		}
	}
	return next
}

// Update registers a compensated sensor frame cloud, stamped at the state time, against the map.
// When registration is degenerate the propagated state is kept.
func (l *Localizator) Update(ctx context.Context, cloud sample.PointCloud) UpdateResult {
	_, span := trace.StartSpan(ctx, "lio::localizator::Update")
	defer span.End()

	prior, cov, ok := l.snapshot()
	if !ok {
		return UpdateResult{Phase: PhaseDegenerate}
	}
	if !l.m.Exists() || cloud.Empty() {
		l.logger.Debugw("nothing to register against", "map_exists", l.m.Exists(), "points", cloud.Len())
		return UpdateResult{Phase: PhaseDegenerate}
	}

	u := newUpdater(l.params, l.m, prior, cov, cloud)
	for u.phase == PhaseIterating {
		u.step()
	}
	result := u.result()
	if result.Phase == PhaseDegenerate {
		l.logger.Warnw("degenerate registration, keeping propagated state",
			"correspondences", result.Correspondences, "iterations", result.Iterations, "time", prior.Time)
		return result
	}
	l.commit(u.x, u.posterior)
	l.logger.Debugf("update %s after %d iterations, %d correspondences, correction %.6f",
		result.Phase, result.Iterations, result.Correspondences, result.Correction)
	return result
}
