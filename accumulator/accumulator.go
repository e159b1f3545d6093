// Package accumulator implements the time ordered sample buffers feeding the odometry loop.
//
// Producers (transport callbacks) and the control loop run concurrently. Each buffer is
// guarded by its own mutex: an ingestion call inserts under the lock and releases it, and
// any Ready, ExtractPoints or IMUWindow call that later acquires the same lock observes
// the inserted sample.
package accumulator

import (
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/state"
)

// Params configures the buffers. Times are seconds.
type Params struct {
	Delta         float64
	DeltaMin      float64
	DeltaMax      float64
	RealTimeDelay float64
}

// Stats is a snapshot of the buffer sizes.
type Stats struct {
	Points     int
	Unconsumed int
	IMUs       int
	States     int
	LatePoints int
	NonFinite  int
	IMURateHz  float64
}

// Accumulator buffers LiDAR points, inertial samples and accepted states.
type Accumulator struct {
	params Params
	logger golog.Logger

	pointsMu   sync.Mutex
	points     *timeline[sample.Point]
	consumed   float64 // points with Time < consumed have been handed out or skipped
	latePoints int
	nonFinite  int

	imusMu sync.Mutex
	imus   *timeline[sample.IMU]

	statesMu sync.Mutex
	states   *timeline[state.State]

	deltaMu   sync.Mutex
	delta     float64
	lastT2    float64
	hasLastT2 bool
}

// New returns an empty accumulator.
func New(params Params, logger golog.Logger) *Accumulator {
	if params.DeltaMin <= 0 || params.DeltaMin > params.Delta {
		params.DeltaMin = params.Delta
	}
	if params.DeltaMax < params.Delta {
		params.DeltaMax = params.Delta
	}
	return &Accumulator{
		params:   params,
		logger:   logger,
		points:   newTimeline(func(p sample.Point) float64 { return p.Time }),
		consumed: math.Inf(-1),
		imus:     newTimeline(func(i sample.IMU) float64 { return i.Time }),
		states:   newTimeline(func(s state.State) float64 { return s.Time }),
		delta:    params.Delta,
	}
}

// ReceivePoints appends LiDAR points. Points with non finite values are dropped.
func (a *Accumulator) ReceivePoints(points ...sample.Point) {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	for _, p := range points {
		if !p.Finite() {
			a.nonFinite++
			continue
		}
		if !a.points.insert(p) {
			a.logger.Debugf("out of order point at %.6f inserted in place", p.Time)
		}
	}
}

// ReceivePoint appends one LiDAR point.
func (a *Accumulator) ReceivePoint(p sample.Point) {
	a.ReceivePoints(p)
}

// ReceiveIMU appends an inertial sample.
func (a *Accumulator) ReceiveIMU(imu sample.IMU) {
	a.imusMu.Lock()
	defer a.imusMu.Unlock()
	if !a.imus.insert(imu) {
		a.logger.Debugf("out of order imu at %.6f inserted in place", imu.Time)
	}
}

// LatestIMUTime returns the newest inertial timestamp.
func (a *Accumulator) LatestIMUTime() (float64, bool) {
	a.imusMu.Lock()
	defer a.imusMu.Unlock()
	imu, ok := a.imus.last()
	return imu.Time, ok
}

func (a *Accumulator) oldestUnconsumed() (float64, bool) {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	idx := a.points.firstAtOrAfter(a.consumed)
	if idx >= a.points.len() {
		return 0, false
	}
	return a.points.items[idx].Time, true
}

// Ready reports whether the inertial buffer covers at least one processing interval past the
// oldest unconsumed point, after holding back the real time delay.
func (a *Accumulator) Ready() bool {
	latest, ok := a.LatestIMUTime()
	if !ok {
		return false
	}
	oldest, ok := a.oldestUnconsumed()
	if !ok {
		return false
	}
	return latest-a.params.RealTimeDelay-oldest >= a.Delta()
}

// Delta returns the current processing interval in seconds.
func (a *Accumulator) Delta() float64 {
	a.deltaMu.Lock()
	defer a.deltaMu.Unlock()
	return a.delta
}

// Period returns the current processing interval as a loop period.
func (a *Accumulator) Period() time.Duration {
	return time.Duration(a.Delta() * float64(time.Second))
}

// RefineInterval adapts the processing interval to the inertial time that became available
// since the previous window end t2, clamped to [DeltaMin, DeltaMax]. When unclamped, consecutive
// windows [t2-delta, t2) tile the timeline without gaps or overlaps. A t2 that does not move
// forward leaves the interval unchanged.
func (a *Accumulator) RefineInterval(t2 float64) float64 {
	a.deltaMu.Lock()
	defer a.deltaMu.Unlock()

	if !a.hasLastT2 {
		a.hasLastT2 = true
		a.lastT2 = t2
		return a.delta
	}
	elapsed := t2 - a.lastT2
	if elapsed <= 0 {
		a.logger.Warnw("window end did not advance, keeping interval", "t2", t2, "previous_t2", a.lastT2)
		return a.delta
	}
	a.delta = math.Min(math.Max(elapsed, a.params.DeltaMin), a.params.DeltaMax)
	a.lastT2 = t2
	return a.delta
}

// ExtractPoints removes and returns the unconsumed points with time in [t1, t2), in arrival order.
// Every point older than t2 is consumed by the call; unconsumed points older than t1 are skipped.
// An inverted or empty window yields an empty cloud.
func (a *Accumulator) ExtractPoints(t1, t2 float64) sample.PointCloud {
	if t1 > t2 {
		return sample.NewPointCloud(sample.FrameSensor, 0)
	}
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()

	from := math.Max(t1, a.consumed)
	if skipped := a.points.firstAtOrAfter(from) - a.points.firstAtOrAfter(a.consumed); skipped > 0 {
		a.latePoints += skipped
		a.logger.Debugf("skipping %d points older than window start %.6f", skipped, t1)
	}
	cloud := sample.PointCloud{Frame: sample.FrameSensor, Points: a.points.rangeCopy(from, t2)}
	if cloud.Points == nil {
		cloud.Points = []sample.Point{}
	}
	a.consumed = math.Max(a.consumed, t2)
	return cloud
}

// PointsBetween returns the retained points with time in [t1, t2) whether or not they were consumed.
func (a *Accumulator) PointsBetween(t1, t2 float64) sample.PointCloud {
	if t1 > t2 {
		return sample.NewPointCloud(sample.FrameSensor, 0)
	}
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	cloud := sample.PointCloud{Frame: sample.FrameSensor, Points: a.points.rangeCopy(t1, t2)}
	if cloud.Points == nil {
		cloud.Points = []sample.Point{}
	}
	return cloud
}

// PruneBefore discards points older than tCutoff. The inertial buffer is untouched.
func (a *Accumulator) PruneBefore(tCutoff float64) int {
	a.pointsMu.Lock()
	defer a.pointsMu.Unlock()
	return a.points.dropBefore(tCutoff)
}

// PruneInertialBefore discards inertial samples and states older than tCutoff, keeping the
// newest one before the cutoff so integration can still start there.
func (a *Accumulator) PruneInertialBefore(tCutoff float64) {
	a.imusMu.Lock()
	if idx := a.imus.firstAtOrAfter(tCutoff); idx > 1 {
		a.imus.dropBefore(a.imus.items[idx-1].Time)
	}
	a.imusMu.Unlock()

	a.statesMu.Lock()
	if idx := a.states.firstAtOrAfter(tCutoff); idx > 1 {
		a.states.dropBefore(a.states.items[idx-1].Time)
	}
	a.statesMu.Unlock()
}

// IMUWindow returns the newest inertial sample at or before from (if any) followed by every
// sample in (from, to].
func (a *Accumulator) IMUWindow(from, to float64) []sample.IMU {
	a.imusMu.Lock()
	defer a.imusMu.Unlock()
	lo := a.imus.firstAfter(from)
	if lo > 0 {
		lo--
	}
	hi := a.imus.firstAfter(to)
	if lo >= hi {
		return nil
	}
	out := make([]sample.IMU, hi-lo)
	copy(out, a.imus.items[lo:hi])
	return out
}

// IMUsBetween returns the inertial samples with time in [t1, t2).
func (a *Accumulator) IMUsBetween(t1, t2 float64) []sample.IMU {
	a.imusMu.Lock()
	defer a.imusMu.Unlock()
	return a.imus.rangeCopy(t1, t2)
}

// IMUBefore returns the newest inertial sample with time <= t.
func (a *Accumulator) IMUBefore(t float64) (sample.IMU, bool) {
	a.imusMu.Lock()
	defer a.imusMu.Unlock()
	idx := a.imus.firstAfter(t)
	if idx == 0 {
		return sample.IMU{}, false
	}
	return a.imus.items[idx-1], true
}

// PushState records an accepted estimate.
func (a *Accumulator) PushState(s state.State) {
	a.statesMu.Lock()
	defer a.statesMu.Unlock()
	a.states.insert(s)
}

// StateBefore returns the newest recorded state with time <= t.
func (a *Accumulator) StateBefore(t float64) (state.State, bool) {
	a.statesMu.Lock()
	defer a.statesMu.Unlock()
	idx := a.states.firstAfter(t)
	if idx == 0 {
		return state.State{}, false
	}
	return a.states.items[idx-1], true
}

// LatestState returns the newest recorded state.
func (a *Accumulator) LatestState() (state.State, bool) {
	a.statesMu.Lock()
	defer a.statesMu.Unlock()
	return a.states.last()
}

// Stats returns the current buffer sizes.
func (a *Accumulator) Stats() Stats {
	var st Stats

	a.pointsMu.Lock()
	st.Points = a.points.len()
	st.Unconsumed = a.points.len() - a.points.firstAtOrAfter(a.consumed)
	st.LatePoints = a.latePoints
	st.NonFinite = a.nonFinite
	a.pointsMu.Unlock()

	a.imusMu.Lock()
	st.IMUs = a.imus.len()
	if n := a.imus.len(); n > 1 {
		dts := make([]float64, 0, n-1)
		for i := 1; i < n; i++ {
			dts = append(dts, a.imus.items[i].Time-a.imus.items[i-1].Time)
		}
		if mean := stat.Mean(dts, nil); mean > 0 {
			st.IMURateHz = 1 / mean
		}
	}
	a.imusMu.Unlock()

	a.statesMu.Lock()
	st.States = a.states.len()
	a.statesMu.Unlock()
	return st
}
