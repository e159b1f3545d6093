package accumulator

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
	"go.viam.com/lio/state"
)

func newTestAccumulator(t *testing.T, params Params) *Accumulator {
	return New(params, golog.NewTestLogger(t))
}

// points at k/64 s for k in [from, to).
func pointsAt(from, to int) []sample.Point {
	out := make([]sample.Point, 0, to-from)
	for k := from; k < to; k++ {
		out = append(out, sample.Point{Time: float64(k) / 64})
	}
	return out
}

func TestTimeline(t *testing.T) {
	tl := newTimeline(func(f float64) float64 { return f })
	for _, v := range []float64{1, 2, 4} {
		test.That(t, tl.insert(v), test.ShouldBeTrue)
	}
	test.That(t, tl.insert(3), test.ShouldBeFalse)
	test.That(t, tl.insert(2), test.ShouldBeFalse)
	test.That(t, tl.items, test.ShouldResemble, []float64{1, 2, 2, 3, 4})

	test.That(t, tl.rangeCopy(2, 4), test.ShouldResemble, []float64{2, 2, 3})
	test.That(t, tl.rangeCopy(4, 2), test.ShouldBeNil)
	test.That(t, tl.dropBefore(3), test.ShouldEqual, 3)
	test.That(t, tl.items, test.ShouldResemble, []float64{3, 4})
	first, ok := tl.first()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first, test.ShouldEqual, 3.0)
}

func TestReady(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.125, RealTimeDelay: 0.5})

	t.Run("Empty buffers are not ready", func(t *testing.T) {
		test.That(t, acc.Ready(), test.ShouldBeFalse)
		acc.ReceiveIMU(sample.IMU{Time: 10})
		test.That(t, acc.Ready(), test.ShouldBeFalse)
	})

	t.Run("Ready once the held back inertial horizon covers a full interval", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.125, RealTimeDelay: 0.5})
		acc.ReceivePoints(pointsAt(0, 64)...)
		acc.ReceiveIMU(sample.IMU{Time: 0.5})
		test.That(t, acc.Ready(), test.ShouldBeFalse)
		acc.ReceiveIMU(sample.IMU{Time: 0.5625})
		test.That(t, acc.Ready(), test.ShouldBeFalse)
		acc.ReceiveIMU(sample.IMU{Time: 0.625})
		test.That(t, acc.Ready(), test.ShouldBeTrue)
	})

	t.Run("Consumed points no longer count", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.125, RealTimeDelay: 0.5})
		acc.ReceivePoints(pointsAt(0, 8)...)
		acc.ReceiveIMU(sample.IMU{Time: 1})
		test.That(t, acc.Ready(), test.ShouldBeTrue)
		acc.ExtractPoints(0, 1)
		test.That(t, acc.Ready(), test.ShouldBeFalse)
	})
}

func TestReceiveNonFinitePoints(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.125})
	points := pointsAt(0, 4)
	points[1].Position = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	points[2].Time = math.Inf(1)
	acc.ReceivePoints(points...)

	st := acc.Stats()
	test.That(t, st.Points, test.ShouldEqual, 2)
	test.That(t, st.NonFinite, test.ShouldEqual, 2)
	extracted := acc.ExtractPoints(0, 1)
	test.That(t, extracted.Len(), test.ShouldEqual, 2)
	for _, p := range extracted.Points {
		test.That(t, p.Finite(), test.ShouldBeTrue)
	}
}

func TestRefineInterval(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.25, DeltaMin: 0.25, DeltaMax: 1})

	t.Run("First call returns the nominal interval", func(t *testing.T) {
		test.That(t, acc.RefineInterval(10), test.ShouldEqual, 0.25)
	})

	t.Run("Never shrinks below the floor", func(t *testing.T) {
		test.That(t, acc.RefineInterval(10.0625), test.ShouldEqual, 0.25)
	})

	t.Run("Tracks elapsed inertial time", func(t *testing.T) {
		test.That(t, acc.RefineInterval(10.5625), test.ShouldEqual, 0.5)
		test.That(t, acc.Period(), test.ShouldEqual, 500*time.Millisecond)
	})

	t.Run("Shrinks down to a floor below the nominal interval", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25, DeltaMin: 0.0625, DeltaMax: 1})
		acc.RefineInterval(10)
		test.That(t, acc.RefineInterval(10.125), test.ShouldEqual, 0.125)
		test.That(t, acc.RefineInterval(10.140625), test.ShouldEqual, 0.0625)
		test.That(t, acc.Delta(), test.ShouldEqual, 0.0625)
	})

	t.Run("Never grows above the ceiling", func(t *testing.T) {
		test.That(t, acc.RefineInterval(20), test.ShouldEqual, 1.0)
	})

	t.Run("A window end that moves backward keeps the interval", func(t *testing.T) {
		test.That(t, acc.RefineInterval(19), test.ShouldEqual, 1.0)
		test.That(t, acc.RefineInterval(20.5), test.ShouldEqual, 0.5)
	})

	t.Run("Invalid bounds collapse to the nominal interval", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25, DeltaMin: 3, DeltaMax: 0.1})
		acc.RefineInterval(0)
		test.That(t, acc.RefineInterval(0.0625), test.ShouldEqual, 0.25)
		test.That(t, acc.RefineInterval(5), test.ShouldEqual, 0.25)
	})
}

func TestExtractPoints(t *testing.T) {
	t.Run("Consecutive windows return every point exactly once", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 256)...)

		seen := map[float64]int{}
		bounds := []float64{0, 0.25, 0.3, 1, 1.03125, 2.5, 4}
		for i := 1; i < len(bounds); i++ {
			cloud := acc.ExtractPoints(bounds[i-1], bounds[i])
			test.That(t, cloud.IsSorted(), test.ShouldBeTrue)
			test.That(t, cloud.Frame, test.ShouldEqual, sample.FrameSensor)
			for _, p := range cloud.Points {
				test.That(t, p.Time, test.ShouldBeGreaterThanOrEqualTo, bounds[i-1])
				test.That(t, p.Time, test.ShouldBeLessThan, bounds[i])
				seen[p.Time]++
			}
		}
		test.That(t, len(seen), test.ShouldEqual, 256)
		for _, n := range seen {
			test.That(t, n, test.ShouldEqual, 1)
		}
	})

	t.Run("Overlapping windows never duplicate", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 64)...)
		first := acc.ExtractPoints(0, 0.5)
		second := acc.ExtractPoints(0.25, 0.75)
		test.That(t, first.Len(), test.ShouldEqual, 32)
		test.That(t, second.Len(), test.ShouldEqual, 16)
		test.That(t, second.Points[0].Time, test.ShouldEqual, 0.5)
	})

	t.Run("Points older than the window start are skipped and counted", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 64)...)
		cloud := acc.ExtractPoints(0.5, 0.75)
		test.That(t, cloud.Len(), test.ShouldEqual, 16)
		test.That(t, acc.Stats().LatePoints, test.ShouldEqual, 32)
		test.That(t, acc.ExtractPoints(0, 0.5).Len(), test.ShouldEqual, 0)
	})

	t.Run("An inverted window is empty and consumes nothing", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 64)...)
		cloud := acc.ExtractPoints(0.75, 0.25)
		test.That(t, cloud.Points, test.ShouldNotBeNil)
		test.That(t, cloud.Len(), test.ShouldEqual, 0)
		test.That(t, acc.ExtractPoints(0, 1).Len(), test.ShouldEqual, 64)
	})

	t.Run("An empty window is empty", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 64)...)
		test.That(t, acc.ExtractPoints(0.5, 0.5).Len(), test.ShouldEqual, 0)
		test.That(t, acc.ExtractPoints(5, 6).Len(), test.ShouldEqual, 0)
	})

	t.Run("Out of order arrivals come back sorted", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(sample.Point{Time: 0.5}, sample.Point{Time: 0.25}, sample.Point{Time: 0.375})
		cloud := acc.ExtractPoints(0, 1)
		test.That(t, cloud.IsSorted(), test.ShouldBeTrue)
		test.That(t, cloud.Len(), test.ShouldEqual, 3)
	})

	t.Run("Retained points can be read again", func(t *testing.T) {
		acc := newTestAccumulator(t, Params{Delta: 0.25})
		acc.ReceivePoints(pointsAt(0, 64)...)
		acc.ExtractPoints(0, 1)
		test.That(t, acc.PointsBetween(0.25, 0.5).Len(), test.ShouldEqual, 16)
		test.That(t, acc.Stats().Unconsumed, test.ShouldEqual, 0)
	})
}

func TestPrune(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.25})
	acc.ReceivePoints(pointsAt(0, 64)...)
	for i := 0; i < 4; i++ {
		acc.ReceiveIMU(sample.IMU{Time: float64(i)})
		acc.PushState(state.New(float64(i), state.StandardGravity, spatialmath.Identity()))
	}

	t.Run("Pruning points leaves inertial samples alone", func(t *testing.T) {
		test.That(t, acc.PruneBefore(0.5), test.ShouldEqual, 32)
		test.That(t, acc.PointsBetween(0, 0.5).Len(), test.ShouldEqual, 0)
		test.That(t, acc.Stats().IMUs, test.ShouldEqual, 4)
	})

	t.Run("Pruning inertial samples keeps the one before the cutoff", func(t *testing.T) {
		acc.PruneInertialBefore(2.5)
		stats := acc.Stats()
		test.That(t, stats.IMUs, test.ShouldEqual, 2)
		test.That(t, stats.States, test.ShouldEqual, 2)
		s, ok := acc.StateBefore(2.5)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, s.Time, test.ShouldEqual, 2.0)
		_, ok = acc.StateBefore(1.5)
		test.That(t, ok, test.ShouldBeFalse)
	})
}

func TestInertialQueries(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.25})
	for i := 0; i < 5; i++ {
		acc.ReceiveIMU(sample.IMU{Time: float64(i) / 4})
	}

	latest, ok := acc.LatestIMUTime()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, latest, test.ShouldEqual, 1.0)

	window := acc.IMUWindow(0.3, 0.75)
	test.That(t, len(window), test.ShouldEqual, 3)
	test.That(t, window[0].Time, test.ShouldEqual, 0.25)
	test.That(t, window[2].Time, test.ShouldEqual, 0.75)

	test.That(t, len(acc.IMUsBetween(0.25, 0.75)), test.ShouldEqual, 2)
	imu, ok := acc.IMUBefore(0.6)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, imu.Time, test.ShouldEqual, 0.5)
	_, ok = acc.IMUBefore(-1)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, acc.Stats().IMURateHz, test.ShouldAlmostEqual, 4)
}

func TestConcurrentIngestion(t *testing.T) {
	acc := newTestAccumulator(t, Params{Delta: 0.25})
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 0; k < n; k++ {
			tk := float64(k) / 256
			acc.ReceivePoint(sample.Point{Time: tk})
			acc.ReceiveIMU(sample.IMU{Time: tk})
		}
	}()

	seen := make(map[float64]bool, n)
	collect := func(cloud sample.PointCloud) {
		for _, p := range cloud.Points {
			test.That(t, seen[p.Time], test.ShouldBeFalse)
			seen[p.Time] = true
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	last := 0.0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		if latest, ok := acc.LatestIMUTime(); ok && latest > last {
			collect(acc.ExtractPoints(last, latest))
			last = latest
		}
	}
	collect(acc.ExtractPoints(last, math.Inf(1)))
	test.That(t, len(seen), test.ShouldEqual, n)
	test.That(t, acc.Stats().LatePoints, test.ShouldEqual, 0)
}
