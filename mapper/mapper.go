// Package mapper implements the incrementally built point map and its neighbor queries.
package mapper

import (
	"context"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/spatialmath"
)

// Params configures the map.
type Params struct {
	VoxelSize        float64
	FullRotationTime float64
}

type voxelKey struct {
	x, y, z int32
}

type cell struct {
	points []r3.Vector
}

// Mapper is an append only voxel hashed point map. Cells live in an arena slice and are
// referenced by index, so growing the map never moves a cell a query is walking.
type Mapper struct {
	params Params
	logger golog.Logger

	mu          sync.RWMutex
	cells       []cell
	index       map[voxelKey]int32
	minKey      voxelKey
	maxKey      voxelKey
	lastMapTime float64

	exists     atomic.Bool
	size       atomic.Int64
	insertions atomic.Int64
}

// New returns an empty map.
func New(params Params, logger golog.Logger) *Mapper {
	return &Mapper{
		params: params,
		logger: logger,
		index:  make(map[voxelKey]int32),
	}
}

// Exists reports whether the map has received at least one insertion.
func (m *Mapper) Exists() bool {
	return m.exists.Load()
}

// Size returns the number of points in the map.
func (m *Mapper) Size() int {
	return int(m.size.Load())
}

// Insertions returns the number of Add calls that inserted points.
func (m *Mapper) Insertions() int {
	return int(m.insertions.Load())
}

// LastMapTime returns the timestamp of the newest insertion.
func (m *Mapper) LastMapTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMapTime
}

// HasToMap reports whether a batched insertion is due at t2: either the map is empty or at least
// one full sensor rotation elapsed since the last insertion.
func (m *Mapper) HasToMap(t2 float64) bool {
	if !m.Exists() {
		return true
	}
	return t2-m.LastMapTime() >= m.params.FullRotationTime
}

// maxVoxelIndex bounds voxel indices so that differences between any two keys fit an int32.
const maxVoxelIndex = 1 << 29

// keyOf returns the voxel holding p. ok is false when p is not finite or lies beyond
// maxVoxelIndex voxels from the origin.
func (m *Mapper) keyOf(p r3.Vector) (voxelKey, bool) {
	var idx [3]int32
	for i, c := range []float64{p.X, p.Y, p.Z} {
		f := math.Floor(c / m.params.VoxelSize)
		if math.IsNaN(f) || math.Abs(f) > maxVoxelIndex {
			return voxelKey{}, false
		}
		idx[i] = int32(f)
	}
	return voxelKey{idx[0], idx[1], idx[2]}, true
}

// Add inserts a globally registered cloud. Existing points are never moved or removed.
// A query running concurrently sees either none or all of the cloud.
func (m *Mapper) Add(ctx context.Context, cloud sample.PointCloud, t float64, isBatch bool) error {
	_, span := trace.StartSpan(ctx, "lio::mapper::Add")
	defer span.End()

	if cloud.Frame != sample.FrameGlobal {
		return errors.Errorf("cannot map a cloud in the %s frame", cloud.Frame)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, p := range cloud.Points {
		key, ok := m.keyOf(p.Position)
		if !ok {
			continue
		}
		idx, ok := m.index[key]
		if !ok {
			idx = int32(len(m.cells))
			m.cells = append(m.cells, cell{})
			m.index[key] = idx
			m.growBounds(key)
		}
		m.cells[idx].points = append(m.cells[idx].points, p.Position)
		added++
	}
	if skipped := cloud.Len() - added; skipped > 0 {
		m.logger.Warnw("dropped points outside the mappable range", "skipped", skipped, "time", t)
	}
	if t > m.lastMapTime || !m.exists.Load() {
		m.lastMapTime = t
	}
	if added == 0 {
		return nil
	}
	m.size.Add(int64(added))
	m.insertions.Inc()
	if !m.exists.Swap(true) {
		m.logger.Infow("map initialized", "points", added, "time", t, "batch", isBatch)
	} else {
		m.logger.Debugf("mapped %d points at %.6f (batch %t), map size %d", added, t, isBatch, m.size.Load())
	}
	return nil
}

func (m *Mapper) growBounds(k voxelKey) {
	if len(m.cells) == 1 {
		m.minKey, m.maxKey = k, k
		return
	}
	m.minKey = voxelKey{min32(m.minKey.x, k.x), min32(m.minKey.y, k.y), min32(m.minKey.z, k.z)}
	m.maxKey = voxelKey{max32(m.maxKey.x, k.x), max32(m.maxKey.y, k.y), max32(m.maxKey.z, k.z)}
}

// Nearest returns up to k map points closest to p, nearest first.
func (m *Mapper) Nearest(p r3.Vector, k int) []r3.Vector {
	return m.NearestWithin(p, k, math.Inf(1))
}

// NearestWithin returns up to k map points within maxDist of p, nearest first.
// Voxels are visited in shells of growing Chebyshev radius around p's voxel, and the search
// stops once no unvisited voxel can hold a closer point.
func (m *Mapper) NearestWithin(p r3.Vector, k int, maxDist float64) []r3.Vector {
	if k <= 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.cells) == 0 {
		return nil
	}

	center, ok := m.keyOf(p)
	if !ok {
		return nil
	}
	maxRing := m.ringsToCover(center)
	if !math.IsInf(maxDist, 1) {
		if r := int32(math.Ceil(maxDist/m.params.VoxelSize)) + 1; r < maxRing {
			maxRing = r
		}
	}

	best := newKBest(k)
	for r := m.ringsToReach(center); r <= maxRing; r++ {
		m.visitShell(center, r, func(c *cell) {
			for _, q := range c.points {
				if d := q.Sub(p).Norm(); d <= maxDist {
					best.offer(q, d)
				}
			}
		})
		// every unvisited voxel is at least r voxels away
		if best.full() && best.worst() <= float64(r)*m.params.VoxelSize {
			break
		}
	}
	return best.points()
}

// ringsToCover returns the shell radius that reaches every occupied voxel from center.
func (m *Mapper) ringsToCover(center voxelKey) int32 {
	span := func(c, lo, hi int32) int32 {
		return max32(abs32(c-lo), abs32(hi-c))
	}
	return max32(span(center.x, m.minKey.x, m.maxKey.x),
		max32(span(center.y, m.minKey.y, m.maxKey.y), span(center.z, m.minKey.z, m.maxKey.z)))
}

// ringsToReach returns the smallest shell radius touching the occupied bounds.
func (m *Mapper) ringsToReach(center voxelKey) int32 {
	gap := func(c, lo, hi int32) int32 {
		switch {
		case c < lo:
			return lo - c
		case c > hi:
			return c - hi
		default:
			return 0
		}
	}
	return max32(gap(center.x, m.minKey.x, m.maxKey.x),
		max32(gap(center.y, m.minKey.y, m.maxKey.y), gap(center.z, m.minKey.z, m.maxKey.z)))
}

// visitShell calls visit for every occupied voxel at Chebyshev distance exactly r from center,
// skipping offsets outside the occupied bounds.
func (m *Mapper) visitShell(center voxelKey, r int32, visit func(*cell)) {
	clip := func(c, lo, hi int32) (int32, int32) {
		return max32(-r, lo-c), min32(r, hi-c)
	}
	x0, x1 := clip(center.x, m.minKey.x, m.maxKey.x)
	y0, y1 := clip(center.y, m.minKey.y, m.maxKey.y)
	z0, z1 := clip(center.z, m.minKey.z, m.maxKey.z)
	at := func(dx, dy, dz int32) {
		if idx, ok := m.index[voxelKey{center.x + dx, center.y + dy, center.z + dz}]; ok {
			visit(&m.cells[idx])
		}
	}
	for dx := x0; dx <= x1; dx++ {
		for dy := y0; dy <= y1; dy++ {
			if abs32(dx) == r || abs32(dy) == r {
				for dz := z0; dz <= z1; dz++ {
					at(dx, dy, dz)
				}
				continue
			}
			if r > 0 && -r >= z0 {
				at(dx, dy, -r)
			}
			if r <= z1 {
				at(dx, dy, r)
			}
		}
	}
}

// NearestPlane fits a plane to the k nearest map points around p. ok is false when fewer than
// k points lie within maxDist or when any of them is farther than threshold from the fit.
func (m *Mapper) NearestPlane(p r3.Vector, k int, maxDist, threshold float64) (spatialmath.Plane, bool) {
	neighbors := m.NearestWithin(p, k, maxDist)
	if len(neighbors) < k {
		return spatialmath.Plane{}, false
	}
	plane, _, ok := spatialmath.FitPlane(neighbors)
	if !ok {
		return spatialmath.Plane{}, false
	}
	for _, q := range neighbors {
		if math.Abs(plane.Distance(q)) > threshold {
			return spatialmath.Plane{}, false
		}
	}
	return plane, true
}

// Points returns a snapshot of the map as a global frame cloud stamped with the last map time.
func (m *Mapper) Points() sample.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cloud := sample.NewPointCloud(sample.FrameGlobal, int(m.size.Load()))
	for _, c := range m.cells {
		for _, q := range c.points {
			cloud.Points = append(cloud.Points, sample.Point{Position: q, Time: m.lastMapTime})
		}
	}
	return cloud
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func abs32(a int32) int32 {
	if a < 0 {
		return -a
	}
	return a
}
