package mapper

import (
	"sort"

	"github.com/golang/geo/r3"
)

// kBest keeps the k closest candidates seen so far, sorted by distance.
type kBest struct {
	k     int
	dists []float64
	pts   []r3.Vector
}

func newKBest(k int) *kBest {
	return &kBest{k: k, dists: make([]float64, 0, k), pts: make([]r3.Vector, 0, k)}
}

func (b *kBest) full() bool {
	return len(b.dists) == b.k
}

func (b *kBest) worst() float64 {
	return b.dists[len(b.dists)-1]
}

func (b *kBest) offer(p r3.Vector, d float64) {
	if b.full() && d >= b.worst() {
		return
	}
	i := sort.SearchFloat64s(b.dists, d)
	if !b.full() {
		b.dists = append(b.dists, 0)
		b.pts = append(b.pts, r3.Vector{})
	}
	copy(b.dists[i+1:], b.dists[i:len(b.dists)-1])
	copy(b.pts[i+1:], b.pts[i:len(b.pts)-1])
	b.dists[i] = d
	b.pts[i] = p
}

func (b *kBest) points() []r3.Vector {
	out := make([]r3.Vector, len(b.pts))
	copy(out, b.pts)
	return out
}
