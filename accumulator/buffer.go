package accumulator

import "sort"

// timeline is a time ordered slice. It is not safe for concurrent use; the accumulator
// guards each timeline with its own mutex.
type timeline[T any] struct {
	items  []T
	timeOf func(T) float64
}

func newTimeline[T any](timeOf func(T) float64) *timeline[T] {
	return &timeline[T]{timeOf: timeOf}
}

func (tl *timeline[T]) len() int {
	return len(tl.items)
}

// insert keeps the slice ordered. Items with equal times stay in arrival order.
// It returns false when the item had to be inserted before the tail.
func (tl *timeline[T]) insert(item T) bool {
	t := tl.timeOf(item)
	n := len(tl.items)
	if n == 0 || tl.timeOf(tl.items[n-1]) <= t {
		tl.items = append(tl.items, item)
		return true
	}
	idx := tl.firstAfter(t)
	var zero T
	tl.items = append(tl.items, zero)
	copy(tl.items[idx+1:], tl.items[idx:])
	tl.items[idx] = item
	return false
}

// firstAtOrAfter returns the index of the first item with time >= t.
func (tl *timeline[T]) firstAtOrAfter(t float64) int {
	return sort.Search(len(tl.items), func(i int) bool { return tl.timeOf(tl.items[i]) >= t })
}

// firstAfter returns the index of the first item with time > t.
func (tl *timeline[T]) firstAfter(t float64) int {
	return sort.Search(len(tl.items), func(i int) bool { return tl.timeOf(tl.items[i]) > t })
}

// rangeCopy copies the items with time in [t1, t2).
func (tl *timeline[T]) rangeCopy(t1, t2 float64) []T {
	lo, hi := tl.firstAtOrAfter(t1), tl.firstAtOrAfter(t2)
	if lo >= hi {
		return nil
	}
	out := make([]T, hi-lo)
	copy(out, tl.items[lo:hi])
	return out
}

// dropBefore removes every item with time < t and returns how many were removed.
func (tl *timeline[T]) dropBefore(t float64) int {
	idx := tl.firstAtOrAfter(t)
	if idx == 0 {
		return 0
	}
	// copy into a fresh slice so the dropped prefix can be collected
	rest := make([]T, len(tl.items)-idx)
	copy(rest, tl.items[idx:])
	tl.items = rest
	return idx
}

func (tl *timeline[T]) first() (T, bool) {
	if len(tl.items) == 0 {
		var zero T
		return zero, false
	}
	return tl.items[0], true
}

func (tl *timeline[T]) last() (T, bool) {
	if len(tl.items) == 0 {
		var zero T
		return zero, false
	}
	return tl.items[len(tl.items)-1], true
}
