// Package series keeps bounded per-metric time series for charting.
package series

import "time"

// Point is one timestamped sample.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// ring is a fixed-capacity FIFO that overwrites its oldest point when full.
// Not safe for concurrent use; callers synchronize.
type ring struct {
	buf      []Point
	capacity int
	head     int // next write position
	count    int
}

func newRing(capacity int) *ring {
	return &ring{
		buf:      make([]Point, capacity),
		capacity: capacity,
	}
}

func (r *ring) push(p Point) {
	r.buf[r.head] = p
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// points returns the contents oldest first.
func (r *ring) points() []Point {
	if r.count == 0 {
		return nil
	}

	result := make([]Point, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}
	return result
}

func (r *ring) last() (Point, bool) {
	if r.count == 0 {
		return Point{}, false
	}
	return r.buf[(r.head-1+r.capacity)%r.capacity], true
}

func (r *ring) len() int {
	return r.count
}
