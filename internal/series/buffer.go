package series

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of points kept per metric.
const DefaultCapacity = 240

// Buffer holds one bounded series per metric key. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ring
}

// NewBuffer creates a Buffer keeping capacity points per metric.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity, series: make(map[string]*ring)}
}

// Capacity returns the per-metric point limit.
func (b *Buffer) Capacity() int { return b.capacity }

// Push appends a point to metric, evicting the oldest when full.
func (b *Buffer) Push(metric string, t time.Time, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.series[metric]
	if !ok {
		r = newRing(b.capacity)
		b.series[metric] = r
	}
	r.push(Point{Time: t, Value: v})
}

// Replace discards metric's points and loads pts, keeping the newest
// capacity of them.
func (b *Buffer) Replace(metric string, pts []Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := newRing(b.capacity)
	for _, p := range pts {
		r.push(p)
	}
	b.series[metric] = r
}

// Points returns metric's points, oldest first.
func (b *Buffer) Points(metric string) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.series[metric]; ok {
		return r.points()
	}
	return nil
}

// Last returns the newest point of metric.
func (b *Buffer) Last(metric string) (Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.series[metric]; ok {
		return r.last()
	}
	return Point{}, false
}

// Len returns the number of points held for metric.
func (b *Buffer) Len(metric string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.series[metric]; ok {
		return r.len()
	}
	return 0
}

// Metrics returns the metric keys in sorted order.
func (b *Buffer) Metrics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.series))
	for k := range b.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears a single metric.
func (b *Buffer) Reset(metric string) {
	b.mu.Lock()
	delete(b.series, metric)
	b.mu.Unlock()
}

// ResetAll clears every metric.
func (b *Buffer) ResetAll() {
	b.mu.Lock()
	b.series = make(map[string]*ring)
	b.mu.Unlock()
}
