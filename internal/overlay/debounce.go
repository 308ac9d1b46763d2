package overlay

import (
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/clock"
	"github.com/sweeney/twin-monitor/internal/metrics"
)

// DefaultDebounce is the window over which annotation updates are coalesced.
const DefaultDebounce = 350 * time.Millisecond

// Debouncer coalesces annotation updates so that at most one reconciliation
// runs per window. Updates whose signature matches the last accepted one are
// dropped; within a window the last update wins.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration
	apply  func(icons []Annotation)

	mu      sync.Mutex
	lastSig string
	hasSig  bool
	timer   clock.Timer
	gen     uint64 // bumped on every arm/cancel; stale fires compare against it
}

// NewDebouncer creates a Debouncer that calls apply after window.
func NewDebouncer(c clock.Clock, window time.Duration, apply func(icons []Annotation)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{clock: c, window: window, apply: apply}
}

// Update offers a new annotation list. Returns false if it was suppressed as
// identical to the last accepted list.
func (d *Debouncer) Update(icons []Annotation) bool {
	sig := Signature(icons)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasSig && sig == d.lastSig {
		metrics.OverlayUpdates.WithLabelValues("suppressed").Inc()
		return false
	}
	d.lastSig, d.hasSig = sig, true

	d.cancelLocked()
	gen := d.gen
	pending := append([]Annotation(nil), icons...)
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen, pending) })
	metrics.OverlayUpdates.WithLabelValues("armed").Inc()
	return true
}

func (d *Debouncer) fire(gen uint64, icons []Annotation) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.apply(icons)
}

// cancelLocked stops any armed timer and invalidates callbacks that already
// fired but have not yet taken the lock.
func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Reset cancels any pending reconciliation and forgets the last signature.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.cancelLocked()
	d.lastSig, d.hasSig = "", false
	d.mu.Unlock()
}

// Forget drops the last signature so that the next update is applied even if
// unchanged. A pending reconciliation is left armed.
func (d *Debouncer) Forget() {
	d.mu.Lock()
	d.lastSig, d.hasSig = "", false
	d.mu.Unlock()
}

// Pending reports whether a reconciliation is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
