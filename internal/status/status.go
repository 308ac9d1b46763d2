// Package status provides a thread-safe status tracker for the twin dashboard.
// It is read by HTTP handlers and the MQTT system-event publisher.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/logic"
	"github.com/sweeney/twin-monitor/internal/overlay"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Config contains dashboard configuration for display.
type Config struct {
	LiveMs     int64
	HistoryMs  int64
	DebounceMs int64
	APIBase    string
	Broker     string
	HTTPAddr   string
}

// Reading is one row of the live readout list.
type Reading struct {
	Label   string
	Value   string
	Numeric bool
}

// Snapshot is a point-in-time view of dashboard state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Asset         telemetry.Asset
	Readout       []Reading
	Updated       time.Time
	Polling       bool
	Paused        bool
	Overlay       overlay.State
	Events        []logic.Event
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the dashboard started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable dashboard state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Overlay:   overlay.State{Visible: true},
		},
	}
}

// SetAsset records the selected asset and clears everything derived from
// the previous one.
func (t *Tracker) SetAsset(a telemetry.Asset) {
	t.mu.Lock()
	t.snap.Asset = a
	t.snap.Readout = nil
	t.snap.Updated = time.Time{}
	t.snap.Events = nil
	t.snap.Counts = logic.EventCounts{}
	t.mu.Unlock()
}

// UpdateReadout rebuilds the readout list from a payload's top-level values.
// Called on every live tick.
func (t *Tracker) UpdateReadout(p *telemetry.Payload) {
	readout := BuildReadout(p)
	var updated time.Time
	if p != nil {
		updated = p.Time()
	}

	t.mu.Lock()
	t.snap.Readout = readout
	t.snap.Updated = updated
	t.mu.Unlock()
}

// UpdateEvents sets the recent trip events (newest first) and counts.
func (t *Tracker) UpdateEvents(recent []logic.Event, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Events = recent
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetOverlay sets the overlay controller state.
func (t *Tracker) SetOverlay(s overlay.State) {
	t.mu.Lock()
	t.snap.Overlay = s
	t.mu.Unlock()
}

// SetPolling sets whether the live poller is running or paused.
func (t *Tracker) SetPolling(running, paused bool) {
	t.mu.Lock()
	t.snap.Polling = running
	t.snap.Paused = paused
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the dashboard state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Readout = append([]Reading(nil), t.snap.Readout...)
	s.Events = append([]logic.Event(nil), t.snap.Events...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// BuildReadout formats a payload's scalar values sorted by label. Objects and
// nulls are left out.
func BuildReadout(p *telemetry.Payload) []Reading {
	if p == nil {
		return nil
	}
	out := make([]Reading, 0, len(p.Values))
	for label, raw := range p.Values {
		v, ok := telemetry.Normalize(raw)
		if !ok {
			continue
		}
		out = append(out, Reading{Label: label, Value: v.Format(), Numeric: v.IsNumber()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
