package logic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default limits.
const (
	DefaultAlarmCooldown = 10 * time.Second
	MaxRecentEvents      = 30
)

// phaseLabels maps each phase to the telemetry labels that report its trip.
var phaseLabels = map[Phase][]string{
	PhaseA: {"Disparo na Fase A", "POWER1", "Power1", "power1"},
	PhaseB: {"Disparo na Fase B", "POWER2", "Power2", "power2"},
	PhaseC: {"Disparo na Fase C", "POWER3", "Power3", "power3"},
}

// Detector tracks phase states and detects normal-to-tripped transitions.
type Detector struct {
	asset     string
	cooldown  time.Duration
	states    map[Phase]State
	lastAlarm map[Phase]time.Time
	counts    EventCounts
	recent    []Event
}

// NewDetector creates a detector for asset. All phases start normal.
func NewDetector(asset string, cooldown time.Duration) *Detector {
	if cooldown <= 0 {
		cooldown = DefaultAlarmCooldown
	}
	d := &Detector{asset: asset, cooldown: cooldown}
	d.Reset(asset)
	return d
}

// Reset forgets all state and retargets the detector at asset.
func (d *Detector) Reset(asset string) {
	d.asset = asset
	d.states = make(map[Phase]State, len(Phases))
	for _, p := range Phases {
		d.states[p] = StateNormal
	}
	d.lastAlarm = make(map[Phase]time.Time, len(Phases))
	d.counts = EventCounts{}
	d.recent = nil
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are emitted in phase order A, B, C.
func (d *Detector) Process(input Input) []Event {
	var events []Event

	for _, p := range Phases {
		next := StateNormal
		if tripped(input.Values, phaseLabels[p]) {
			next = StateTripped
		}
		prev := d.states[p]
		d.states[p] = next

		if prev != StateNormal || next != StateTripped {
			continue
		}

		e := Event{Timestamp: input.Time, Type: EventTrip, Phase: p, Asset: d.asset}
		last, seen := d.lastAlarm[p]
		if !seen || input.Time.Sub(last) > d.cooldown {
			e.Alarm = true
			d.lastAlarm[p] = input.Time
		}
		events = append(events, e)
	}

	for _, e := range events {
		switch e.Phase {
		case PhaseA:
			d.counts.A++
		case PhaseB:
			d.counts.B++
		case PhaseC:
			d.counts.C++
		}
		d.recent = append([]Event{e}, d.recent...)
	}
	if len(d.recent) > MaxRecentEvents {
		d.recent = d.recent[:MaxRecentEvents]
	}

	return events
}

// CurrentState returns the state of each phase.
func (d *Detector) CurrentState() map[Phase]State {
	out := make(map[Phase]State, len(d.states))
	for p, s := range d.states {
		out[p] = s
	}
	return out
}

// Counts returns trip counts since the last reset.
func (d *Detector) Counts() EventCounts {
	return d.counts
}

// Recent returns the most recent events, newest first.
func (d *Detector) Recent() []Event {
	return append([]Event(nil), d.recent...)
}

// tripped reports whether any of labels holds an "on" value: on, true, 1 or a
// positive number.
func tripped(values map[string]any, labels []string) bool {
	for _, l := range labels {
		v, ok := values[l]
		if !ok || v == nil {
			continue
		}
		if isOn(v) {
			return true
		}
	}
	return false
}

func isOn(v any) bool {
	var s string
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x > 0
	case int:
		return x > 0
	case string:
		s = x
	default:
		s = fmt.Sprint(x)
	}

	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "on", "true", "1":
		return true
	}
	n, err := strconv.ParseFloat(s, 64)
	return err == nil && n > 0
}
