// Package logic contains pure business logic for phase trip tracking.
// This package has NO external dependencies (no MQTT, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Phase identifies one of the three supply phases.
type Phase string

const (
	PhaseA Phase = "A"
	PhaseB Phase = "B"
	PhaseC Phase = "C"
)

// Phases lists the tracked phases in reporting order.
var Phases = []Phase{PhaseA, PhaseB, PhaseC}

// State represents the logical state of a phase.
type State string

const (
	StateNormal  State = "NORMAL"
	StateTripped State = "TRIPPED"
)

// EventType represents a state transition event.
type EventType string

const (
	EventTrip EventType = "TRIP"
)

// Event represents a trip to be recorded and published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Phase     Phase
	Asset     string
	// Alarm is set when the event should sound an alarm; at most once per
	// cooldown per phase.
	Alarm bool
}

// Message is the human-readable event text.
func (e Event) Message() string {
	return "Trip on phase " + string(e.Phase)
}

// Input represents a single sample of telemetry labels.
type Input struct {
	Values map[string]any
	Time   time.Time
}

// EventCounts tracks the number of trips per phase since startup.
type EventCounts struct {
	A int
	B int
	C int
}

// Total is the sum over all phases.
func (c EventCounts) Total() int {
	return c.A + c.B + c.C
}
