package logic

import (
	"testing"
	"time"
)

func TestNewDetector(t *testing.T) {
	d := NewDetector("north-farm", 0)
	if d == nil {
		t.Fatal("NewDetector returned nil")
	}
	if d.cooldown != DefaultAlarmCooldown {
		t.Errorf("expected cooldown %v, got %v", DefaultAlarmCooldown, d.cooldown)
	}
	for _, p := range Phases {
		if got := d.CurrentState()[p]; got != StateNormal {
			t.Errorf("phase %s: expected NORMAL, got %s", p, got)
		}
	}
	if len(d.Recent()) != 0 {
		t.Error("new detector should have no recent events")
	}
}

func TestTripOnTransitionOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector("north-farm", 10*time.Second)

	events := d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: now})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Phase != PhaseA || e.Type != EventTrip || e.Asset != "north-farm" {
		t.Errorf("unexpected event %+v", e)
	}
	if !e.Alarm {
		t.Error("first trip should raise the alarm")
	}
	if e.Message() != "Trip on phase A" {
		t.Errorf("unexpected message %q", e.Message())
	}

	// Still tripped: no new event.
	events = d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: now.Add(2 * time.Second)})
	if len(events) != 0 {
		t.Errorf("expected no events while tripped, got %d", len(events))
	}
	if d.CurrentState()[PhaseA] != StateTripped {
		t.Error("phase A should be TRIPPED")
	}
}

func TestTripLabels(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   []Phase
	}{
		{"none", map[string]any{}, nil},
		{"label text", map[string]any{"Disparo na Fase B": "on"}, []Phase{PhaseB}},
		{"power true", map[string]any{"Power3": "TRUE"}, []Phase{PhaseC}},
		{"numeric one", map[string]any{"power2": 1.0}, []Phase{PhaseB}},
		{"positive number", map[string]any{"POWER1": 0.5}, []Phase{PhaseA}},
		{"numeric string", map[string]any{"POWER1": " 3 "}, []Phase{PhaseA}},
		{"off", map[string]any{"POWER1": "OFF", "POWER2": 0.0, "POWER3": "false"}, nil},
		{"nil", map[string]any{"POWER1": nil}, nil},
		{"bool", map[string]any{"POWER2": true}, []Phase{PhaseB}},
		{"all", map[string]any{"POWER1": 1.0, "Power2": "on", "Disparo na Fase C": "1"}, []Phase{PhaseA, PhaseB, PhaseC}},
		{"unrelated", map[string]any{"POWER4": "ON", "V": 220.0}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector("x", 0)
			events := d.Process(Input{Values: tt.values, Time: time.Now()})
			if len(events) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(events))
			}
			for i, p := range tt.want {
				if events[i].Phase != p {
					t.Errorf("event %d: expected phase %s, got %s", i, p, events[i].Phase)
				}
			}
		})
	}
}

func TestAlarmCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector("x", 10*time.Second)
	on := map[string]any{"POWER1": "ON"}
	off := map[string]any{"POWER1": "OFF"}

	steps := []struct {
		at        time.Duration
		values    map[string]any
		wantEvent bool
		wantAlarm bool
	}{
		{0, on, true, true},
		{2 * time.Second, off, false, false},
		{4 * time.Second, on, true, false}, // within cooldown
		{6 * time.Second, off, false, false},
		{10 * time.Second, on, true, false}, // exactly at cooldown edge
		{12 * time.Second, off, false, false},
		{14 * time.Second, on, true, true},
	}

	for i, s := range steps {
		events := d.Process(Input{Values: s.values, Time: now.Add(s.at)})
		if got := len(events) == 1; got != s.wantEvent {
			t.Fatalf("step %d: event=%v, want %v", i, got, s.wantEvent)
		}
		if s.wantEvent && events[0].Alarm != s.wantAlarm {
			t.Errorf("step %d: alarm=%v, want %v", i, events[0].Alarm, s.wantAlarm)
		}
	}

	if d.Counts().A != 4 {
		t.Errorf("expected 4 trips on A, got %d", d.Counts().A)
	}
}

func TestCooldownIsPerPhase(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector("x", 10*time.Second)

	d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: now})
	events := d.Process(Input{Values: map[string]any{"POWER1": "ON", "POWER2": "ON"}, Time: now.Add(time.Second)})
	if len(events) != 1 || events[0].Phase != PhaseB {
		t.Fatalf("expected one B event, got %+v", events)
	}
	if !events[0].Alarm {
		t.Error("B alarm should not be held by A's cooldown")
	}
}

func TestRecentEventsBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector("x", 0)

	for i := 0; i < MaxRecentEvents+5; i++ {
		at := now.Add(time.Duration(i) * time.Minute)
		d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: at})
		d.Process(Input{Values: map[string]any{}, Time: at.Add(time.Second)})
	}

	recent := d.Recent()
	if len(recent) != MaxRecentEvents {
		t.Fatalf("expected %d recent events, got %d", MaxRecentEvents, len(recent))
	}
	// Newest first.
	if !recent[0].Timestamp.After(recent[1].Timestamp) {
		t.Error("recent events should be newest first")
	}
	if d.Counts().Total() != MaxRecentEvents+5 {
		t.Errorf("expected %d total trips, got %d", MaxRecentEvents+5, d.Counts().Total())
	}
}

func TestReset(t *testing.T) {
	d := NewDetector("x", 0)
	d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: time.Now()})

	d.Reset("y")
	if d.CurrentState()[PhaseA] != StateNormal {
		t.Error("reset should return phases to NORMAL")
	}
	if len(d.Recent()) != 0 || d.Counts().Total() != 0 {
		t.Error("reset should clear events and counts")
	}

	events := d.Process(Input{Values: map[string]any{"POWER1": "ON"}, Time: time.Now()})
	if len(events) != 1 || events[0].Asset != "y" || !events[0].Alarm {
		t.Errorf("expected fresh alarmed trip for y, got %+v", events)
	}
}
