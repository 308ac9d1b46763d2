package overlay

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/twin-monitor/internal/telemetry"
)

func strp(s string) *string { return &s }

func TestBuildTemperatureScenario(t *testing.T) {
	mappings := []telemetry.Mapping{{TargetID: 7, LabelTemplate: strp("{value} °C"), Key: "temp", Style: "tag-red"}}

	got := Build(mappings, &telemetry.Payload{Values: map[string]any{"temp": "36,5"}})
	want := []Annotation{{TargetID: 7, Label: "36.50 °C", Style: "tag-red"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build mismatch (-want +got):\n%s", diff)
	}

	got = Build(mappings, &telemetry.Payload{Values: map[string]any{}})
	want = []Annotation{{TargetID: 7, Label: "— °C", Style: "tag-red"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build with missing value mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildKeepsOrderAndSkipsMalformed(t *testing.T) {
	mappings := []telemetry.Mapping{
		{TargetID: 3, Key: "b"},
		{TargetID: 0, Key: "a"},
		{TargetID: 1, Key: "a", LabelTemplate: strp("A={value}")},
		{TargetID: 2},
		{TargetID: 4, Key: "missing"},
	}
	p := &telemetry.Payload{Values: map[string]any{"a": 1.0, "b": "open"}}

	got := Build(mappings, p)
	want := []Annotation{
		{TargetID: 3, Label: "open"},
		{TargetID: 1, Label: "A=1.00"},
		{TargetID: 4, Label: Placeholder},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildNilPayload(t *testing.T) {
	got := Build([]telemetry.Mapping{{TargetID: 1, Key: "a"}}, nil)
	if len(got) != 1 || got[0].Label != Placeholder {
		t.Errorf("got %+v, want one placeholder annotation", got)
	}
}

func TestSignatureIgnoresUnrelatedFields(t *testing.T) {
	mappings := []telemetry.Mapping{{TargetID: 7, LabelTemplate: strp("{value} °C"), Key: "temp"}}
	p1 := &telemetry.Payload{Timestamp: 100, Values: map[string]any{"temp": "36,5", "other": 1.0}}
	p2 := &telemetry.Payload{Timestamp: 102, Values: map[string]any{"temp": 36.5, "other": 2.0}}

	if HasChanged(Build(mappings, p1), Build(mappings, p2)) {
		t.Error("identical rendered labels must share a signature")
	}

	p3 := &telemetry.Payload{Values: map[string]any{"temp": 36.504}}
	if HasChanged(Build(mappings, p1), Build(mappings, p3)) {
		t.Error("values equal after formatting must share a signature")
	}

	p4 := &telemetry.Payload{Values: map[string]any{"temp": 36.51}}
	if !HasChanged(Build(mappings, p1), Build(mappings, p4)) {
		t.Error("a formatted change must change the signature")
	}
}

func TestSignature(t *testing.T) {
	a := Annotation{TargetID: 1, Label: "x", Style: "s"}
	b := Annotation{TargetID: 2, Label: "y", Style: "s"}

	tests := []struct {
		name    string
		prev    []Annotation
		next    []Annotation
		changed bool
	}{
		{"same list", []Annotation{a, b}, []Annotation{a, b}, false},
		{"reordered", []Annotation{a, b}, []Annotation{b, a}, true},
		{"nil vs empty", nil, []Annotation{}, false},
		{"style change", []Annotation{a}, []Annotation{{TargetID: 1, Label: "x", Style: "t"}}, true},
		{"separator inside label", []Annotation{{TargetID: 1, Label: `x","css":"s`}}, []Annotation{{TargetID: 1, Label: "x", Style: "s"}}, true},
		{"element added", []Annotation{a}, []Annotation{a, b}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasChanged(tt.prev, tt.next); got != tt.changed {
				t.Errorf("HasChanged: got %v, want %v", got, tt.changed)
			}
		})
	}

	if Signature([]Annotation{a, b}) != Signature([]Annotation{a, b}) {
		t.Error("signature must be deterministic")
	}
}
