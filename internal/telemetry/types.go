// Package telemetry defines telemetry payloads and icon mappings, and
// resolves a mapping's value out of a payload.
// This package has NO I/O; everything here is a pure function of its inputs.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ComponentID identifies an element inside the 3D scene.
type ComponentID int

// Payload is one reading of an asset's telemetry as served by the latest
// endpoint. Values and Topics hold JSON-decoded scalars or nested objects.
// The engine never mutates a Payload after it is received.
type Payload struct {
	Timestamp float64                   `json:"ts"` // epoch seconds, 0 if unknown
	Values    map[string]any            `json:"values"`
	Topics    map[string]map[string]any `json:"topics,omitempty"`
}

// Time converts the payload timestamp, returning the zero time if unset.
func (p *Payload) Time() time.Time {
	if p == nil || p.Timestamp <= 0 {
		return time.Time{}
	}
	sec := int64(p.Timestamp)
	nsec := int64((p.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Mapping binds a scene component to one telemetry reading.
// Source lookup uses Topic+FieldPath, Key, or FieldPath alone; see Resolve.
type Mapping struct {
	TargetID      ComponentID `json:"dbId" yaml:"target_id"`
	Key           string      `json:"key,omitempty" yaml:"key"`
	Topic         string      `json:"topic,omitempty" yaml:"topic"`
	FieldPath     string      `json:"field_path,omitempty" yaml:"field_path"`
	LabelTemplate *string     `json:"labelTemplate" yaml:"label_template"`
	Style         string      `json:"css" yaml:"css"`
}

// ErrInvalidMapping is wrapped by Mapping.Validate.
var ErrInvalidMapping = errors.New("invalid mapping")

// Validate reports whether the mapping can ever resolve a value.
func (m Mapping) Validate() error {
	if m.TargetID <= 0 {
		return fmt.Errorf("%w: target id %d", ErrInvalidMapping, m.TargetID)
	}
	if m.Key == "" && m.FieldPath == "" {
		return fmt.Errorf("%w: target %d has neither key nor field path", ErrInvalidMapping, m.TargetID)
	}
	return nil
}

// Valid filters out malformed mappings, returning the usable ones in order
// and the validation errors of the rest.
func Valid(mappings []Mapping) ([]Mapping, []error) {
	out := make([]Mapping, 0, len(mappings))
	var errs []error
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errs
}
