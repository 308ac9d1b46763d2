// Package overlay keeps the scene's annotation extension in step with
// telemetry: it builds labels, suppresses no-op rebuilds, debounces bursts
// and drives the extension through its load/unload lifecycle.
package overlay

import (
	"encoding/json"
	"strings"

	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Placeholder is rendered in place of a value that did not resolve.
const Placeholder = "—"

// ValueToken is substituted by the formatted value in a label template.
const ValueToken = "{value}"

// Annotation is one label anchored to a scene component.
type Annotation struct {
	TargetID telemetry.ComponentID `json:"dbId"`
	Label    string                `json:"label"`
	Style    string                `json:"css"`
}

// Build renders one annotation per valid mapping, in mapping order. Mappings
// whose value is absent still render, with the placeholder.
func Build(mappings []telemetry.Mapping, p *telemetry.Payload) []Annotation {
	out := make([]Annotation, 0, len(mappings))
	for _, m := range mappings {
		if m.Validate() != nil {
			continue
		}
		v, ok := telemetry.Resolve(p, m)
		out = append(out, Annotation{
			TargetID: m.TargetID,
			Label:    RenderLabel(m.LabelTemplate, v, ok),
			Style:    m.Style,
		})
	}
	return out
}

// RenderLabel substitutes the formatted value into tmpl. A nil template
// renders the value alone.
func RenderLabel(tmpl *string, v telemetry.Value, ok bool) string {
	text := Placeholder
	if ok {
		text = v.Format()
	}
	if tmpl == nil {
		return text
	}
	return strings.ReplaceAll(*tmpl, ValueToken, text)
}

// Signature is a structural fingerprint of an ordered annotation list. Two
// lists share a signature iff every field of every element matches in order.
// nil and empty lists are equal.
func Signature(icons []Annotation) string {
	if len(icons) == 0 {
		return "[]"
	}
	// Marshalling a slice of flat structs cannot fail.
	b, _ := json.Marshal(icons)
	return string(b)
}

// HasChanged reports whether next would render differently from prev.
func HasChanged(prev, next []Annotation) bool {
	return Signature(prev) != Signature(next)
}
