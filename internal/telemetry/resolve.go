package telemetry

import "strings"

// Resolve finds the reading a mapping refers to. The first source that yields
// a scalar wins:
//
//  1. Topic and FieldPath: FieldPath inside payload.Topics[Topic]
//  2. Key: inside payload.Values
//  3. FieldPath: inside payload.Values
//
// Returns false (absent) when nothing resolves. Never panics.
func Resolve(p *Payload, m Mapping) (Value, bool) {
	if p == nil {
		return Value{}, false
	}

	if m.Topic != "" && m.FieldPath != "" {
		if obj, ok := p.Topics[m.Topic]; ok {
			if v, ok := lookup(obj, m.FieldPath); ok {
				return v, true
			}
		}
	}

	if m.Key != "" {
		if v, ok := lookup(p.Values, m.Key); ok {
			return v, true
		}
	}

	if m.FieldPath != "" {
		if v, ok := lookup(p.Values, m.FieldPath); ok {
			return v, true
		}
	}

	return Value{}, false
}

// lookup tries path as a dot-separated traversal, then as one literal key
// (labels such as "tele/dev/ENERGY.Power" contain dots).
func lookup(root map[string]any, path string) (Value, bool) {
	if root == nil || path == "" {
		return Value{}, false
	}
	if raw, ok := traverse(root, path); ok {
		if v, ok := Normalize(raw); ok {
			return v, true
		}
	}
	if raw, ok := root[path]; ok {
		return Normalize(raw)
	}
	return Value{}, false
}

func traverse(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
