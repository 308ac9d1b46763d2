package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a resolved scalar reading: either a number or text.
type Value struct {
	num     float64
	text    string
	numeric bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{num: f, numeric: true} }

// Text returns a textual Value.
func Text(s string) Value { return Value{text: s} }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.numeric }

// Float returns the numeric value and whether v is numeric.
func (v Value) Float() (float64, bool) { return v.num, v.numeric }

// Format renders numbers with two decimals and text as-is.
func (v Value) Format() string {
	if v.numeric {
		return strconv.FormatFloat(v.num, 'f', 2, 64)
	}
	return v.text
}

// String implements fmt.Stringer.
func (v Value) String() string { return v.Format() }

// ParseNumber converts s to a number, treating the first ',' as the decimal
// separator. Empty and non-finite inputs are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Normalize converts a raw decoded scalar into a Value. Strings that parse as
// numbers become numbers; anything else keeps its text. nil, objects and
// arrays are not scalars and report false.
func Normalize(raw any) (Value, bool) {
	switch x := raw.(type) {
	case nil:
		return Value{}, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Value{}, false
		}
		return Number(x), true
	case float32:
		return Normalize(float64(x))
	case int:
		return Number(float64(x)), true
	case int64:
		return Number(float64(x)), true
	case json.Number:
		if f, ok := ParseNumber(x.String()); ok {
			return Number(f), true
		}
		return Text(x.String()), true
	case string:
		if f, ok := ParseNumber(x); ok {
			return Number(f), true
		}
		return Text(x), true
	case bool:
		return Text(strconv.FormatBool(x)), true
	default:
		return Value{}, false
	}
}
