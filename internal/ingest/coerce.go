// Package ingest turns raw MQTT messages into the per-asset latest-value
// cache served by the API, and records the measurements that feed reports.
package ingest

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// Coerce converts a raw MQTT payload into a value:
//   - a JSON object or array decodes as-is
//   - ON/TRUE become 1 and OFF/FALSE become 0, case-insensitively
//   - numeric text, with a comma or dot decimal separator, becomes a number
//   - anything else stays text
func Coerce(payload []byte) any {
	s := bytes.TrimSpace(payload)

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') && gjson.ValidBytes(s) {
		return gjson.ParseBytes(s).Value()
	}

	text := strings.ToValidUTF8(string(s), "")
	switch strings.ToUpper(text) {
	case "ON", "TRUE":
		return 1.0
	case "OFF", "FALSE":
		return 0.0
	}

	if f, ok := telemetry.ParseNumber(text); ok {
		return f
	}
	return text
}
