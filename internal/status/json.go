package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Asset         *AssetJSON    `json:"asset,omitempty"`
	Polling       bool          `json:"polling"`
	Paused        bool          `json:"paused"`
	Updated       string        `json:"updated,omitempty"`
	Readout       []ReadingJSON `json:"readout"`
	Overlay       OverlayJSON   `json:"overlay"`
	Events        []EventJSON   `json:"events"`
	Counts        CountsJSON    `json:"trip_counts"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// AssetJSON identifies the selected asset.
type AssetJSON struct {
	ID   int    `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// ReadingJSON is one readout row.
type ReadingJSON struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Numeric bool   `json:"numeric"`
}

// OverlayJSON reports the annotation overlay state.
type OverlayJSON struct {
	Phase       string `json:"phase"`
	Ready       bool   `json:"ready"`
	Visible     bool   `json:"visible"`
	Pending     bool   `json:"pending"`
	Annotations int    `json:"annotations"`
	Reloads     int    `json:"reloads"`
}

// EventJSON is the JSON representation of a trip event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Alarm     bool   `json:"alarm"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of trip counts.
type CountsJSON struct {
	A int `json:"a"`
	B int `json:"b"`
	C int `json:"c"`
}

// ConfigJSON is the JSON representation of dashboard config.
type ConfigJSON struct {
	LiveMs     int64  `json:"live_ms"`
	HistoryMs  int64  `json:"history_ms"`
	DebounceMs int64  `json:"debounce_ms"`
	APIBase    string `json:"api_base"`
	Broker     string `json:"broker,omitempty"`
	HTTPAddr   string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Polling: snap.Polling,
		Paused:  snap.Paused,
		Readout: make([]ReadingJSON, 0, len(snap.Readout)),
		Events:  make([]EventJSON, 0, len(snap.Events)),
		Overlay: OverlayJSON{
			Phase:       snap.Overlay.Phase.String(),
			Ready:       snap.Overlay.Ready,
			Visible:     snap.Overlay.Visible,
			Pending:     snap.Overlay.Pending,
			Annotations: snap.Overlay.Annotations,
			Reloads:     snap.Overlay.Reloads,
		},
		Counts:        CountsJSON{A: snap.Counts.A, B: snap.Counts.B, C: snap.Counts.C},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			LiveMs:     snap.Config.LiveMs,
			HistoryMs:  snap.Config.HistoryMs,
			DebounceMs: snap.Config.DebounceMs,
			APIBase:    snap.Config.APIBase,
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
		},
	}

	if snap.Asset.ID > 0 {
		inner.Asset = &AssetJSON{ID: snap.Asset.ID, Key: snap.Asset.Key, Name: snap.Asset.Name}
	}
	if !snap.Updated.IsZero() {
		inner.Updated = snap.Updated.UTC().Format(time.RFC3339)
	}
	for _, r := range snap.Readout {
		inner.Readout = append(inner.Readout, ReadingJSON{Label: r.Label, Value: r.Value, Numeric: r.Numeric})
	}
	for _, e := range snap.Events {
		inner.Events = append(inner.Events, EventJSON{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Phase:     string(e.Phase),
			Message:   e.Message(),
			Alarm:     e.Alarm,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
