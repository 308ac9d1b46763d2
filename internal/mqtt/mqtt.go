// Package mqtt provides MQTT publishing and subscribing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/twin-monitor/internal/logic"
)

// TopicPrefix roots every topic this system publishes.
const TopicPrefix = "twin"

// TopicSystem is the MQTT topic for dashboard lifecycle events.
const TopicSystem = TopicPrefix + "/dashboard/system"

// TopicEvents returns the trip event topic for an asset key.
func TopicEvents(asset string) string {
	if asset == "" {
		asset = "unknown"
	}
	return TopicPrefix + "/" + asset + "/events"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a trip event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Trip TripPayload `json:"trip"`
}

// TripPayload contains the trip event details.
type TripPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Asset     string `json:"asset"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Alarm     bool   `json:"alarm"`
}

// FormatPayload creates the JSON payload for a trip event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Trip: TripPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Asset:     event.Asset,
			Phase:     string(event.Phase),
			Message:   event.Message(),
			Alarm:     event.Alarm,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Message is one received MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes received messages. It runs on the client's delivery
// goroutine and must not block.
type Handler func(msg Message)

// Subscriber delivers messages from a set of topics.
type Subscriber interface {
	// Subscribe starts delivering messages for topics to h.
	Subscribe(topics []string, h Handler) error

	// Close disconnects from the broker.
	Close() error
}
