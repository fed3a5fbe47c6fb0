// Package hub maintains the registry of connected display clients and fans
// snapshot updates out to them.
package hub

import (
	"encoding/json"
	"time"

	"github.com/petal-labs/calticker/event"
)

// Message type discriminators on the client wire protocol.
const (
	MessageTypeEvents = "events"
	MessageTypePong   = "pong"
)

// DisplayConfig is the display section echoed to clients so they can render
// without their own configuration.
type DisplayConfig struct {
	TimeFormat            string `json:"time_format"`
	RelativeThresholdMins int    `json:"relative_time_threshold_mins"`
}

// ClientConfig is the config block attached to every events message.
type ClientConfig struct {
	Display         DisplayConfig `json:"display"`
	NoEventsMessage string        `json:"no_events_message"`
}

// EventsMessage is the snapshot push sent to display clients.
type EventsMessage struct {
	Type        string               `json:"type"`
	Data        []event.DisplayEvent `json:"data"`
	RefreshedAt *time.Time           `json:"refreshed_at"`
	Config      ClientConfig         `json:"config"`
}

// encodeEvents renders a snapshot as an events message. A zero RefreshedAt
// serializes as null, telling clients no refresh has completed yet.
func encodeEvents(snapshot event.Snapshot, cfg ClientConfig) ([]byte, error) {
	msg := EventsMessage{
		Type:   MessageTypeEvents,
		Data:   snapshot.Events,
		Config: cfg,
	}
	if !snapshot.RefreshedAt.IsZero() {
		t := snapshot.RefreshedAt
		msg.RefreshedAt = &t
	}
	return json.Marshal(msg)
}

// PongMessage returns the encoded reply to a client ping.
func PongMessage() []byte {
	return []byte(`{"type":"pong"}`)
}
