package telemetry

import "time"

// Event types emitted over the lifecycle pipeline.
const (
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
	EventSessionCompleted = "session_completed"
	EventSessionError     = "session_error"
)

// Event is one session lifecycle event. Serialized as JSON onto the Kafka
// lifecycle topic and forwarded to Loki by the worker.
type Event struct {
	SessionID string `json:"sessionId"`
	Channel   string `json:"channel,omitempty"`
	EventType string `json:"eventType"`
	Source    string `json:"source"`
	CreatedAt string `json:"createdAt"` // RFC3339Nano
}

// NewEvent builds a lifecycle event stamped with the current time.
func NewEvent(sessionID, channel, eventType string) *Event {
	return &Event{
		SessionID: sessionID,
		Channel:   channel,
		EventType: eventType,
		Source:    "pulse-server",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
