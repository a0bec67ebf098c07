// Package domain defines the session lifecycle model shared across the
// orchestration, ingestion, and transport layers.
package domain

import "time"

// Status values a session moves through. A session starts active, enters
// stopping once a stop begins, and lands on exactly one terminal status.
const (
	StatusActive   = "active"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"  // explicit stop request
	StatusComplete = "complete" // duration timer elapsed
	StatusError    = "error"
)

// Session is the in-process record of one live capture.
type Session struct {
	ID        string
	Channel   string
	Duration  time.Duration
	StartedAt time.Time
	Status    string
}

// RawEvent is one chat message as received from the source, before any
// classification. Tags carries the transport metadata (emote spans and the
// like) keyed by tag name.
type RawEvent struct {
	Username    string
	DisplayName string
	Content     string
	Channel     string
	Tags        map[string]string
	Timestamp   time.Time
}
