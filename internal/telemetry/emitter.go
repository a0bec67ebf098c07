package telemetry

import "context"

// EventEmitter emits lifecycle events (e.g. to Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
