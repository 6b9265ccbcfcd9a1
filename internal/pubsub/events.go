// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType classifies a published event.
type EventType string

const (
	// LogEvent carries a formatted log entry.
	LogEvent EventType = "log"
	// StateEvent carries a subsystem state transition.
	StateEvent EventType = "state"
	// ScheduleEvent carries a schedule installation or clearing.
	ScheduleEvent EventType = "schedule"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher publishes events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
