// Package bus provides the in-process event dispatcher described in
// spec.md §2: the router publishes every inbound frame as an event keyed by
// message type, enriched with the originating connection id. The router
// dispatches frames to its own handlers directly and does not subscribe to
// these events; the bus is there for other subscribers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a dispatcher event: a parsed wire message plus the connection id
// that produced it (spec.md §4.1).
type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	ConnectionID string                 `json:"connectionId"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data"`
}

// NewEvent creates an Event with a fresh id and current timestamp.
func NewEvent(eventType, connectionID string, data map[string]interface{}) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	}
}

// Handler processes an event published to a subject the handler subscribed to.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the dispatcher abstraction. The default implementation is
// in-process (Memory); a NATS-backed implementation is available for
// deployments that want the event fabric to survive process boundaries,
// though spec.md's core model assumes a single process and does not require it.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
