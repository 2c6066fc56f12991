// Package eventbus provides the publish/subscribe backbone C9 uses to fan
// out worker events to client links and to broadcast agent:connected /
// agent:disconnected notifications.
//
// Adapted directly from the teacher's internal/events/bus: the same
// EventBus interface, the same memory-or-NATS selection by config, renamed
// into this module and trimmed of the teacher's Request/Reply RPC call
// (nothing in this spec issues bus-level requests).
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an Event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered Event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the publish/subscribe contract C9 and C8 depend on.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
