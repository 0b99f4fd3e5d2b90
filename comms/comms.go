// Package comms carries room broadcasts between the sync engine and the
// websocket hub, optionally across daemon instances.
package comms

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one room broadcast in transit.
type Message struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Origin    string          `json:"origin"` // instance that published it
	Type      string          `json:"type"`   // event type, for logging and filtering
	Event     json.RawMessage `json:"event"`  // encoded outbound event, delivered as is
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes a message delivered by a Bus.
type Handler func(ctx context.Context, msg *Message) error

// Bus moves room broadcasts to subscribers.
type Bus interface {
	// Publish delivers msg to the handlers subscribed to msg.ProjectID and to
	// the catch-all handlers.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for one project, or for every project
	// when projectID is empty. Returns an unsubscribe function.
	Subscribe(projectID string, handler Handler) (unsubscribe func())

	// Close releases the bus.
	Close() error
}
