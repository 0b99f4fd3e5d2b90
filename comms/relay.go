package comms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Rooms fans encoded events out to the live connections of a project.
type Rooms interface {
	Broadcast(projectID string, data []byte) int
}

// Relay connects a Bus to the local rooms. Every event published through it
// reaches the rooms of every instance sharing the bus.
type Relay struct {
	bus    Bus
	rooms  Rooms
	origin string
	logger *slog.Logger

	started atomic.Bool
	mu      sync.Mutex
	unsub   func()
}

// NewRelay creates a relay. origin identifies this instance on the bus.
func NewRelay(bus Bus, rooms Rooms, origin string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if origin == "" {
		origin = uuid.New().String()
	}
	return &Relay{bus: bus, rooms: rooms, origin: origin, logger: logger}
}

// Origin returns this instance's id on the bus.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes the rooms to the bus. Only the first call does anything;
// it reports whether this call started the relay.
func (r *Relay) Start(_ context.Context) bool {
	if !r.started.CompareAndSwap(false, true) {
		return false
	}
	unsub := r.bus.Subscribe("", func(_ context.Context, msg *Message) error {
		n := r.rooms.Broadcast(msg.ProjectID, msg.Event)
		r.logger.Debug("relay delivered",
			slog.String("project_id", msg.ProjectID),
			slog.String("type", msg.Type),
			slog.Int("clients", n),
		)
		return nil
	})
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()
	r.logger.Info("relay started", slog.String("origin", r.origin))
	return true
}

// Stop unsubscribes the rooms. A stopped relay can be started again.
func (r *Relay) Stop() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
		r.started.Store(false)
	}
}

// Running reports whether Start has taken effect.
func (r *Relay) Running() bool { return r.started.Load() }

// Publish sends an already encoded event to the room of projectID. It is
// also the entry point for collaborators that announce their own events.
func (r *Relay) Publish(ctx context.Context, projectID, eventType string, event []byte) error {
	msg := &Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Origin:    r.origin,
		Type:      eventType,
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	if err := r.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("relay %s to %s: %w", eventType, projectID, err)
	}
	return nil
}
