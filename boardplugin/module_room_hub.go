package boardplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/workflow/plugin"

	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/server/ws"
)

// RoomHub is a modular.Module owning a ws.Hub. It satisfies board.Rooms, so
// an engine built inside the workflow application can share its rooms with
// pipeline steps.
type RoomHub struct {
	*ws.Hub
	name string
}

var _ board.Rooms = (*RoomHub)(nil)

// NewRoomHub wraps a fresh hub under the service name name.
func NewRoomHub(name string, logger *slog.Logger) *RoomHub {
	return &RoomHub{Hub: ws.NewHub(logger), name: name}
}

// Name implements modular.Module.
func (h *RoomHub) Name() string { return h.name }

// Init registers the hub as a named service.
func (h *RoomHub) Init(app modular.Application) error {
	return app.RegisterService(h.name, h)
}

// ProvidesServices declares the room hub service.
func (h *RoomHub) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        h.name,
			Description: "Teamboard room hub: " + h.name,
			Instance:    h,
		},
	}
}

// RequiresServices declares no dependencies.
func (h *RoomHub) RequiresServices() []modular.ServiceDependency {
	return nil
}

// Start implements modular.Startable. Rooms are created on first join.
func (h *RoomHub) Start(_ context.Context) error { return nil }

// Stop implements modular.Stoppable and empties every room.
func (h *RoomHub) Stop(_ context.Context) error {
	h.Close()
	return nil
}

// Announce stamps e and fans it out to the room of projectID, returning how
// many sessions accepted it.
func (h *RoomHub) Announce(projectID string, e board.Event) (int, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return h.Broadcast(projectID, data), nil
}

// newRoomHubFactory returns a plugin.ModuleFactory for "teamboard.room_hub".
func newRoomHubFactory() plugin.ModuleFactory {
	return func(name string, _ map[string]any) modular.Module {
		return NewRoomHub(name, nil)
	}
}
