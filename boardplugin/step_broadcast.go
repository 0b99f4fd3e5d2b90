package boardplugin

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modular"
	"github.com/GoCodeAlone/workflow/module"
	"github.com/GoCodeAlone/workflow/plugin"

	"github.com/GoCodeAlone/teamboard/board"
)

// BroadcastStep announces an event into a project room. The project id,
// event type and payload come from the pipeline's current data, falling back
// to the step config.
type BroadcastStep struct {
	name      string
	hub       string
	project   string
	eventType string
	app       modular.Application
}

func (s *BroadcastStep) Name() string { return s.name }

func (s *BroadcastStep) Execute(_ context.Context, pc *module.PipelineContext) (*module.StepResult, error) {
	hub, err := s.lookupHub()
	if err != nil {
		return nil, err
	}

	projectID := extractString(pc.Current, "project_id", s.project)
	if projectID == "" {
		return failure("project_id is required"), nil
	}
	eventType := extractString(pc.Current, "event_type", s.eventType)
	if eventType == "" {
		return failure("event_type is required"), nil
	}
	payload, _ := pc.Current["payload"].(map[string]any)

	n, err := hub.Announce(projectID, board.Event{
		Type:    board.EventType(eventType),
		Payload: payload,
	})
	if err != nil {
		return failure(err.Error()), nil
	}
	return &module.StepResult{
		Output: map[string]any{
			"success":    true,
			"project_id": projectID,
			"delivered":  n,
		},
	}, nil
}

func (s *BroadcastStep) lookupHub() (*RoomHub, error) {
	svc, ok := s.app.SvcRegistry()[s.hub]
	if !ok {
		return nil, fmt.Errorf("%s: room hub %q not registered", s.name, s.hub)
	}
	hub, ok := svc.(*RoomHub)
	if !ok {
		return nil, fmt.Errorf("%s: service %q is %T, not a room hub", s.name, s.hub, svc)
	}
	return hub, nil
}

func failure(msg string) *module.StepResult {
	return &module.StepResult{
		Output: map[string]any{
			"success": false,
			"error":   msg,
		},
	}
}

func extractString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// newBroadcastStepFactory returns a plugin.StepFactory for
// "step.board_broadcast".
//
// Supported config keys:
//
//	hub:        room hub module name (default "room-hub")
//	project_id: default project when the pipeline data has none
//	event_type: default event type when the pipeline data has none
func newBroadcastStepFactory() plugin.StepFactory {
	return func(name string, cfg map[string]any, app modular.Application) (any, error) {
		return &BroadcastStep{
			name:      name,
			hub:       extractString(cfg, "hub", "room-hub"),
			project:   extractString(cfg, "project_id", ""),
			eventType: extractString(cfg, "event_type", ""),
			app:       app,
		}, nil
	}
}
