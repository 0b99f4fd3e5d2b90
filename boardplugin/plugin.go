// Package boardplugin is a workflow EnginePlugin that lets pipelines hosted
// by the workflow engine push events into teamboard project rooms.
package boardplugin

import (
	"github.com/GoCodeAlone/workflow/capability"
	"github.com/GoCodeAlone/workflow/plugin"
	"github.com/GoCodeAlone/workflow/schema"
)

// Module and step type names.
const (
	ModuleRoomHub     = "teamboard.room_hub"
	StepRoomBroadcast = "step.board_broadcast"
)

// BoardPlugin implements plugin.EnginePlugin.
type BoardPlugin struct {
	plugin.BaseEnginePlugin
}

// New creates a BoardPlugin ready to register with the workflow engine.
func New() *BoardPlugin {
	return &BoardPlugin{
		BaseEnginePlugin: plugin.BaseEnginePlugin{
			BaseNativePlugin: plugin.BaseNativePlugin{
				PluginName:        "teamboard",
				PluginVersion:     "1.0.0",
				PluginDescription: "Teamboard project rooms",
			},
			Manifest: plugin.PluginManifest{
				Name:        "teamboard",
				Version:     "1.0.0",
				Author:      "GoCodeAlone",
				Description: "Broadcast board events into teamboard project rooms",
				ModuleTypes: []string{ModuleRoomHub},
				StepTypes:   []string{StepRoomBroadcast},
			},
		},
	}
}

// Capabilities returns the capability contracts for this plugin.
func (p *BoardPlugin) Capabilities() []capability.Contract {
	return nil
}

// ModuleFactories returns the module factories registered by this plugin.
func (p *BoardPlugin) ModuleFactories() map[string]plugin.ModuleFactory {
	return map[string]plugin.ModuleFactory{
		ModuleRoomHub: newRoomHubFactory(),
	}
}

// StepFactories returns the pipeline step factories registered by this plugin.
func (p *BoardPlugin) StepFactories() map[string]plugin.StepFactory {
	return map[string]plugin.StepFactory{
		StepRoomBroadcast: newBroadcastStepFactory(),
	}
}

// WiringHooks returns no hooks; room hubs need no post-init wiring.
func (p *BoardPlugin) WiringHooks() []plugin.WiringHook {
	return nil
}

// ModuleSchemas returns schema definitions for the UI.
func (p *BoardPlugin) ModuleSchemas() []*schema.ModuleSchema {
	return nil
}
