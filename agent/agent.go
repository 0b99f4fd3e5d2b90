// Package agent defines the ephemeral presence an agent announces to a
// project room. Presence is informational only and never persisted.
package agent

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Presence is what a client announces with agent_registered.
type Presence struct {
	AgentID        string `json:"agent_id"`
	DisplayName    string `json:"display_name"`
	IsNamedPersona bool   `json:"is_named_persona"`
}

// Normalize trims the fields and derives a display name from the agent id
// when none was given, e.g. "code-reviewer_2" becomes "Code Reviewer 2".
func (p Presence) Normalize() Presence {
	p.AgentID = strings.TrimSpace(p.AgentID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.DisplayName == "" && p.AgentID != "" {
		p.DisplayName = DisplayName(p.AgentID)
	}
	return p
}

// DisplayName title-cases an agent id, treating '-', '_' and '.' as spaces.
func DisplayName(agentID string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.':
			return ' '
		}
		return r
	}, agentID)
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English).String(name)
}

// Ref is the {id, name} attribution attached to task broadcasts.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
