package agent

import "testing"

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"code-reviewer_2": "Code Reviewer 2",
		"planner":         "Planner",
		"ops.bot--x":      "Ops Bot X",
	}
	for in, want := range tests {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPresence_Normalize(t *testing.T) {
	p := Presence{AgentID: "  scout-1 "}.Normalize()
	if p.AgentID != "scout-1" {
		t.Errorf("AgentID = %q, want scout-1", p.AgentID)
	}
	if p.DisplayName != "Scout 1" {
		t.Errorf("DisplayName = %q, want Scout 1", p.DisplayName)
	}

	named := Presence{AgentID: "a7", DisplayName: "Ada", IsNamedPersona: true}.Normalize()
	if named.DisplayName != "Ada" || !named.IsNamedPersona {
		t.Errorf("named persona changed: %+v", named)
	}
}
