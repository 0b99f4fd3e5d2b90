package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/internal/version"
	"github.com/GoCodeAlone/teamboard/task"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(s task.Status) *color.Color {
	switch s {
	case task.StatusCompleted:
		return okColor
	case task.StatusInProgress:
		return color.New(color.FgCyan)
	case task.StatusBlocked:
		return errorColor
	default:
		return warnColor
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func printTaskHeader(w io.Writer) {
	fmt.Fprintf(w, "%-16s %-8s %-12s %-8s %s\n", "TASK", "VERSION", "STATUS", "PRIORITY", "DESCRIPTION")
	fmt.Fprintln(w, strings.Repeat("-", 78))
}

func printTaskRow(w io.Writer, t *task.Task) {
	fmt.Fprintf(w, "%-16s %-8d %s %-8s %s\n",
		truncate(t.TaskID, 16),
		t.Version,
		statusColor(t.Status).Sprintf("%-12s", t.Status),
		t.Priority,
		truncate(t.Description, 40),
	)
}

// printEvent renders one room broadcast on a single line.
func printEvent(w io.Writer, typ board.EventType, raw []byte) {
	ts := dimColor.Sprint("--:--:--")
	var env board.Envelope
	if json.Unmarshal(raw, &env) == nil && !env.Timestamp.IsZero() {
		ts = dimColor.Sprint(env.Timestamp.Local().Format("15:04:05"))
	}

	switch typ {
	case board.EventTaskCreated, board.EventTaskUpdated, board.EventTaskStatusChanged:
		var p board.TaskEventPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Task == nil {
			break
		}
		who := p.Activity.AgentID
		if p.Agent != nil {
			who = p.Agent.Name
		}
		line := fmt.Sprintf("%s %-20s %s v%d %s", ts, typ, p.Task.TaskID, p.Task.Version,
			statusColor(p.Task.Status).Sprint(p.Task.Status))
		if who != "" {
			line += " by " + who
		}
		if m := p.Milestone; m != nil {
			line += dimColor.Sprintf(" [%s %d%%]", m.TaskID, m.ProgressPercent)
		}
		fmt.Fprintln(w, line)
		return
	case board.EventAgentRegistered:
		var p board.AgentPayload
		if err := json.Unmarshal(raw, &p); err == nil {
			fmt.Fprintf(w, "%s %-20s %s (%s)\n", ts, typ, okColor.Sprint(p.DisplayName), p.AgentID)
			return
		}
	}
	fmt.Fprintf(w, "%s %s\n", ts, typ)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "teamboard "+version.String())
		},
	}
}
