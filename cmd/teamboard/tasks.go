package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/teamboard/board"
)

func newCreateCmd(cfg settings) *cobra.Command {
	var req board.CreateTaskRequest
	cmd := &cobra.Command{
		Use:   "create <task_id> <description...>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskID = args[0]
			req.Description = strings.Join(args[1:], " ")
			req.AgentID = cfg.agentID()

			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := cfg.requestCtx(cmd.Context())
			defer cancel()
			ack, err := c.CreateTask(ctx, req)
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), ack)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s task %s at version %d\n", okColor.Sprint("created"), ack.TaskID, ack.Version)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Status, "status", "", "initial status (pending, in_progress, completed, blocked)")
	f.StringVar(&req.Priority, "priority", "", "priority label, e.g. low, normal, high, critical")
	f.StringVar(&req.Dependency, "dependency", "", "dependency (AGENT_CAPABLE, USER_REQUIRED)")
	f.StringVar(&req.Scope, "scope", "", "free-form scope")
	f.StringSliceVar(&req.Tags, "tag", nil, "tag (repeatable)")
	f.StringSliceVar(&req.BlockedBy, "blocked-by", nil, "task_id this task waits on (repeatable)")
	f.StringVar(&req.ParentTaskID, "parent", "", "parent milestone task_id")
	f.StringVar(&req.AssigneeID, "assignee", "", "assignee id")
	f.StringVar(&req.SynthesisNote, "note", "", "synthesis note")
	f.StringVar(&req.AgentName, "agent-name", "", "display name for --agent-id")
	return cmd
}

func newUpdateCmd(cfg settings) *cobra.Command {
	var (
		req                                         board.UpdateTaskRequest
		description, status, priority, dependency   string
		scope, assignee, artifact, remoteURL, extID string
		parent                                      string
		tags, blockedBy                             []string
	)
	cmd := &cobra.Command{
		Use:   "update <task_id>",
		Short: "Update fields of a task",
		Long: "Only flags that are given are sent. With --version the update is rejected\n" +
			"as a conflict if someone else changed the task since that version.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskID = args[0]
			req.AgentID = cfg.agentID()
			f := cmd.Flags()
			setIf := func(name string, dst **string, v string) {
				if f.Changed(name) {
					*dst = &v
				}
			}
			setIf("description", &req.Description, description)
			setIf("status", &req.Status, status)
			setIf("priority", &req.Priority, priority)
			setIf("dependency", &req.Dependency, dependency)
			setIf("scope", &req.Scope, scope)
			setIf("assignee", &req.AssigneeID, assignee)
			setIf("artifact", &req.ArtifactPath, artifact)
			setIf("remote-url", &req.RemoteURL, remoteURL)
			setIf("external-id", &req.ExternalID, extID)
			setIf("parent", &req.ParentTaskID, parent)
			if f.Changed("tags") {
				req.Tags = &tags
			}
			if f.Changed("blocked-by") {
				req.BlockedBy = &blockedBy
			}

			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := cfg.requestCtx(cmd.Context())
			defer cancel()
			res, err := c.UpdateTask(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Conflict != nil {
				if cfg.jsonOutput() {
					_ = printJSON(out, res.Conflict)
				} else {
					fmt.Fprintf(out, "%s task %s is at version %d, you sent %d\n",
						warnColor.Sprint("conflict:"), res.Conflict.TaskID,
						res.Conflict.ServerVersion, res.Conflict.ClientVersion)
					printTaskHeader(out)
					printTaskRow(out, res.Conflict.ServerTask)
				}
				return fmt.Errorf("update of %s rejected as stale", req.TaskID)
			}
			if cfg.jsonOutput() {
				return printJSON(out, res.Ack)
			}
			fmt.Fprintf(out, "%s task %s at version %d\n", okColor.Sprint("updated"), res.Ack.TaskID, res.Ack.Version)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&req.Version, "version", 0, "version the change is based on (0 skips the check)")
	f.StringVar(&description, "description", "", "new description")
	f.StringVar(&status, "status", "", "new status")
	f.StringVar(&priority, "priority", "", "new priority")
	f.StringVar(&dependency, "dependency", "", "new dependency kind")
	f.StringVar(&scope, "scope", "", "new scope")
	f.StringVar(&assignee, "assignee", "", "new assignee id")
	f.StringVar(&artifact, "artifact", "", "artifact path")
	f.StringVar(&remoteURL, "remote-url", "", "remote URL")
	f.StringVar(&extID, "external-id", "", "external tracker id")
	f.StringVar(&parent, "parent", "", "new parent task_id (empty detaches)")
	f.StringSliceVar(&tags, "tags", nil, "replace tags")
	f.StringSliceVar(&blockedBy, "blocked-by", nil, "replace blocked_by")
	f.StringVar(&req.SynthesisNote, "note", "", "append a synthesis note")
	f.StringVar(&req.AgentName, "agent-name", "", "display name for --agent-id")
	return cmd
}

func newSyncCmd(cfg settings) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "List tasks changed after a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := cfg.requestCtx(cmd.Context())
			defer cancel()
			resp, err := c.Sync(ctx, since)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.jsonOutput() {
				return printJSON(out, resp)
			}
			if len(resp.Tasks) == 0 {
				fmt.Fprintf(out, "no changes (max version %d)\n", resp.MaxVersion)
				return nil
			}
			printTaskHeader(out)
			for _, t := range resp.Tasks {
				printTaskRow(out, t)
			}
			fmt.Fprintf(out, "\nmax version %d\n", resp.MaxVersion)
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only tasks with a version above this (0 lists all)")
	return cmd
}
