package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/client"
)

func newWatchCmd(cfg settings) *cobra.Command {
	var catchUp int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream project events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			conn := c.Connected()
			fmt.Fprintf(os.Stderr, "watching %s from version %d (session %s)\n",
				conn.ProjectID, conn.MaxVersion, conn.SessionID)

			if cmd.Flags().Changed("since") {
				reqCtx, cancel := cfg.requestCtx(ctx)
				resp, err := c.Sync(reqCtx, catchUp)
				cancel()
				if err != nil {
					return err
				}
				for _, t := range resp.Tasks {
					if cfg.jsonOutput() {
						_ = printJSON(out, t)
						continue
					}
					printTaskRow(out, t)
				}
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case m, ok := <-c.Events():
					if !ok {
						if err := c.Err(); err != nil && !errors.Is(err, client.ErrClosed) {
							return fmt.Errorf("connection lost: %w", err)
						}
						return nil
					}
					if cfg.jsonOutput() {
						fmt.Fprintln(out, string(m.Raw))
						continue
					}
					printEvent(out, m.Type, m.Raw)
				}
			}
		},
	}
	cmd.Flags().Int64Var(&catchUp, "since", 0, "print tasks changed after this version before streaming")
	return cmd
}

func newPingCmd(cfg settings) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round trips to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(time.Second):
					}
				}
				ctx, cancel := cfg.requestCtx(cmd.Context())
				rtt, err := c.Ping(ctx)
				cancel()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong from %s: %s\n", cfg.server(), rtt.Round(time.Microsecond))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of pings")
	return cmd
}

func newRegisterCmd(cfg settings) *cobra.Command {
	var req board.AgentRegisteredRequest
	cmd := &cobra.Command{
		Use:   "register <agent_id>",
		Short: "Announce an agent to the project room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.AgentID = args[0]
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := cfg.requestCtx(cmd.Context())
			defer cancel()
			p, err := c.RegisterAgent(ctx, req)
			if err != nil {
				return err
			}
			if cfg.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), p)
			}
			kind := "agent"
			if p.IsNamedPersona {
				kind = "persona"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s as %q\n", okColor.Sprint("registered"), kind, p.AgentID, p.DisplayName)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "display name (derived from the id if empty)")
	cmd.Flags().BoolVar(&req.IsNamedPersona, "persona", false, "mark as a named persona")
	return cmd
}
