package main

import (
	"fmt"
	"strings"
	"time"

	"bdagent/internal/journal"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List recorded chat sessions, or print one session's turns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				sessions, err := store.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions recorded.")
					return nil
				}
				for _, s := range sessions {
					fmt.Fprintf(out, "%s  %s  %-10s %-24s %d turns\n",
						shortID(s.ID), s.StartedAt.Local().Format(time.DateTime), s.Provider, s.Model, s.Turns)
				}
				return nil
			}

			id, err := store.ResolveID(ctx, args[0])
			if err != nil {
				return err
			}
			turns, err := store.Turns(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s\n", id)
			for _, t := range turns {
				label := string(t.Role)
				if t.ToolName != "" {
					label += " (" + t.ToolName + ")"
				}
				fmt.Fprintf(out, "\n[%s] %s:\n%s\n", t.CreatedAt.Local().Format(time.TimeOnly), label, strings.TrimSpace(t.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list (0 = all)")
	return cmd
}

// shortID is the display prefix of a session id.
func shortID(id string) string {
	return id[:min(len(id), 8)]
}
