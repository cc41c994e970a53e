package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/state"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		limit   int
		status  string
		format  string
		cleanup bool
	)

	cmd := &cobra.Command{
		Use:   "history [spec]",
		Short: "Show past rotation passes",
		Long: `Display the recorded passes of one or all specs, newest first.

With --cleanup, entries older than history_retention (default 90d) are
removed before listing.`,
		Example: `  # Show the last 20 passes of every spec
  credrotate history --limit 20

  # Show only failures of one spec
  credrotate history pgadmin --status failed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}

			if cleanup {
				retention := cfg.Definition.Retention()
				removed, err := s.store.CleanupHistory(retention)
				if err != nil {
					return err
				}
				cfg.Logger.Info("Removed %d history entries older than %s", removed, retention)
			}

			var entries []state.HistoryEntry
			if len(args) > 0 {
				if _, err := cfg.Spec(args[0]); err != nil {
					return err
				}
				entries, err = s.store.History(args[0], limit)
			} else {
				entries, err = s.store.AllHistory(limit)
			}
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			entries = filterByStatus(entries, status)

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, entries); done {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history recorded")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSPEC\tACTION\tSTATUS\tEPOCH\tCREDENTIAL\tDURATION\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					formatTime(e.Timestamp), e.Spec, e.Action, e.Status, e.EpochID,
					orDash(e.NewVersion), e.Duration.Round(time.Millisecond), orDash(e.Error))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries to show")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: success, noop, failed")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove entries older than the configured retention first")

	return cmd
}

func filterByStatus(entries []state.HistoryEntry, status string) []state.HistoryEntry {
	if status == "" {
		return entries
	}
	var filtered []state.HistoryEntry
	for _, e := range entries {
		if e.Status == status {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
