package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/pkg/rotation"
)

// NewStatusCommand creates the status command
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var (
		verbose bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "status [spec...]",
		Short: "Show the recorded state of each spec",
		Long: `Display the recorded state of one or all specs:

- Binding state (absent, provisioned, stale, destroying)
- Current epoch and when the next rotation is due
- Current and pending credential
- The process holding the spec's lock, if any
- The last failed step, with --verbose`,
		Example: `  # Show status for all specs
  credrotate status

  # Show one spec as YAML
  credrotate status pgadmin --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}
			names, err := s.specNames(args)
			if err != nil {
				return err
			}

			statuses := make(map[string]*rotation.SpecStatus, len(names))
			for _, name := range names {
				sc, err := cfg.Spec(name)
				if err != nil {
					return err
				}
				st, err := s.orch.Status(name, sc.Interval.Std())
				if err != nil {
					return err
				}
				statuses[name] = st
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, statuses); done {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SPEC\tBINDING\tEPOCH\tNEXT DUE\tCURRENT\tPENDING\tLOCKED BY")
			for _, name := range names {
				st := statuses[name]
				rec := st.Record
				current, pending, holder := "-", "-", "-"
				if rec.Current != nil {
					current = rec.Current.ID
				}
				if rec.Pending != nil {
					pending = rec.Pending.ID
				}
				if st.LockHolder != nil {
					holder = fmt.Sprintf("pid %d on %s", st.LockHolder.PID, st.LockHolder.Host)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					name, rec.Binding, rec.LastEpoch, formatTime(st.NextDue), current, pending, holder)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if verbose {
				for _, name := range names {
					rec := statuses[name].Record
					fmt.Fprintf(out, "\n%s\n", name)
					fmt.Fprintf(out, "  Last action: %s\n", orDash(rec.LastAction))
					fmt.Fprintf(out, "  Last error:  %s\n", orDash(rec.LastError))
					fmt.Fprintf(out, "  Updated:     %s (serial %d)\n", formatTime(rec.UpdatedAt), rec.Serial)
					resources := make([]string, 0, len(rec.Resources))
					for res := range rec.Resources {
						resources = append(resources, res)
					}
					sort.Strings(resources)
					for _, res := range resources {
						fmt.Fprintf(out, "  Resource %s: %s\n", res, rec.Resources[res])
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show last action, error and bound resources")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}
