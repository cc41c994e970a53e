package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/pkg/rotation"
)

// NewEvaluateCommand creates the evaluate command
func NewEvaluateCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "evaluate [spec...]",
		Short: "Check which specs are due for rotation",
		Long: `Run the clock gate of each spec against its recorded epoch.

Nothing is generated, provisioned or saved.`,
		Example: `  # Evaluate every spec
  credrotate evaluate

  # Evaluate one spec as JSON
  credrotate evaluate pgadmin --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}
			names, err := s.specNames(args)
			if err != nil {
				return err
			}

			evals := make([]*rotation.Evaluation, 0, len(names))
			for _, name := range names {
				spec, err := s.spec(cmd.Context(), name)
				if err != nil {
					return err
				}
				ev, err := s.orch.Evaluate(spec)
				if err != nil {
					return err
				}
				evals = append(evals, ev)
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, evals); done {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SPEC\tEPOCH\tNEXT DUE\tDUE\tCREDENTIAL")
			for _, ev := range evals {
				due := "no"
				if ev.RotationDue {
					due = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					ev.Spec, ev.Epoch, formatTime(ev.NextDue), due, ev.CredentialID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}
