package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/pkg/rotation"
)

// NewPlanCommand creates the plan command
func NewPlanCommand(cfg *config.Config) *cobra.Command {
	var (
		outFile string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "plan [spec]",
		Short: "Show the changes the next rotation would make",
		Long: `Evaluate the clock gate, stage the credential of the current epoch and
diff every declared resource against it.

The staged password is written to the spec's secret store; the plan itself
only refers to it. A plan saved with --out can be applied later with
'credrotate apply', provided no other pass changed the spec in between.`,
		Example: `  # Preview the rotation of the only configured spec
  credrotate plan

  # Save the plan for review
  credrotate plan pgadmin --out pgadmin.plan`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}
			name, err := s.singleSpec(args)
			if err != nil {
				return err
			}
			spec, err := s.spec(cmd.Context(), name)
			if err != nil {
				return err
			}

			p, err := s.orch.Plan(cmd.Context(), spec)
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := rotation.WritePlan(outFile, p); err != nil {
					return err
				}
				cfg.Logger.Info("Saved plan %s to %s", p.ID, outFile)
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, p); done {
				return err
			}
			printPlan(out, p)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the plan to a file for 'credrotate apply'")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}
