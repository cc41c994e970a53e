package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/rotation"
)

// NewApplyCommand creates the apply command
func NewApplyCommand(cfg *config.Config) *cobra.Command {
	var planFile string

	cmd := &cobra.Command{
		Use:   "apply [spec]",
		Short: "Apply a saved plan",
		Long: `Execute the actions of a plan written by 'credrotate plan --out'.

The plan is rejected when the spec's state changed after it was written. Without
--plan, a fresh plan is computed and applied in the same pass.`,
		Example: `  # Apply a reviewed plan
  credrotate apply --plan pgadmin.plan

  # Plan and apply in one pass
  credrotate apply pgadmin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}

			var p *binder.Plan
			if planFile != "" {
				if p, err = rotation.ReadPlan(planFile); err != nil {
					return err
				}
				if len(args) > 0 && args[0] != p.Spec {
					return fmt.Errorf("plan %s is for spec %s, not %s", planFile, p.Spec, args[0])
				}
				args = []string{p.Spec}
			}

			name, err := s.singleSpec(args)
			if err != nil {
				return err
			}
			spec, err := s.spec(cmd.Context(), name)
			if err != nil {
				return err
			}

			var res *rotation.Result
			if p != nil {
				res, err = s.orch.Apply(cmd.Context(), spec, p)
			} else {
				res, err = s.orch.Rotate(cmd.Context(), spec)
			}
			s.report(cmd.Context(), name, res, err)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "Plan file written by 'credrotate plan --out'")

	return cmd
}
