package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	dserrors "github.com/systmms/credrotate/internal/errors"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate [spec...]",
		Short: "Evaluate, plan and apply in one pass",
		Long: `Run a full rotation pass for each spec: evaluate the clock gate, plan,
and apply. A spec whose credential is still current and whose resources
match their declaration is left untouched.`,
		Example: `  # Rotate every spec that is due
  credrotate rotate

  # Rotate one spec
  credrotate rotate pgadmin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg, nil)
			if err != nil {
				return err
			}
			names, err := s.specNames(args)
			if err != nil {
				return err
			}
			return s.rotateAll(cmd.Context(), cmd.OutOrStdout(), names)
		},
	}

	return cmd
}

// rotateAll runs one pass per spec. A failing spec does not stop the others.
func (s *session) rotateAll(ctx context.Context, out io.Writer, names []string) error {
	var (
		failed  int
		lastErr error
	)
	for _, name := range names {
		if err := s.rotate(ctx, out, name); err != nil {
			s.cfg.Logger.Error("%s: %v", name, dserrors.Present(err))
			failed++
			lastErr = err
		}
	}
	switch {
	case failed == 0:
		return nil
	case len(names) == 1:
		return lastErr
	default:
		return fmt.Errorf("%d of %d specs failed", failed, len(names))
	}
}

func (s *session) rotate(ctx context.Context, out io.Writer, name string) error {
	spec, err := s.spec(ctx, name)
	if err != nil {
		return err
	}
	res, err := s.orch.Rotate(ctx, spec)
	s.report(ctx, name, res, err)
	if err != nil {
		return err
	}
	printResult(out, res)
	return nil
}
