package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
)

func NewInitCommand(cfg *config.Config) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new credrotate configuration",
		Long:  "Create a credrotate.yaml file with a starter spec that rotates a local demo resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfg.Path); err == nil && !force {
				return fmt.Errorf("%s already exists. Remove it first or pass --force", cfg.Path)
			}

			if err := os.WriteFile(cfg.Path, []byte(config.Starter), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cfg.Logger.Info("Created %s with a demo spec", cfg.Path)
			cfg.Logger.Info("Next steps:")
			cfg.Logger.Info("  1. Edit %s to declare your resources and secret store", cfg.Path)
			cfg.Logger.Info("  2. Run 'credrotate plan' to preview the first rotation")
			cfg.Logger.Info("  3. Run 'credrotate rotate' to provision and bind the credential")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}
