package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/cmd/credrotate/commands"
	"github.com/systmms/credrotate/internal/config"
	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.Present(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "credrotate",
		Short: "Rotate credentials bound to declared cloud resources",
		Long: `credrotate generates a fresh login and password every rotation interval,
binds them to the resources declared in credrotate.yaml and keeps the
password in a secret store.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "credrotate.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewInitCommand(cfg),
		commands.NewEvaluateCommand(cfg),
		commands.NewPlanCommand(cfg),
		commands.NewApplyCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewWatchCommand(cfg),
	)

	return rootCmd.Execute()
}
