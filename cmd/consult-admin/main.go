// Command consult-admin provides operator tools for the consult dispatcher:
// one-off runs, account registration, releasing held batches, sweeping stale
// jobs and schema migrations.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/bootstrap"
)

// cliState is filled by the root command before any subcommand runs.
type cliState struct {
	cfg    config.AppConfig
	logger *slog.Logger
}

var cli cliState

var rootCmd = &cobra.Command{
	Use:           "consult-admin",
	Short:         "Operator tools for the consult dispatcher",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := bootstrap.LoadConfig()
		if err != nil {
			return err
		}
		cli.cfg = cfg
		cli.logger = bootstrap.InitLogger(&cli.cfg)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command failure to callers
	}
}
