package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run <provider>",
	Short: "Perform one consult run for a provider and print its summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Hour, "Upper bound for the whole run")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	provider, err := model.ParseProvider(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	return withInfra(ctx, true, func(ctx context.Context, in *infra) error {
		if in.Services.Dispatcher == nil {
			return errors.New("no dispatcher: enable the provider and configure redis")
		}
		summary, runErr := in.Services.Dispatcher.Trigger(ctx, provider)
		if summary != nil {
			if printErr := printSummary(cmd.OutOrStdout(), summary); printErr != nil {
				return errors.Join(runErr, printErr)
			}
		}
		return runErr
	})
}

func printSummary(w io.Writer, summary *model.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	return nil
}
