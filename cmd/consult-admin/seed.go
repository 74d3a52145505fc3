package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/internal/bootstrap"
	"github.com/consultaflow/dispatcher/internal/devseed"
)

var seedForce bool

var seedCmd = &cobra.Command{
	Use:   "db-seed",
	Short: "Run migrations and seed demo accounts and held jobs for every enabled provider",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "Seed even when DEV is not set")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	if !cli.cfg.IsDev && !seedForce {
		return errors.New("refusing to seed outside dev mode; pass --force to override")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultMigrationTimeout)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		if err := bootstrap.RunMigrations(ctx, in.DB, cli.logger); err != nil {
			return err
		}
		start := time.Now()
		if err := devseed.Run(ctx, in.Services.Intake, cli.cfg.Providers.Enabled(), cli.logger); err != nil {
			return err
		}
		cli.logger.InfoContext(ctx, "seed complete", "elapsed", time.Since(start))
		return nil
	})
}
