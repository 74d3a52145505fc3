package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/internal/bootstrap"
	"github.com/consultaflow/dispatcher/internal/data"
	"github.com/consultaflow/dispatcher/internal/migrate"
)

const defaultMigrationTimeout = 5 * time.Minute

var migrateTimeout time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrations,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and when each was applied",
	RunE:  runMigrationStatus,
}

func init() {
	migrateCmd.PersistentFlags().DurationVar(&migrateTimeout, "timeout", defaultMigrationTimeout, "Migration timeout")
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cli.cfg.Postgres,
		Logger:   cli.logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cli.logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cli.logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cli.logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}
	cli.logger.Info("migrations completed successfully")
	return nil
}

func runMigrationStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cli.cfg.Postgres,
		Logger:   cli.logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cli.logger.Warn("db close failed", "error", closeErr)
		}
	}()

	statuses, err := data.MigrationStatus(ctx, db)
	if err != nil {
		return err
	}
	return printMigrations(cmd.OutOrStdout(), statuses)
}

func printMigrations(w io.Writer, statuses []migrate.Status) error {
	if len(statuses) == 0 {
		return writef(w, "no migrations found\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "VERSION\tAPPLIED AT\n"); err != nil {
		return err
	}
	for _, s := range statuses {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		if err := writef(tw, "%s\t%s\n", s.Version, applied); err != nil {
			return err
		}
	}
	return tw.Flush()
}
