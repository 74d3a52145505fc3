package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/migrate"
)

// RunMigrations applies pending schema migrations, logging each version applied.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return migrate.RunWithLogger(ctx, db, logger)
}

// MigrationStatus lists applied schema versions. A database that was never
// migrated yields an empty list.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]migrate.Status, error) {
	return migrate.List(ctx, db)
}
