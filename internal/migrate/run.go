// Package migrate applies the embedded SQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockMigrations serializes concurrent daemons starting against one database.
const advisoryLockMigrations int64 = 0x636f6e73756c74 // "consult"

// Status describes one embedded migration.
type Status struct {
	Version   string
	AppliedAt *time.Time
}

// Run applies all SQL migrations embedded in this package. It is safe to call
// multiple times and from several processes at once.
func Run(ctx context.Context, db *sql.DB) error {
	return RunWithLogger(ctx, db, slog.Default())
}

// RunWithLogger is Run with an explicit logger.
func RunWithLogger(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.WarnContext(ctx, "close migration conn", "error", cerr)
		}
	}()

	// Session-level lock so it spans the per-migration transactions below.
	if _, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockMigrations); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockMigrations); uerr != nil {
			logger.WarnContext(ctx, "release migration lock", "error", uerr)
		}
	}()

	if err = ensureTable(ctx, conn); err != nil {
		return err
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err = applyMigration(ctx, conn, f, logger); err != nil {
			return err
		}
	}
	return nil
}

// List reports every embedded migration and when it was applied.
func List(ctx context.Context, db *sql.DB) ([]Status, error) {
	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}

	applied := map[string]time.Time{}
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil && !isUndefinedTable(err) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var (
				v  string
				at time.Time
			)
			if err = rows.Scan(&v, &at); err != nil {
				return nil, fmt.Errorf("scan migration: %w", err)
			}
			applied[v] = at
		}
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate migrations: %w", err)
		}
	}

	out := make([]Status, 0, len(files))
	for _, f := range files {
		st := Status{Version: version(f)}
		if at, ok := applied[st.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

func ensureTable(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func version(file string) string { return strings.TrimSuffix(file, ".sql") }

func applyMigration(ctx context.Context, conn *sql.Conn, file string, logger *slog.Logger) (err error) {
	v := version(file)

	var exists bool
	if err = conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, v,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check migration %s: %w", file, err)
	}
	if exists {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", v)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback %s: %w", file, rerr))
		}
	}()

	if _, err = tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
