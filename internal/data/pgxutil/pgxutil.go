// Package pgxutil bridges database/sql pools to native pgx helpers.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// SQLTxConfig groups parameters for WithSQLTx.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// WithSQLTx runs fn within a database/sql transaction, committing on success.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) (err error) {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LockKey is a two-part advisory lock key: pg_try_advisory_xact_lock(Major, Minor).
type LockKey struct {
	Major int32
	Minor int32
}

// TryXactLock takes a transaction-scoped advisory lock without waiting.
// False means another transaction holds it.
func TryXactLock(ctx context.Context, tx *sql.Tx, key LockKey) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", key.Major, key.Minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

// WithPgxConn acquires a *pgx.Conn via the stdlib bridge and executes fn with it.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = errors.Join(err, fmt.Errorf("release conn: %w", cerr))
		}
	}()

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}

// CollectQuery runs a query on a native pgx connection and maps every row with fn.
func CollectQuery[T any](
	ctx context.Context,
	db *sql.DB,
	fn pgx.RowToFunc[T],
	query string,
	args ...any,
) ([]T, error) {
	var out []T
	err := WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		collected, cerr := pgx.CollectRows(rows, fn)
		if cerr != nil {
			return cerr
		}
		out = collected
		return nil
	})
	return out, err
}
