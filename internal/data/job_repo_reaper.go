package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/data/pgxutil"
)

// staleSweepLock keeps concurrent sweepers from requeueing the same batch.
var staleSweepLock = pgxutil.LockKey{Major: 2000, Minor: 1}

const defaultSweepBatch = 500

// RequeueStaleProcessing moves processing jobs untouched for params.MaxAge back
// to pendente with params.Message. When another sweeper holds the lock the
// call is a no-op.
func (r *JobRepo) RequeueStaleProcessing(ctx context.Context, params core.RequeueStaleParams) (int64, error) {
	if params.MaxAge <= 0 {
		return 0, fmt.Errorf("max age must be positive, got %s", params.MaxAge)
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-params.MaxAge)

	var requeued int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := pgxutil.TryXactLock(ctx, tx, staleSweepLock)
			if err != nil {
				return err
			}
			if !locked {
				r.logger.DebugContext(ctx, "stale sweep skipped; another sweeper holds the lock")
				return nil
			}
			requeued, err = requeueStale(ctx, tx, requeueArgs{
				provider: string(params.Provider),
				cutoff:   cutoff,
				batch:    batch,
				message:  params.Message,
				now:      now,
			})
			return err
		},
	})
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued stale processing jobs",
			"provider", params.Provider,
			"count", requeued,
			"cutoff", cutoff,
		)
	}
	return requeued, nil
}

type requeueArgs struct {
	provider string
	cutoff   time.Time
	batch    int
	message  string
	now      time.Time
}

func requeueStale(ctx context.Context, tx *sql.Tx, a requeueArgs) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM consult_jobs
			WHERE status = 'processando'
			  AND updated_at < $1
			  AND ($2 = '' OR provider = $2)
			ORDER BY updated_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE consult_jobs j
		SET status = 'pendente',
			message = NULLIF($4, ''),
			account_id = NULL,
			updated_at = $5
		FROM stale
		WHERE j.id = stale.id
	`, a.cutoff, a.provider, a.batch, a.message, a.now)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
