package data

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/data/pgxutil"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// ListPending returns pending jobs of provider, oldest first. It does not lock;
// callers claim each job with MarkProcessing before running it.
func (r *JobRepo) ListPending(ctx context.Context, params core.ListPendingParams) ([]model.Job, error) {
	if params.Limit <= 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM consult_jobs
		WHERE provider = $1 AND status = 'pendente'
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, params.Provider, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// MarkProcessing moves one pending job to processing for accountID. It returns
// false when the job is no longer pending.
func (r *JobRepo) MarkProcessing(ctx context.Context, id int64, accountID int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE consult_jobs
		SET status = 'processando',
			message = NULL,
			account_id = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'pendente'
	`, id, accountID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// claimQuery selects and flips up to $4 jobs in one statement. SKIP LOCKED lets
// concurrent claimers pass over rows another transaction is taking, so no job
// is returned twice.
var claimQuery = `
	WITH next AS (
		SELECT id
		FROM consult_jobs
		WHERE provider = $1
		  AND status = 'pendente'
		  AND (NOT $3 OR forced_account_id = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	)
	UPDATE consult_jobs j
	SET status = 'processando',
		message = NULL,
		account_id = $2,
		updated_at = $5
	FROM next
	WHERE j.id = next.id
	RETURNING ` + jobColumnsJ

// ClaimPending atomically moves up to req.Limit pending jobs to processing for
// req.AccountID, oldest first.
func (r *JobRepo) ClaimPending(ctx context.Context, req model.ClaimRequest) ([]model.Job, error) {
	if req.AccountID <= 0 || req.Limit <= 0 {
		return nil, nil
	}
	jobs, err := pgxutil.CollectQuery(ctx, r.DB,
		func(row pgx.CollectableRow) (model.Job, error) { return scanJob(row) },
		claimQuery,
		req.Provider, req.AccountID, req.PinnedOnly, req.Limit, r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending jobs: %w", err)
	}
	sortJobsByAge(jobs)
	return jobs, nil
}

// sortJobsByAge restores claim order; RETURNING does not preserve the CTE's ORDER BY.
func sortJobsByAge(jobs []model.Job) {
	slices.SortFunc(jobs, func(a, b model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// ReleaseHeld moves held jobs of one owner scope into the pending queue,
// optionally narrowed to ids or a kind.
func (r *JobRepo) ReleaseHeld(ctx context.Context, scope model.ReleaseScope) (int64, error) {
	if !scope.Provider.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidProvider, scope.Provider)
	}
	var f jobFilter
	f.add("provider = ?", scope.Provider)
	f.add("status = ?", model.JobStatusHeld)
	f.add("user_id = ?", scope.Tags.UserID)
	f.add("team_id = ?", scope.Tags.TeamID)
	if len(scope.IDs) > 0 {
		f.add("id = ANY(?)", scope.IDs)
	}
	if scope.Kind != "" {
		f.add("kind = ?", scope.Kind)
	}
	f.args = append(f.args, r.timeProvider.Now().UTC())

	res, err := r.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE consult_jobs SET status = 'pendente', updated_at = $%d`, len(f.args))+f.where(),
		f.args...,
	)
	if err != nil {
		return 0, fmt.Errorf("release held jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
