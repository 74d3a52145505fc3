package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// JobClaimer moves jobs from pendente to processando. Either one job at a
// time right before it runs, or a batch per account in one atomic statement.
type JobClaimer struct {
	jobs   core.JobStore
	logger *slog.Logger
}

// NewJobClaimer constructs a JobClaimer.
func NewJobClaimer(jobs core.JobStore, logger *slog.Logger) (*JobClaimer, error) {
	if jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	return &JobClaimer{jobs: jobs, logger: loggerOrDefault(logger).With("component", "job_claimer")}, nil
}

// ListPending returns up to limit pending jobs, oldest first, without claiming them.
func (c *JobClaimer) ListPending(ctx context.Context, provider model.Provider, limit int) ([]model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	jobs, err := c.jobs.ListPending(ctx, core.ListPendingParams{Provider: provider, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return jobs, nil
}

// ClaimOne claims a pre-allocated job for accountID. False means another
// process moved the job first; the caller skips it.
func (c *JobClaimer) ClaimOne(ctx context.Context, jobID, accountID int64) (bool, error) {
	ok, err := c.jobs.MarkProcessing(ctx, jobID, accountID)
	if err != nil {
		return false, fmt.Errorf("claim job %d: %w", jobID, err)
	}
	if !ok {
		c.logger.DebugContext(ctx, "job no longer pending, skipping", "job_id", jobID, "account_id", accountID)
	}
	return ok, nil
}

// ClaimForAccount claims up to req.Limit jobs for one account. Concurrent
// callers never receive the same job. An empty result is not an error.
func (c *JobClaimer) ClaimForAccount(ctx context.Context, req model.ClaimRequest) ([]model.Job, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	jobs, err := c.jobs.ClaimPending(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("claim jobs for account %d: %w", req.AccountID, err)
	}
	if len(jobs) > 0 {
		c.logger.DebugContext(ctx, "claimed jobs",
			"provider", req.Provider,
			"account_id", req.AccountID,
			"count", len(jobs),
			"limit", req.Limit,
		)
	}
	return jobs, nil
}

// ReleaseHeld moves a scope's held jobs into the pending queue.
func (c *JobClaimer) ReleaseHeld(ctx context.Context, scope model.ReleaseScope) (int64, error) {
	n, err := c.jobs.ReleaseHeld(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("release held jobs: %w", err)
	}
	c.logger.InfoContext(ctx, "released held jobs",
		"provider", scope.Provider,
		"user_id", scope.Tags.UserID,
		"team_id", scope.Tags.TeamID,
		"kind", scope.Kind,
		"count", n,
	)
	return n, nil
}
