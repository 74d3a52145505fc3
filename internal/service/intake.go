package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	apperrors "github.com/consultaflow/dispatcher/internal/errors"
)

// MaxBatchSize is the largest batch accepted by EnqueueBatch.
const MaxBatchSize = 5000

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d jobs", MaxBatchSize)

// ErrEmptyBatch is returned when a batch has no jobs.
var ErrEmptyBatch = errors.New("batch is empty")

// IntakeServiceOptions groups dependencies for IntakeService.
type IntakeServiceOptions struct {
	Jobs     core.JobStore        // Required
	Accounts core.AccountRegistry // Optional: account management is disabled when nil
	Logger   *slog.Logger
}

// IntakeService manages the job queue from the outside: enqueueing, listing,
// releasing held batches and deleting them.
type IntakeService struct {
	jobs     core.JobStore
	accounts core.AccountRegistry
	claimer  *JobClaimer
	logger   *slog.Logger
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(opts IntakeServiceOptions) (*IntakeService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	logger := loggerOrDefault(opts.Logger)
	claimer, err := NewJobClaimer(opts.Jobs, logger)
	if err != nil {
		return nil, err
	}
	return &IntakeService{
		jobs:     opts.Jobs,
		accounts: opts.Accounts,
		claimer:  claimer,
		logger:   logger.With("component", "intake_service"),
	}, nil
}

// prepare normalizes the subject with no provider rules; those apply when the
// job runs.
func (s *IntakeService) prepare(req *model.CreateJobRequest) error {
	subject, err := workflow.PrepareSubject(req.Subject, workflow.SubjectRules{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid subject")
	}
	req.Subject = subject
	if err := req.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}
	return nil
}

// Enqueue stores one job.
func (s *IntakeService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := s.prepare(req); err != nil {
		return nil, err
	}
	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.DebugContext(ctx, "job enqueued", "id", job.ID, "provider", job.Provider, "status", job.Status)
	return job, nil
}

// EnqueueBatch stores every request or none.
func (s *IntakeService) EnqueueBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]int64, error) {
	switch {
	case len(reqs) == 0:
		return nil, ErrEmptyBatch
	case len(reqs) > MaxBatchSize:
		return nil, ErrBatchTooLarge
	}
	for i := range reqs {
		if err := s.prepare(&reqs[i]); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	ids, err := s.jobs.CreateBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("create job batch: %w", err)
	}
	s.logger.InfoContext(ctx, "job batch enqueued", "count", len(ids), "provider", reqs[0].Provider)
	return ids, nil
}

// Get returns one job.
func (s *IntakeService) Get(ctx context.Context, id int64) (*model.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// List returns jobs matching params, newest first.
func (s *IntakeService) List(ctx context.Context, params core.ListJobsParams) ([]model.Job, error) {
	return s.jobs.List(ctx, params)
}

// Counts returns job counts per status.
func (s *IntakeService) Counts(ctx context.Context, provider model.Provider) (map[model.JobStatus]int64, error) {
	return s.jobs.CountByStatus(ctx, provider)
}

// Release moves a scope's held jobs into the pending queue.
func (s *IntakeService) Release(ctx context.Context, scope model.ReleaseScope) (int64, error) {
	return s.claimer.ReleaseHeld(ctx, scope)
}

// DeleteBatch removes a batch of jobs by kind.
func (s *IntakeService) DeleteBatch(ctx context.Context, params core.DeleteBatchParams) (int64, error) {
	return s.jobs.DeleteBatch(ctx, params)
}

// ErrAccountsDisabled is returned when no account store was configured.
var ErrAccountsDisabled = errors.New("account management not configured")

// CreateAccount registers a provider account.
func (s *IntakeService) CreateAccount(ctx context.Context, req *model.CreateAccountRequest) (*model.Account, error) {
	if s.accounts == nil {
		return nil, ErrAccountsDisabled
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid account")
	}
	acc, err := s.accounts.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account created", "id", acc.ID, "provider", acc.Provider, "label", acc.Label)
	return acc, nil
}

// ListAccounts returns a provider's accounts.
func (s *IntakeService) ListAccounts(ctx context.Context, provider model.Provider) ([]model.Account, error) {
	if s.accounts == nil {
		return nil, ErrAccountsDisabled
	}
	return s.accounts.ListByProvider(ctx, provider)
}
