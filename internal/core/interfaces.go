package core

import (
	"context"
	"errors"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the data package.

// ErrLockNotHeld is returned by Locker.Release when the token no longer owns the key.
var ErrLockNotHeld = errors.New("lock not held")

// AccountStore defines persistence for provider accounts and their quota counters.
type AccountStore interface {
	// ListByProvider returns every account of provider ordered by id ascending.
	ListByProvider(ctx context.Context, provider model.Provider) ([]model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	// ResetCounter sets consumed=0 and last_reset_at=at. Calling it twice is harmless.
	ResetCounter(ctx context.Context, id int64, at time.Time) error
	// Increment adds one to consumed in a single statement.
	Increment(ctx context.Context, params IncrementParams) error
}

// AccountRegistry creates and lists accounts for administration.
type AccountRegistry interface {
	Create(ctx context.Context, req *model.CreateAccountRequest) (*model.Account, error)
	ListByProvider(ctx context.Context, provider model.Provider) ([]model.Account, error)
}

// IncrementParams groups parameters for AccountStore.Increment.
type IncrementParams struct {
	AccountID int64
	// Clamp keeps consumed at or below daily_limit.
	Clamp bool
	At    time.Time
}

// ListPendingParams groups parameters for JobStore.ListPending.
type ListPendingParams struct {
	Provider model.Provider
	Limit    int
}

// FindSimilarParams identifies a near-duplicate result row.
type FindSimilarParams struct {
	Provider        model.Provider
	NationalID      string
	Tags            model.Tags
	ForcedAccountID *int64
	ResultKey       string
	ExcludeID       int64
}

// RequeueStaleParams groups parameters for JobStore.RequeueStaleProcessing.
type RequeueStaleParams struct {
	Provider  model.Provider // empty means every provider
	MaxAge    time.Duration
	BatchSize int
	Message   string
}

// ListJobsParams filters JobStore.List. Zero values do not filter.
type ListJobsParams struct {
	Provider   model.Provider
	UserID     int64
	NationalID string
	Name       string
	Status     model.JobStatus
	Limit      int
}

// DeleteBatchParams selects a batch of jobs by kind within an owner scope.
type DeleteBatchParams struct {
	Provider model.Provider
	Kind     string
	// UserID and TeamID narrow the delete; zero means any.
	UserID int64
	TeamID int64
}

// JobStore defines persistence for consult jobs.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// CreateBatch inserts every request in one transaction and returns the new ids in order.
	CreateBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	// ListPending returns pending jobs of provider, oldest first.
	ListPending(ctx context.Context, params ListPendingParams) ([]model.Job, error)
	// MarkProcessing moves a pending job to processing. False means someone else took it.
	MarkProcessing(ctx context.Context, id int64, accountID int64) (bool, error)
	// ClaimPending atomically moves up to req.Limit pending jobs to processing
	// for req.AccountID. An empty result is not an error.
	ClaimPending(ctx context.Context, req model.ClaimRequest) ([]model.Job, error)
	// UpdateResult writes a workflow entry onto an existing row.
	UpdateResult(ctx context.Context, id int64, upd model.ResultUpdate) error
	// InsertResult inserts a fresh row copying src's ownership and pin, with upd applied.
	InsertResult(ctx context.Context, src model.Job, upd model.ResultUpdate) (int64, error)
	// FindSimilar returns the newest row matching params, or nil.
	FindSimilar(ctx context.Context, params FindSimilarParams) (*model.Job, error)
	// MarkError sets status erro with message and clears the result value.
	MarkError(ctx context.Context, id int64, message string) error
	// ReleaseHeld moves held jobs of a scope into the pending queue.
	ReleaseHeld(ctx context.Context, scope model.ReleaseScope) (int64, error)
	// RequeueStaleProcessing moves processing jobs untouched for MaxAge back to pending.
	RequeueStaleProcessing(ctx context.Context, params RequeueStaleParams) (int64, error)
	// List returns jobs newest first.
	List(ctx context.Context, params ListJobsParams) ([]model.Job, error)
	// DeleteBatch removes every job matching params and returns how many went.
	DeleteBatch(ctx context.Context, params DeleteBatchParams) (int64, error)
	// CountByStatus returns job counts per status for provider.
	CountByStatus(ctx context.Context, provider model.Provider) (map[model.JobStatus]int64, error)
}

// Locker provides short-lived exclusive locks shared across processes.
type Locker interface {
	// TryAcquire takes key for ttl without waiting. ok=false means another holder has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees key if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// Clock returns the current time. data.RealTimeProvider satisfies it.
type Clock interface {
	Now() time.Time
}
