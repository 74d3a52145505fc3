package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/allocation"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/quota"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	"github.com/consultaflow/dispatcher/internal/observability/metrics"
	"github.com/consultaflow/dispatcher/internal/observability/statsd"
)

// ErrRunInProgress is returned when another process holds the provider's run lock.
var ErrRunInProgress = errors.New("run already in progress")

const authErrorCap = 300

// WorkflowRunner drives one job through the provider. *workflow.Runner satisfies it.
type WorkflowRunner interface {
	Run(ctx context.Context, sess *workflow.Session, job model.Job) workflow.Result
	IsPending(status string) bool
}

// RunProfile is everything about a provider that shapes a run.
type RunProfile struct {
	Provider       model.Provider
	Strategy       allocation.Strategy
	Access         *allocation.AccessPolicy
	Quota          quota.Policy
	Persist        PersistPolicy
	InterJobDelay  time.Duration
	RunLockTTL     time.Duration
	AccountLockTTL time.Duration
	MaxParallel    int
}

// ProfileFromConfig builds the run profile of p from its sanitized configuration.
func ProfileFromConfig(p model.Provider, c *config.ProviderConfig) RunProfile {
	return RunProfile{
		Provider: p,
		Strategy: c.Strategy,
		Access:   c.AccessPolicy(),
		Quota:    c.QuotaPolicy(),
		Persist: PersistPolicy{
			Duplicates:     c.Duplicates,
			SuccessStatus:  c.SuccessStatus,
			RequeuePending: c.ShouldRequeuePending(),
			MessageCap:     workflow.DefaultMessageCap,
		},
		InterJobDelay:  c.InterJobDelay,
		RunLockTTL:     c.RunLockTTL,
		AccountLockTTL: c.AccountLockTTL,
		MaxParallel:    c.MaxParallelAccounts,
	}
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Profile   RunProfile       // Required
	Ledger    *QuotaLedger     // Required
	Claimer   *JobClaimer      // Required
	Persister *ResultPersister // Required
	Locker    core.Locker      // Required
	Runner    WorkflowRunner   // Required
	Sleeper   workflow.Sleeper // Optional: defaults to workflow.RealSleeper
	Clock     core.Clock       // Optional
	Metrics   statsd.Sink      // Optional
	Logger    *slog.Logger     // Optional
}

// Orchestrator performs consult runs for one provider.
type Orchestrator struct {
	profile   RunProfile
	ledger    *QuotaLedger
	claimer   *JobClaimer
	persister *ResultPersister
	locker    core.Locker
	runner    WorkflowRunner
	sleeper   workflow.Sleeper
	clock     core.Clock
	metrics   statsd.Sink
	logger    *slog.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case !opts.Profile.Provider.Valid():
		return nil, fmt.Errorf("invalid provider %q", opts.Profile.Provider)
	case opts.Ledger == nil:
		return nil, errors.New("QuotaLedger is required")
	case opts.Claimer == nil:
		return nil, errors.New("JobClaimer is required")
	case opts.Persister == nil:
		return nil, errors.New("ResultPersister is required")
	case opts.Locker == nil:
		return nil, errors.New("Locker is required")
	case opts.Runner == nil:
		return nil, errors.New("WorkflowRunner is required")
	}

	profile := opts.Profile
	if profile.Persist.IsPending == nil {
		profile.Persist.IsPending = opts.Runner.IsPending
	}
	if profile.RunLockTTL <= 0 {
		profile.RunLockTTL = time.Hour
	}
	if profile.AccountLockTTL <= 0 {
		profile.AccountLockTTL = time.Hour
	}
	if profile.MaxParallel <= 0 {
		profile.MaxParallel = 1
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = workflow.RealSleeper{}
	}

	return &Orchestrator{
		profile:   profile,
		ledger:    opts.Ledger,
		claimer:   opts.Claimer,
		persister: opts.Persister,
		locker:    opts.Locker,
		runner:    opts.Runner,
		sleeper:   sleeper,
		clock:     clockOrDefault(opts.Clock),
		metrics:   opts.Metrics,
		logger:    loggerOrDefault(opts.Logger).With("component", "orchestrator", "provider", profile.Provider),
	}, nil
}

// Provider returns the provider this orchestrator runs.
func (o *Orchestrator) Provider() model.Provider { return o.profile.Provider }

// Run performs one consult run. The summary is always returned; the error is
// ErrRunInProgress when another run holds the lock, or the failure that
// stopped the run.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	runID := uuid.NewString()
	summary := model.NewRunSummary(o.profile.Provider, runID, o.clock.Now())
	logger := o.logger.With("run_id", runID)

	key := o.profile.Provider.RunLockKey()
	token, ok, err := o.locker.TryAcquire(ctx, key, o.profile.RunLockTTL)
	if err != nil {
		err = fmt.Errorf("acquire run lock: %w", err)
		return o.finish(summary, logger, err), err
	}
	if !ok {
		logger.InfoContext(ctx, "run lock held elsewhere, skipping")
		return o.finish(summary, logger, ErrRunInProgress), ErrRunInProgress
	}
	defer o.release(ctx, logger, key, token)

	logger.InfoContext(ctx, "run started", "strategy", o.profile.Strategy)
	err = o.execute(ctx, summary, logger)
	return o.finish(summary, logger, err), err
}

func (o *Orchestrator) release(ctx context.Context, logger *slog.Logger, key, token string) {
	err := o.locker.Release(context.WithoutCancel(ctx), key, token)
	switch {
	case errors.Is(err, core.ErrLockNotHeld):
		logger.WarnContext(ctx, "lock expired before release", "key", key)
	case err != nil:
		logger.ErrorContext(ctx, "failed to release lock", "key", key, "error", err)
	}
}

func (o *Orchestrator) finish(summary *model.RunSummary, logger *slog.Logger, err error) *model.RunSummary {
	if err != nil {
		summary.Fail(err.Error())
	}
	summary.Finish(o.clock.Now())

	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, ErrRunInProgress):
		result = metrics.ResultBusy
	case err != nil:
		result = metrics.ResultError
	case summary.Allocated == 0:
		result = metrics.ResultNoop
	}
	metrics.EmitRunLifecycle(o.metrics, metrics.RunMetric{
		Provider:  string(o.profile.Provider),
		Result:    result,
		Duration:  time.Duration(summary.DurationMS) * time.Millisecond,
		Allocated: summary.Allocated,
		Processed: summary.Processed,
		Errored:   summary.Errored,
		Err:       err,
	})

	if err != nil && result == metrics.ResultError {
		logger.Error("run failed", "error", err, "processed", summary.Processed, "errored", summary.Errored)
	} else if result != metrics.ResultBusy {
		logger.Info("run finished",
			"accounts", summary.TotalAccounts,
			"eligible", summary.AccountsWithQuota,
			"pending", summary.PendingFound,
			"allocated", summary.Allocated,
			"processed", summary.Processed,
			"errored", summary.Errored,
			"duplicates", summary.DuplicatesCreated,
			"duration_ms", summary.DurationMS,
		)
	}
	return summary
}

func (o *Orchestrator) execute(ctx context.Context, summary *model.RunSummary, logger *slog.Logger) error {
	snap, err := o.ledger.LoadAccounts(ctx, o.profile.Provider, o.profile.Quota)
	if err != nil {
		return err
	}
	summary.Update(func(rs *model.RunSummary) {
		rs.TotalAccounts = len(snap.All)
		rs.AccountsWithQuota = len(snap.Eligible)
	})
	if len(snap.Eligible) == 0 {
		logger.InfoContext(ctx, "no account with remaining quota")
		return nil
	}

	if o.profile.Strategy.Preallocates() {
		return o.runAllocated(ctx, summary, snap, logger)
	}
	return o.runClaimed(ctx, summary, snap, logger)
}

// runAllocated lists pending jobs up to the pool's capacity, assigns them
// up front and claims each job right before it runs.
func (o *Orchestrator) runAllocated(ctx context.Context, summary *model.RunSummary, snap LedgerSnapshot, logger *slog.Logger) error {
	jobs, err := o.claimer.ListPending(ctx, o.profile.Provider, snap.Capacity())
	if err != nil {
		return err
	}
	alloc := allocation.Selector{Access: o.profile.Access}.Allocate(snap.Eligible, jobs)
	summary.Update(func(rs *model.RunSummary) {
		rs.PendingFound = len(jobs)
		rs.Allocated = alloc.JobCount()
	})
	for _, a := range alloc {
		as := summary.Account(a.Account)
		summary.Update(func(*model.RunSummary) { as.Allocated = len(a.Jobs) })
	}
	logger.InfoContext(ctx, "jobs allocated", "pending", len(jobs), "allocated", alloc.JobCount())

	return o.forEachAccount(ctx, alloc, func(actx context.Context, a model.AccountAllocation) error {
		if len(a.Jobs) == 0 {
			return nil
		}
		return o.processAccount(ctx, actx, summary, a.Account, a.Jobs, true, logger)
	})
}

// runClaimed has every account lock itself and claim its own batch.
func (o *Orchestrator) runClaimed(ctx context.Context, summary *model.RunSummary, snap LedgerSnapshot, logger *slog.Logger) error {
	alloc := make(model.Allocation, len(snap.Eligible))
	for i, acc := range snap.Eligible {
		alloc[i] = model.AccountAllocation{Account: acc}
		summary.Account(acc)
	}

	return o.forEachAccount(ctx, alloc, func(actx context.Context, a model.AccountAllocation) error {
		acc := a.Account
		as := summary.Account(acc)
		key := o.profile.Provider.AccountLockKey(acc.ID)
		token, ok, err := o.locker.TryAcquire(actx, key, o.profile.AccountLockTTL)
		if err != nil {
			return fmt.Errorf("acquire account %d lock: %w", acc.ID, err)
		}
		if !ok {
			logger.InfoContext(actx, "account busy, skipping", "account_id", acc.ID)
			summary.Update(func(rs *model.RunSummary) {
				rs.AccountsBusy++
				as.LockBusy = true
			})
			return nil
		}
		defer o.release(actx, logger, key, token)

		jobs, err := o.claimer.ClaimForAccount(actx, model.ClaimRequest{
			Provider:   o.profile.Provider,
			AccountID:  acc.ID,
			Limit:      acc.Remaining(),
			PinnedOnly: o.profile.Strategy == allocation.StrategyPinnedClaim,
		})
		if err != nil {
			return err
		}
		summary.Update(func(rs *model.RunSummary) {
			rs.PendingFound += len(jobs)
			rs.Allocated += len(jobs)
			as.Allocated = len(jobs)
		})
		return o.processAccount(ctx, actx, summary, acc, jobs, false, logger)
	})
}

// forEachAccount runs fn for every allocation entry, at most MaxParallel at a
// time. The first error cancels the others; context.Cause of their context is
// that error.
func (o *Orchestrator) forEachAccount(
	ctx context.Context,
	alloc model.Allocation,
	fn func(context.Context, model.AccountAllocation) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.profile.MaxParallel)
	for _, a := range alloc {
		g.Go(func() error { return fn(gctx, a) })
	}
	return g.Wait()
}

// errJobInterrupted marks a workflow cut short by cancellation.
var errJobInterrupted = errors.New("job interrupted")

// processAccount runs an account's jobs in order on one session. runCtx is the
// run's context and ctx the account's, which a failing sibling account cancels.
func (o *Orchestrator) processAccount(
	runCtx, ctx context.Context,
	summary *model.RunSummary,
	acc model.Account,
	jobs []model.Job,
	claimEach bool,
	logger *slog.Logger,
) error {
	as := summary.Account(acc)
	sess := workflow.NewSession(acc)
	ran := false

	for i, job := range jobs {
		// Jobs this account holds in processando: everything left when the
		// batch was claimed up front, otherwise only the current one once claimed.
		var held []model.Job
		if !claimEach {
			held = jobs[i:]
		}
		if ctx.Err() != nil {
			return o.interrupted(runCtx, ctx, summary, as, held, logger)
		}
		if claimEach {
			ok, err := o.claimer.ClaimOne(ctx, job.ID, acc.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			held = jobs[i : i+1]
		}
		if ran && sess.AccountFailure() == nil {
			if err := o.sleeper.Sleep(ctx, o.profile.InterJobDelay); err != nil {
				if ctx.Err() != nil {
					return o.interrupted(runCtx, ctx, summary, as, held, logger)
				}
				return err
			}
		}
		ran = true

		if err := o.processJob(ctx, summary, as, sess, job, logger); err != nil {
			if errors.Is(err, errJobInterrupted) {
				return o.interrupted(runCtx, ctx, summary, as, held, logger)
			}
			return err
		}
	}
	return nil
}

// interrupted settles held jobs after the account context was cancelled. When
// the run itself was cancelled they stay in processando for the stale sweep.
// When a sibling account's failure cancelled it, each held job is marked as
// error with that failure as its message.
func (o *Orchestrator) interrupted(
	runCtx, ctx context.Context,
	summary *model.RunSummary,
	as *model.AccountSummary,
	held []model.Job,
	logger *slog.Logger,
) error {
	err := ctx.Err()
	if runCtx.Err() != nil || len(held) == 0 {
		return err
	}

	msg := "run interrupted: " + context.Cause(ctx).Error()
	errs := []error{err}
	marked := 0
	for _, job := range held {
		if merr := o.persister.MarkError(ctx, job.ID, msg, o.profile.Persist.MessageCap); merr != nil {
			errs = append(errs, merr)
			continue
		}
		marked++
	}
	summary.Update(func(rs *model.RunSummary) {
		rs.Errored += marked
		as.Errored += marked
	})
	logger.WarnContext(runCtx, "account interrupted by a failing sibling",
		"account_id", as.ID, "jobs_marked", marked, "cause", context.Cause(ctx))
	return errors.Join(errs...)
}

func (o *Orchestrator) processJob(
	ctx context.Context,
	summary *model.RunSummary,
	as *model.AccountSummary,
	sess *workflow.Session,
	job model.Job,
	logger *slog.Logger,
) error {
	start := o.clock.Now()
	acc := sess.Account
	res := o.runner.Run(ctx, sess, job)
	if !res.Succeeded() && ctx.Err() != nil {
		return fmt.Errorf("%w: job %d: %w", errJobInterrupted, job.ID, ctx.Err())
	}

	out, err := o.persister.Persist(ctx, job, acc.ID, res, o.profile.Persist)
	if err != nil {
		return err
	}

	outcome := quota.Outcome{Accepted: res.Accepted, Succeeded: res.Succeeded()}
	if _, err = o.ledger.Record(context.WithoutCancel(ctx), acc.ID, o.profile.Quota, outcome); err != nil {
		return err
	}

	authErr := ""
	if f := sess.AccountFailure(); f != nil {
		authErr = workflow.Truncate(f.Message, authErrorCap)
	}
	summary.Update(func(rs *model.RunSummary) {
		if out.Errored {
			rs.Errored++
			as.Errored++
		} else {
			rs.Processed++
			as.Processed++
		}
		rs.DuplicatesCreated += out.Duplicates
		as.Duplicates += out.Duplicates
		if authErr != "" {
			as.AuthError = authErr
		}
	})

	outcomeTag := string(workflow.StateDone)
	var jobErr error
	if res.Failure != nil {
		outcomeTag = string(res.Failure.Kind)
		jobErr = res.Failure
	}
	metrics.EmitJobOutcome(o.metrics, metrics.JobOutcome{
		Provider: string(o.profile.Provider),
		Outcome:  outcomeTag,
		Entries:  len(res.Entries),
		Duration: o.clock.Now().Sub(start),
		Err:      jobErr,
	})
	logger.DebugContext(ctx, "job finished",
		"job_id", job.ID,
		"account_id", acc.ID,
		"status", out.Status,
		"attempts", res.Attempts,
		"entries", len(res.Entries),
	)
	return nil
}
