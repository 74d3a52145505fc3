package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

// ErrResultNotPersisted means a job could be neither stored nor marked as
// error. The run stops when it sees it.
var ErrResultNotPersisted = errors.New("result not persisted")

// PersistPolicy is the provider-specific part of persistence.
type PersistPolicy struct {
	Duplicates     model.DuplicateStrategy
	SuccessStatus  model.JobStatus
	RequeuePending bool
	MessageCap     int
	// IsPending reports whether an entry status means "ask again later".
	IsPending func(status string) bool
}

func (p PersistPolicy) statusFor(entry model.ResultEntry) model.JobStatus {
	if p.RequeuePending && p.IsPending != nil && p.IsPending(entry.Status) {
		return model.JobStatusPending
	}
	if p.SuccessStatus != "" {
		return p.SuccessStatus
	}
	return model.JobStatusConsulted
}

// PersistOutcome reports what happened to a job's rows.
type PersistOutcome struct {
	// Status is the primary row's final status.
	Status model.JobStatus
	// Duplicates counts rows inserted for entries after the first.
	Duplicates int
	// Merged counts existing rows overwritten by the merge strategy.
	Merged int
	// Errored is set when the primary row ended in erro.
	Errored bool
}

// ResultPersister writes workflow results onto job rows.
type ResultPersister struct {
	jobs   core.JobStore
	logger *slog.Logger
}

// NewResultPersister constructs a ResultPersister.
func NewResultPersister(jobs core.JobStore, logger *slog.Logger) (*ResultPersister, error) {
	if jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	return &ResultPersister{jobs: jobs, logger: loggerOrDefault(logger).With("component", "result_persister")}, nil
}

// Persist stores res for job, processed by accountID.
//
// The primary row never stays in processando: when its write fails the job is
// marked as error, and when that fails too the returned error wraps
// ErrResultNotPersisted. Writes are detached from ctx cancellation so a
// shutdown mid-run still records what the provider already answered.
func (p *ResultPersister) Persist(
	ctx context.Context,
	job model.Job,
	accountID int64,
	res workflow.Result,
	pol PersistPolicy,
) (PersistOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	if !res.Succeeded() || len(res.Entries) == 0 {
		msg := "workflow failed"
		if res.Failure != nil {
			msg = res.Failure.Error()
		}
		return p.markError(ctx, job.ID, msg, pol.MessageCap, nil)
	}

	subject := res.Subject
	if subject.NationalID == "" {
		subject = job.Subject
	}
	acct := accountID

	primary := res.Entries[0]
	status := pol.statusFor(primary)
	upd := model.ResultUpdate{Subject: subject, Status: status, Entry: primary, AccountID: &acct}
	if err := p.jobs.UpdateResult(ctx, job.ID, upd); err != nil {
		p.logger.ErrorContext(ctx, "failed to store primary result", "job_id", job.ID, "error", err)
		return p.markError(ctx, job.ID, "persist result: "+err.Error(), pol.MessageCap, err)
	}

	out := PersistOutcome{Status: status}
	src := job
	src.Subject = subject
	for _, entry := range res.Entries[1:] {
		extra := model.ResultUpdate{Subject: subject, Status: pol.statusFor(entry), Entry: entry, AccountID: &acct}
		inserted, err := p.storeExtra(ctx, src, extra, pol.Duplicates)
		if err != nil {
			return out, fmt.Errorf("%w: job %d extra entry: %w", ErrResultNotPersisted, job.ID, err)
		}
		if inserted {
			out.Duplicates++
		} else {
			out.Merged++
		}
	}

	if out.Duplicates > 0 || out.Merged > 0 {
		p.logger.DebugContext(ctx, "stored extra entries",
			"job_id", job.ID,
			"strategy", pol.Duplicates,
			"inserted", out.Duplicates,
			"merged", out.Merged,
		)
	}
	return out, nil
}

// storeExtra writes one entry after the first. It reports whether a new row was inserted.
func (p *ResultPersister) storeExtra(
	ctx context.Context,
	src model.Job,
	upd model.ResultUpdate,
	strategy model.DuplicateStrategy,
) (bool, error) {
	if strategy == model.DuplicateMerge {
		match, err := p.jobs.FindSimilar(ctx, core.FindSimilarParams{
			Provider:        src.Provider,
			NationalID:      src.Subject.NationalID,
			Tags:            src.Tags,
			ForcedAccountID: src.ForcedAccountID,
			ResultKey:       upd.Entry.MatchKey,
			ExcludeID:       src.ID,
		})
		if err != nil {
			return false, err
		}
		if match != nil {
			return false, p.jobs.UpdateResult(ctx, match.ID, upd)
		}
	}
	if _, err := p.jobs.InsertResult(ctx, src, upd); err != nil {
		return false, err
	}
	return true, nil
}

// MarkError records a failure message on a job.
func (p *ResultPersister) MarkError(ctx context.Context, jobID int64, msg string, limit int) error {
	_, err := p.markError(context.WithoutCancel(ctx), jobID, msg, limit, nil)
	return err
}

func (p *ResultPersister) markError(
	ctx context.Context,
	jobID int64,
	msg string,
	limit int,
	cause error,
) (PersistOutcome, error) {
	out := PersistOutcome{Status: model.JobStatusError, Errored: true}
	if err := p.jobs.MarkError(ctx, jobID, workflow.Truncate(msg, limit)); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark job as error", "job_id", jobID, "error", err)
		return out, fmt.Errorf("%w: job %d: %w", ErrResultNotPersisted, jobID, errors.Join(cause, err))
	}
	return out, nil
}
