package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

const (
	defaultMaxAttempts  = 5
	defaultPollInterval = 3 * time.Second
)

var (
	errEmptyPayload     = errors.New("provider returned no data")
	errNoUsableEntries  = errors.New("no usable entry in provider payload")
	errApprovalRejected = errors.New("approval not confirmed")
)

// Config tunes the runner for one provider.
type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
	// StepTimeout bounds each external call. Zero leaves calls bounded only by ctx.
	StepTimeout time.Duration
	// PendingStatuses are entry statuses that mean "ask again later".
	PendingStatuses []string
	Subject         SubjectRules
}

// RunnerOptions groups dependencies for Runner.
type RunnerOptions struct {
	Auth     AuthProvider     // Required
	Provider WorkflowProvider // Required
	Approver Approver         // Optional: approval URLs fail the job when nil
	Sleeper  Sleeper          // Optional: defaults to RealSleeper
	Config   Config
	Logger   *slog.Logger
}

// Runner executes the per-job state machine.
type Runner struct {
	auth     AuthProvider
	provider WorkflowProvider
	approver Approver
	sleeper  Sleeper
	cfg      Config
	pending  map[string]struct{}
	logger   *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Auth == nil {
		return nil, errors.New("AuthProvider is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("WorkflowProvider is required")
	}
	cfg := opts.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pending := make(map[string]struct{}, len(cfg.PendingStatuses))
	for _, s := range cfg.PendingStatuses {
		pending[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &Runner{
		auth:     opts.Auth,
		provider: opts.Provider,
		approver: opts.Approver,
		sleeper:  sleeper,
		cfg:      cfg,
		pending:  pending,
		logger:   logger.With("component", "workflow_runner"),
	}, nil
}

// IsPending reports whether status is in the provider's still-pending set.
func (r *Runner) IsPending(status string) bool {
	_, ok := r.pending[strings.ToUpper(strings.TrimSpace(status))]
	return ok
}

// Session holds an account's provider token for the length of a run.
// An account-level authentication failure sticks so later jobs fail fast.
type Session struct {
	Account model.Account

	mu         sync.Mutex
	token      string
	accountErr *Failure
}

// NewSession starts an unauthenticated session for acc.
func NewSession(acc model.Account) *Session {
	return &Session{Account: acc}
}

// AccountFailure returns the sticky account-level failure, if any.
func (s *Session) AccountFailure() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountErr
}

// Result is the outcome of one job's workflow.
type Result struct {
	State     State
	Subject   model.Subject
	Entries   []model.ResultEntry
	Accepted  bool
	Duplicate bool
	Attempts  int
	Failure   *Failure
	// Trace lists every state the machine entered, in order.
	Trace []State
}

// Succeeded reports whether the workflow ended with entries.
func (r Result) Succeeded() bool { return r.State == StateDone }

type execution struct {
	job        model.Job
	session    *Session
	state      State
	subject    model.Subject
	token      string
	submission Submission
	result     Result
}

func (e *execution) to(s State) {
	e.state = s
	e.result.Trace = append(e.result.Trace, s)
}

func (e *execution) failWith(f *Failure) {
	e.result.Failure = f
	e.to(StateFailed)
}

// Run drives job to Done or Failed. It never returns an error: every
// external failure becomes Result.Failure.
func (r *Runner) Run(ctx context.Context, sess *Session, job model.Job) Result {
	ex := &execution{job: job, session: sess, state: StateInit}
	ex.result.Trace = []State{StateInit}

	for !ex.state.Terminal() {
		if err := ctx.Err(); err != nil {
			ex.failWith(fail(FailureExhausted, err, "run interrupted"))
			break
		}
		switch ex.state {
		case StateInit:
			r.authenticate(ctx, ex)
		case StateAuthenticated:
			r.submit(ctx, ex)
		case StateSubmitted:
			r.route(ex)
		case StateAwaitingApproval:
			r.approve(ctx, ex)
		case StatePolling:
			r.poll(ctx, ex)
		default:
			ex.failWith(&Failure{Kind: FailureSubmission, Message: "unknown workflow state " + string(ex.state)})
		}
	}

	ex.result.State = ex.state
	ex.result.Subject = ex.subject
	if ex.result.Failure != nil {
		r.logger.InfoContext(ctx, "workflow failed",
			"job_id", job.ID,
			"account_id", sess.Account.ID,
			"kind", ex.result.Failure.Kind,
			"error", ex.result.Failure.Message,
		)
	}
	return ex.result
}

// authenticate: Init -> Authenticated | Failed.
func (r *Runner) authenticate(ctx context.Context, ex *execution) {
	subject, err := PrepareSubject(ex.job.Subject, r.cfg.Subject)
	if err != nil {
		ex.failWith(fail(FailureInvalidSubject, err, "invalid subject for job %d", ex.job.ID))
		return
	}
	ex.subject = subject

	sess := ex.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.accountErr != nil {
		ex.failWith(sess.accountErr)
		return
	}
	if sess.token == "" {
		callCtx, cancel := r.stepContext(ctx)
		token, err := r.auth.Login(callCtx, sess.Account.Credential)
		cancel()
		switch {
		case err != nil:
			f := fail(FailureAuth, err, "authentication failed")
			if errors.Is(err, ErrInvalidCredential) {
				f.AccountLevel = true
				sess.accountErr = f
			}
			ex.failWith(f)
			return
		case strings.TrimSpace(token) == "":
			f := &Failure{Kind: FailureAuth, Message: "authentication returned an empty token", AccountLevel: true}
			sess.accountErr = f
			ex.failWith(f)
			return
		}
		sess.token = token
	}
	ex.token = sess.token
	ex.to(StateAuthenticated)
}

// submit: Authenticated -> Submitted | Failed.
func (r *Runner) submit(ctx context.Context, ex *execution) {
	callCtx, cancel := r.stepContext(ctx)
	sub, err := r.provider.Submit(callCtx, ex.token, ex.subject)
	cancel()
	if err != nil {
		ex.failWith(fail(FailureSubmission, err, "submission failed"))
		return
	}
	ex.submission = sub
	ex.result.Accepted = sub.Accepted
	ex.result.Duplicate = sub.Duplicate
	if sub.Duplicate {
		r.logger.DebugContext(ctx, "operation already exists", "job_id", ex.job.ID, "ref", sub.Ref)
	}
	ex.to(StateSubmitted)
}

// route: Submitted -> AwaitingApproval | Polling.
func (r *Runner) route(ex *execution) {
	if strings.TrimSpace(ex.submission.ApprovalURL) != "" {
		ex.to(StateAwaitingApproval)
		return
	}
	ex.to(StatePolling)
}

// approve: AwaitingApproval -> Polling | Failed.
func (r *Runner) approve(ctx context.Context, ex *execution) {
	if r.approver == nil {
		ex.failWith(&Failure{Kind: FailureApproval, Message: "approval required but no approver is configured"})
		return
	}
	ok, err := r.approver.Approve(ctx, ex.submission.ApprovalURL, ex.subject)
	switch {
	case err != nil:
		ex.failWith(fail(FailureApproval, err, "approval failed"))
		return
	case !ok:
		ex.failWith(fail(FailureApproval, errApprovalRejected, "approval failed"))
		return
	}
	// Results returned before consent are stale.
	ex.submission.Entries = nil
	ex.to(StatePolling)
}

// poll: Polling -> Done | Failed.
//
// Entries returned at submit time count as the first attempt. The loop stops
// early once an attempt yields entries that are not all pending; otherwise the
// last fetched entries are used even if still pending.
func (r *Runner) poll(ctx context.Context, ex *execution) {
	var (
		last    []model.ResultEntry
		lastErr error
	)
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		ex.result.Attempts = attempt

		var raws []model.RawEntry
		var err error
		if attempt == 1 && len(ex.submission.Entries) > 0 {
			raws = ex.submission.Entries
		} else {
			callCtx, cancel := r.stepContext(ctx)
			raws, err = r.provider.Poll(callCtx, ex.token, ex.subject, ex.submission.Ref)
			cancel()
		}

		switch {
		case err != nil:
			lastErr = err
		case len(raws) == 0:
			lastErr = errEmptyPayload
		default:
			entries := DistinctEntries(raws, r.provider.Normalize)
			if len(entries) == 0 {
				lastErr = errNoUsableEntries
				break
			}
			last, lastErr = entries, nil
			if !r.allPending(entries) {
				r.finish(ex, last)
				return
			}
		}

		if attempt < r.cfg.MaxAttempts {
			if err := r.sleeper.Sleep(ctx, r.cfg.PollInterval); err != nil {
				ex.failWith(fail(FailureExhausted, err, "polling interrupted"))
				return
			}
		}
	}

	if len(last) > 0 {
		r.finish(ex, last)
		return
	}
	if errors.Is(lastErr, errNoUsableEntries) {
		ex.failWith(&Failure{Kind: FailureEmpty, Message: "workflow completed without usable entries", Cause: lastErr})
		return
	}
	ex.failWith(fail(FailureExhausted, lastErr, "no result after %d attempts", r.cfg.MaxAttempts))
}

func (r *Runner) finish(ex *execution, entries []model.ResultEntry) {
	ex.result.Entries = entries
	ex.to(StateDone)
}

func (r *Runner) allPending(entries []model.ResultEntry) bool {
	for _, e := range entries {
		if !r.IsPending(e.Status) {
			return false
		}
	}
	return true
}

func (r *Runner) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StepTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.StepTimeout)
}
