package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/domain/allocation"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/quota"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	"github.com/consultaflow/dispatcher/internal/observability/statsd"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

type orchestratorHarness struct {
	jobs     *memJobs
	accounts *memAccounts
	locker   *memLocker
	auth     *scriptedAuth
	provider *scriptedProvider
	sleeper  *recordingSleeper
	metrics  *statsd.Recorder
	orch     *Orchestrator
}

func cpf(i int) string { return fmt.Sprintf("%011d", 10000000000+i) }

func pendingJob(id int64, provider model.Provider, tags model.Tags) model.Job {
	j := testutil.NewJob(id, provider, tags)
	j.Subject.NationalID = cpf(int(id))
	return j
}

func account(id int64, provider model.Provider, limit, consumed int) model.Account {
	acc := testutil.NewAccount(id, provider, limit, consumed)
	acc.Credential.Login = fmt.Sprintf("login-%d", id)
	return acc
}

func newHarness(t *testing.T, profile RunProfile, accounts []model.Account, jobs []model.Job, busyKeys ...string) *orchestratorHarness {
	t.Helper()
	now := testutil.TestTime()
	h := &orchestratorHarness{
		jobs:     newMemJobs(now, jobs...),
		accounts: newMemAccounts(accounts...),
		locker:   newMemLocker(busyKeys...),
		auth:     &scriptedAuth{invalid: map[string]bool{}},
		provider: &scriptedProvider{entries: map[string][]model.RawEntry{}, failures: map[string]error{}},
		sleeper:  &recordingSleeper{},
		metrics:  &statsd.Recorder{},
	}

	runner, err := workflow.NewRunner(workflow.RunnerOptions{
		Auth:     h.auth,
		Provider: h.provider,
		Sleeper:  h.sleeper,
		Config:   workflow.Config{MaxAttempts: 1, PendingStatuses: []string{"EM_ANALISE"}},
	})
	require.NoError(t, err)

	ledger, err := NewQuotaLedger(QuotaLedgerOptions{Accounts: h.accounts, Clock: fixedClock{now}})
	require.NoError(t, err)
	claimer, err := NewJobClaimer(h.jobs, nil)
	require.NoError(t, err)
	persister, err := NewResultPersister(h.jobs, nil)
	require.NoError(t, err)

	h.orch, err = NewOrchestrator(OrchestratorOptions{
		Profile:   profile,
		Ledger:    ledger,
		Claimer:   claimer,
		Persister: persister,
		Locker:    h.locker,
		Runner:    runner,
		Sleeper:   h.sleeper,
		Clock:     fixedClock{now},
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	return h
}

func v8Profile() RunProfile {
	return RunProfile{
		Provider: model.ProviderV8,
		Strategy: allocation.StrategyForcedRoundRobin,
		Quota:    quota.Policy{ResetWindow: 24 * time.Hour, Increment: quota.IncrementOnSuccess, ClampIncrement: true},
		Persist: PersistPolicy{
			Duplicates:    model.DuplicateCopy,
			SuccessStatus: model.JobStatusConsulted,
		},
		InterJobDelay: 5 * time.Second,
	}
}

func TestNewOrchestrator_Validates(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorOptions{})
	require.ErrorContains(t, err, "invalid provider")

	_, err = NewOrchestrator(OrchestratorOptions{Profile: RunProfile{Provider: model.ProviderV8}})
	require.ErrorContains(t, err, "QuotaLedger is required")
}

func TestOrchestrator_PreallocatedRun(t *testing.T) {
	tags := model.Tags{UserID: 1, TeamID: 1}
	accounts := []model.Account{
		account(1, model.ProviderV8, 2, 0),
		account(2, model.ProviderV8, 1, 0),
		account(3, model.ProviderV8, 5, 5),
	}
	jobs := []model.Job{
		pendingJob(1, model.ProviderV8, tags),
		pendingJob(2, model.ProviderV8, tags),
		pendingJob(3, model.ProviderV8, tags),
		pendingJob(4, model.ProviderV8, tags),
		pendingJob(5, model.ProviderPresenca, tags),
	}
	h := newHarness(t, v8Profile(), accounts, jobs)
	h.provider.entries[cpf(2)] = []model.RawEntry{
		{"status": "APROVADO", "value": 10.0},
		{"status": "REPROVADO", "value": 0.0},
	}

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.OK)
	assert.Equal(t, 3, summary.TotalAccounts)
	assert.Equal(t, 2, summary.AccountsWithQuota)
	assert.Equal(t, 3, summary.PendingFound, "listing stops at pool capacity")
	assert.Equal(t, 3, summary.Allocated)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Errored)
	assert.Equal(t, 1, summary.DuplicatesCreated)

	require.Len(t, summary.Accounts, 2)
	assert.Equal(t, int64(1), summary.Accounts[0].ID)
	assert.Equal(t, 2, summary.Accounts[0].Allocated)
	assert.Equal(t, 2, summary.Accounts[0].RemainingStart)
	assert.Equal(t, 1, summary.Accounts[1].Allocated)

	// Round robin: job 1 -> acc 1, job 2 -> acc 2, job 3 -> acc 1.
	assert.Equal(t, int64(1), *h.jobs.get(1).AccountID)
	assert.Equal(t, int64(2), *h.jobs.get(2).AccountID)
	assert.Equal(t, int64(1), *h.jobs.get(3).AccountID)
	assert.Equal(t, model.JobStatusConsulted, h.jobs.get(1).Status)
	assert.Equal(t, model.JobStatusPending, h.jobs.get(4).Status, "over capacity stays pending")
	assert.Equal(t, model.JobStatusPending, h.jobs.get(5).Status, "other provider untouched")

	assert.Equal(t, 2, h.accounts.consumed(1))
	assert.Equal(t, 1, h.accounts.consumed(2))

	assert.Equal(t, 1, h.sleeper.count(), "delay only between consecutive jobs of one account")
	assert.Zero(t, h.locker.heldKeys(), "run lock released")
	assert.Equal(t, []string{model.ProviderV8.RunLockKey()}, h.locker.released)

	assert.InDelta(t, 1, h.metrics.Sum("run.finished", map[string]string{"result": "success"}), 0)
	assert.InDelta(t, 3, h.metrics.Sum("job.outcome", map[string]string{"outcome": "done"}), 0)
}

func TestOrchestrator_BusyRunLock(t *testing.T) {
	h := newHarness(t, v8Profile(),
		[]model.Account{account(1, model.ProviderV8, 5, 0)},
		[]model.Job{pendingJob(1, model.ProviderV8, model.Tags{})},
		model.ProviderV8.RunLockKey(),
	)

	summary, err := h.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	require.NotNil(t, summary)
	assert.False(t, summary.OK)
	assert.Equal(t, model.JobStatusPending, h.jobs.get(1).Status)
	assert.Empty(t, h.provider.submissions())
	assert.InDelta(t, 1, h.metrics.Sum("run.finished", map[string]string{"result": "busy"}), 0)
}

func TestOrchestrator_NoEligibleAccounts(t *testing.T) {
	h := newHarness(t, v8Profile(),
		[]model.Account{account(1, model.ProviderV8, 5, 5)},
		[]model.Job{pendingJob(1, model.ProviderV8, model.Tags{})},
	)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, 1, summary.TotalAccounts)
	assert.Zero(t, summary.AccountsWithQuota)
	assert.Zero(t, summary.Allocated)
	assert.InDelta(t, 1, h.metrics.Sum("run.finished", map[string]string{"result": "noop"}), 0)
}

func TestOrchestrator_InvalidCredentialFailsAccountJobs(t *testing.T) {
	tags := model.Tags{UserID: 1, TeamID: 1}
	profile := v8Profile()
	profile.Quota.Increment = quota.IncrementAlways
	h := newHarness(t, profile,
		[]model.Account{account(1, model.ProviderV8, 3, 0)},
		[]model.Job{
			pendingJob(1, model.ProviderV8, tags),
			pendingJob(2, model.ProviderV8, tags),
			pendingJob(3, model.ProviderV8, tags),
		},
	)
	h.auth.invalid["login-1"] = true

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Errored)
	assert.Zero(t, summary.Processed)
	require.Len(t, summary.Accounts, 1)
	assert.Equal(t, 3, summary.Accounts[0].Errored)
	assert.Contains(t, summary.Accounts[0].AuthError, "authentication failed")
	assert.Equal(t, 1, h.auth.logins, "login attempted once per account")
	assert.Zero(t, h.sleeper.count(), "no delay once the account is known bad")
	for id := int64(1); id <= 3; id++ {
		assert.Equal(t, model.JobStatusError, h.jobs.get(id).Status)
	}
	assert.Equal(t, 3, h.accounts.consumed(1))
}

func TestOrchestrator_JobFailureDoesNotStopRun(t *testing.T) {
	tags := model.Tags{UserID: 1, TeamID: 1}
	h := newHarness(t, v8Profile(),
		[]model.Account{account(1, model.ProviderV8, 5, 0)},
		[]model.Job{pendingJob(1, model.ProviderV8, tags), pendingJob(2, model.ProviderV8, tags)},
	)
	h.provider.failures[cpf(1)] = errors.New(`status 400: {"erros":["CPF bloqueado"]}`)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Processed)

	failed := h.jobs.get(1)
	assert.Equal(t, model.JobStatusError, failed.Status)
	require.NotNil(t, failed.Message)
	assert.Contains(t, *failed.Message, "CPF bloqueado")
	assert.Equal(t, 1, h.accounts.consumed(1), "on_success charges only the good job")
	assert.InDelta(t, 1, h.metrics.Sum("job.outcome", map[string]string{"outcome": "submission"}), 0)
}

func TestOrchestrator_PendingResultsRequeued(t *testing.T) {
	profile := v8Profile()
	profile.Persist.RequeuePending = true
	h := newHarness(t, profile,
		[]model.Account{account(1, model.ProviderV8, 5, 0)},
		[]model.Job{pendingJob(1, model.ProviderV8, model.Tags{})},
	)
	h.provider.entries[cpf(1)] = []model.RawEntry{{"status": "EM_ANALISE"}}

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, model.JobStatusPending, h.jobs.get(1).Status)
}

func TestOrchestrator_PinnedClaimRun(t *testing.T) {
	acc1, acc2, acc3 := int64(1), int64(2), int64(3)
	pinned := func(id int64, acc *int64) model.Job {
		j := pendingJob(id, model.ProviderHandmais, model.Tags{UserID: 1, TeamID: 1})
		j.ForcedAccountID = acc
		return j
	}
	profile := RunProfile{
		Provider:    model.ProviderHandmais,
		Strategy:    allocation.StrategyPinnedClaim,
		Quota:       quota.Policy{Increment: quota.IncrementAlways},
		Persist:     PersistPolicy{Duplicates: model.DuplicateCopy, SuccessStatus: model.JobStatusCompleted},
		MaxParallel: 3,
	}
	h := newHarness(t, profile,
		[]model.Account{
			account(1, model.ProviderHandmais, 1, 0),
			account(2, model.ProviderHandmais, 5, 0),
			account(3, model.ProviderHandmais, 5, 0),
		},
		[]model.Job{
			pinned(1, &acc1),
			pinned(2, &acc1),
			pinned(3, &acc2),
			pinned(4, &acc3),
			pinned(5, nil),
		},
		model.ProviderHandmais.AccountLockKey(3),
	)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AccountsBusy)
	assert.Equal(t, 2, summary.Allocated)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, model.JobStatusCompleted, h.jobs.get(1).Status)
	assert.Equal(t, model.JobStatusPending, h.jobs.get(2).Status, "account 1 quota is 1")
	assert.Equal(t, model.JobStatusCompleted, h.jobs.get(3).Status)
	assert.Equal(t, model.JobStatusPending, h.jobs.get(4).Status, "busy account skipped")
	assert.Equal(t, model.JobStatusPending, h.jobs.get(5).Status, "unpinned jobs are never claimed")

	require.Len(t, summary.Accounts, 3)
	assert.True(t, summary.Accounts[2].LockBusy)
	assert.Zero(t, h.locker.heldKeys(), "account and run locks released")
}

func TestOrchestrator_CancelledRunLeavesJobsForSweep(t *testing.T) {
	acc := int64(1)
	job := pendingJob(1, model.ProviderHandmais, model.Tags{})
	job.ForcedAccountID = &acc
	h := newHarness(t, RunProfile{
		Provider: model.ProviderHandmais,
		Strategy: allocation.StrategyPinnedClaim,
		Quota:    quota.Policy{Increment: quota.IncrementAlways},
	}, []model.Account{account(1, model.ProviderHandmais, 5, 0)}, []model.Job{job})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, summary.OK)
	assert.Equal(t, model.JobStatusProcessing, h.jobs.get(1).Status)
	assert.Empty(t, h.provider.submissions())
	assert.Zero(t, h.locker.heldKeys(), "lock released on a cancelled run")
}

func TestOrchestrator_FailingAccountSettlesSiblingJobs(t *testing.T) {
	acc1, acc2 := int64(1), int64(2)
	pinned := func(id int64, acc *int64) model.Job {
		j := pendingJob(id, model.ProviderPresenca, model.Tags{UserID: 1, TeamID: 1})
		j.ForcedAccountID = acc
		return j
	}
	profile := RunProfile{
		Provider:    model.ProviderPresenca,
		Strategy:    allocation.StrategyPinnedClaim,
		Quota:       quota.Policy{Increment: quota.IncrementAlways},
		Persist:     PersistPolicy{Duplicates: model.DuplicateMerge, SuccessStatus: model.JobStatusConsulted},
		MaxParallel: 2,
	}
	h := newHarness(t, profile,
		[]model.Account{
			account(1, model.ProviderPresenca, 5, 0),
			account(2, model.ProviderPresenca, 5, 0),
		},
		[]model.Job{pinned(1, &acc1), pinned(2, &acc2), pinned(3, &acc2)},
	)
	h.provider.failures[cpf(1)] = errors.New("upstream 500")
	h.provider.hold = map[string]bool{cpf(2): true}
	h.jobs.markErrorFailures = map[int64]error{1: errors.New("db down")}

	summary, err := h.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrResultNotPersisted)
	assert.False(t, summary.OK)

	assert.Equal(t, model.JobStatusProcessing, h.jobs.get(1).Status, "store failure on the failing account itself")
	for _, id := range []int64{2, 3} {
		j := h.jobs.get(id)
		assert.Equal(t, model.JobStatusError, j.Status, "job %d", id)
		require.NotNil(t, j.Message, "job %d", id)
		assert.Contains(t, *j.Message, "run interrupted")
		assert.Contains(t, *j.Message, "db down")
	}
	assert.Equal(t, 2, summary.Errored)
	assert.Zero(t, h.locker.heldKeys(), "account and run locks released")
}
