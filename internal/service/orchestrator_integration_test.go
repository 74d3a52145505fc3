package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/data"
	"github.com/consultaflow/dispatcher/internal/data/testhelpers"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

// TestOrchestrator_PostgresRedis runs a full provider run against the real
// job store and lock store.
func TestOrchestrator_PostgresRedis(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		client := testutil.SetupTestRedis(t)
		t.Cleanup(func() { _ = client.Close() })

		ctx := context.Background()
		now := time.Now().UTC()
		stores := testhelpers.NewStoresWithTimeProvider(db, data.NewFixedTimeProvider(now), testutil.DiscardLogger())

		for i := 1; i <= 2; i++ {
			testutil.InsertAccount(t, db, testutil.AccountFixture{
				Provider:    string(model.ProviderV8),
				Label:       fmt.Sprintf("loja-%d", i),
				Login:       fmt.Sprintf("login-%d", i),
				Secret:      "pw",
				DailyLimit:  2,
				LastResetAt: &now,
			})
		}
		for i := 1; i <= 3; i++ {
			_, err := stores.Jobs.Create(ctx, testutil.NewJobRequest().
				WithProvider(model.ProviderV8).
				WithNationalID(cpf(i)).
				WithOwner(1, 1).
				Build())
			require.NoError(t, err)
		}

		runner, err := workflow.NewRunner(workflow.RunnerOptions{
			Auth:     &scriptedAuth{invalid: map[string]bool{}},
			Provider: &scriptedProvider{entries: map[string][]model.RawEntry{}, failures: map[string]error{}},
			Sleeper:  &recordingSleeper{},
			Config:   workflow.Config{MaxAttempts: 1},
		})
		require.NoError(t, err)
		ledger, err := NewQuotaLedger(QuotaLedgerOptions{Accounts: stores.Accounts, Clock: fixedClock{now}})
		require.NoError(t, err)
		claimer, err := NewJobClaimer(stores.Jobs, nil)
		require.NoError(t, err)
		persister, err := NewResultPersister(stores.Jobs, nil)
		require.NoError(t, err)
		locker := data.NewRedisLocker(client, "it:")

		orch, err := NewOrchestrator(OrchestratorOptions{
			Profile:   v8Profile(),
			Ledger:    ledger,
			Claimer:   claimer,
			Persister: persister,
			Locker:    locker,
			Runner:    runner,
			Sleeper:   &recordingSleeper{},
			Clock:     fixedClock{now},
		})
		require.NoError(t, err)

		summary, err := orch.Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.OK)
		assert.Equal(t, 3, summary.Processed)

		counts, err := stores.Jobs.CountByStatus(ctx, model.ProviderV8)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts[model.JobStatusConsulted])

		accounts, err := stores.Accounts.ListByProvider(ctx, model.ProviderV8)
		require.NoError(t, err)
		consumed := 0
		for _, a := range accounts {
			consumed += a.Consumed
		}
		assert.Equal(t, 3, consumed)

		exists, err := client.Exists(ctx, "it:"+model.ProviderV8.RunLockKey()).Result()
		require.NoError(t, err)
		assert.Zero(t, exists, "run lock released")
	})
}
