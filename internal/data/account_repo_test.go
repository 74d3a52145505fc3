package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/data/cryptoutil"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

func TestAccountRepo_ListAndGet(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAccountRepo(db, AccountRepoOptions{})

		first := insertTestAccount(t, db, model.ProviderHandmais, 500)
		second := insertTestAccount(t, db, model.ProviderHandmais, 500)
		insertTestAccount(t, db, model.ProviderV8, 10)

		accs, err := repo.ListByProvider(ctx, model.ProviderHandmais)
		require.NoError(t, err)
		require.Len(t, accs, 2)
		assert.Equal(t, first, accs[0].ID)
		assert.Equal(t, second, accs[1].ID)
		assert.Equal(t, "user", accs[0].Credential.Login)

		_, err = repo.ListByProvider(ctx, "bogus")
		require.ErrorIs(t, err, ErrInvalidProvider)

		_, err = repo.GetByID(ctx, second+100)
		require.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestAccountRepo_IncrementAndReset(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAccountRepo(db, AccountRepoOptions{})
		id := insertTestAccount(t, db, model.ProviderPresenca, 2)
		now := testutil.TestTime()

		for range 3 {
			require.NoError(t, repo.Increment(ctx, core.IncrementParams{AccountID: id, Clamp: true, At: now}))
		}
		acc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, acc.Consumed, "clamped at the daily limit")

		require.NoError(t, repo.Increment(ctx, core.IncrementParams{AccountID: id, At: now}))
		acc, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, acc.Consumed)

		resetAt := now.Add(time.Hour)
		require.NoError(t, repo.ResetCounter(ctx, id, resetAt))
		require.NoError(t, repo.ResetCounter(ctx, id, resetAt))
		acc, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, acc.Consumed)
		require.NotNil(t, acc.LastResetAt)
		assert.True(t, resetAt.Equal(*acc.LastResetAt))

		require.ErrorIs(t, repo.Increment(ctx, core.IncrementParams{AccountID: id + 100}), ErrAccountNotFound)
	})
}

func TestAccountRepo_ConcurrentIncrementsAreNotLost(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAccountRepo(db, AccountRepoOptions{})
		id := insertTestAccount(t, db, model.ProviderV8, 0)

		inc := func() error { return repo.Increment(ctx, core.IncrementParams{AccountID: id}) }
		runner := testutil.NewConcurrentTestRunner(t)
		runner.AssertNoErrors(runner.RunConcurrent(inc, inc, inc, inc, inc, inc, inc, inc))

		acc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 8, acc.Consumed)
	})
}

func TestAccountRepo_CreateSealsCredentials(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		enc, err := cryptoutil.FromKey("test-passphrase")
		require.NoError(t, err)
		repo := NewAccountRepo(db, AccountRepoOptions{Encryptor: enc})

		acc, err := repo.Create(ctx, &model.CreateAccountRequest{
			Provider:   model.ProviderHandmais,
			Label:      "loja 1",
			Credential: model.Credential{Token: "tok-123"},
			DailyLimit: 500,
		})
		require.NoError(t, err)
		assert.Equal(t, "tok-123", acc.Credential.Token)

		var stored string
		require.NoError(t, db.QueryRowContext(ctx, `SELECT token FROM accounts WHERE id = $1`, acc.ID).Scan(&stored))
		assert.NotEqual(t, "tok-123", stored)
		assert.Contains(t, stored, "v1:")

		got, err := repo.GetByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-123", got.Credential.Token)
		assert.Empty(t, got.Credential.Secret)

		_, err = repo.Create(ctx, &model.CreateAccountRequest{Provider: model.ProviderV8, Label: "x"})
		require.Error(t, err)
	})
}
