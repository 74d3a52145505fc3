package devseed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

type fakeIntake struct {
	accounts  map[model.Provider][]model.Account
	created   []model.CreateAccountRequest
	batches   [][]model.CreateJobRequest
	deletes   []core.DeleteBatchParams
	createErr error
}

func (f *fakeIntake) ListAccounts(_ context.Context, p model.Provider) ([]model.Account, error) {
	return f.accounts[p], nil
}

func (f *fakeIntake) CreateAccount(_ context.Context, req *model.CreateAccountRequest) (*model.Account, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, *req)
	return &model.Account{Provider: req.Provider, Label: req.Label}, nil
}

func (f *fakeIntake) EnqueueBatch(_ context.Context, reqs []model.CreateJobRequest) ([]int64, error) {
	f.batches = append(f.batches, reqs)
	ids := make([]int64, len(reqs))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (f *fakeIntake) DeleteBatch(_ context.Context, params core.DeleteBatchParams) (int64, error) {
	f.deletes = append(f.deletes, params)
	return 0, nil
}

func TestRun_SeedsAccountsAndHeldJobs(t *testing.T) {
	f := &fakeIntake{accounts: map[model.Provider][]model.Account{
		model.ProviderV8: {{Label: "v8-dev-1"}},
	}}

	err := Run(context.Background(), f, []model.Provider{model.ProviderV8, model.ProviderHandmais}, testutil.DiscardLogger())
	require.NoError(t, err)

	labels := make([]string, 0, len(f.created))
	for _, c := range f.created {
		labels = append(labels, c.Label)
		require.NoError(t, c.Validate())
	}
	assert.Equal(t, []string{"v8-dev-2", "handmais-dev-1", "handmais-dev-2"}, labels)
	assert.NotEmpty(t, f.created[1].Credential.Token, "handmais accounts use tokens")

	require.Len(t, f.batches, 2)
	for _, batch := range f.batches {
		for _, j := range batch {
			assert.Equal(t, model.JobStatusHeld, j.Status)
			assert.Equal(t, Kind, j.Kind)
			assert.Equal(t, DevUserID, j.Tags.UserID)
		}
	}
	require.Len(t, f.deletes, 2)
	assert.Equal(t, Kind, f.deletes[0].Kind)
}

func TestRun_CountsFailures(t *testing.T) {
	f := &fakeIntake{createErr: errors.New("boom")}
	err := Run(context.Background(), f, []model.Provider{model.ProviderPresenca}, testutil.DiscardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 seed errors")
}
