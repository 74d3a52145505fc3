package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
	"github.com/consultaflow/dispatcher/internal/mocks"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

func doneResult(entries ...model.ResultEntry) workflow.Result {
	return workflow.Result{
		State:    workflow.StateDone,
		Subject:  model.Subject{NationalID: "12345678909", Name: "MARIA DA SILVA", Phone: "11999990000"},
		Entries:  entries,
		Accepted: true,
	}
}

func value(v float64) *float64 { return &v }

func TestResultPersister_WorkflowFailureMarksError(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	job := testutil.NewJob(1, model.ProviderV8, model.Tags{UserID: 1})
	res := workflow.Result{
		State:   workflow.StateFailed,
		Failure: &workflow.Failure{Kind: workflow.FailureSubmission, Message: strings.Repeat("x", 50)},
	}
	jobs.EXPECT().MarkError(gomock.Any(), int64(1), strings.Repeat("x", 10)).Return(nil)

	out, err := p.Persist(context.Background(), job, 9, res, PersistPolicy{MessageCap: 10})
	require.NoError(t, err)
	assert.True(t, out.Errored)
	assert.Equal(t, model.JobStatusError, out.Status)
}

func TestResultPersister_PrimaryEntry(t *testing.T) {
	tests := []struct {
		name   string
		policy PersistPolicy
		status string
		want   model.JobStatus
	}{
		{"success status", PersistPolicy{SuccessStatus: model.JobStatusCompleted}, "APROVADO", model.JobStatusCompleted},
		{"default success status", PersistPolicy{}, "APROVADO", model.JobStatusConsulted},
		{
			"pending requeued",
			PersistPolicy{SuccessStatus: model.JobStatusConsulted, RequeuePending: true, IsPending: func(s string) bool { return s == "EM_ANALISE" }},
			"EM_ANALISE",
			model.JobStatusPending,
		},
		{
			"pending kept when requeue disabled",
			PersistPolicy{SuccessStatus: model.JobStatusConsulted, IsPending: func(string) bool { return true }},
			"EM_ANALISE",
			model.JobStatusConsulted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			jobs := mocks.NewMockJobStore(ctrl)
			p, err := NewResultPersister(jobs, nil)
			require.NoError(t, err)

			job := testutil.NewJob(4, model.ProviderV8, model.Tags{UserID: 1})
			res := doneResult(model.ResultEntry{Status: tt.status, Value: value(10)})
			jobs.EXPECT().UpdateResult(gomock.Any(), int64(4), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ int64, upd model.ResultUpdate) error {
					assert.Equal(t, tt.want, upd.Status)
					assert.Equal(t, "11999990000", upd.Subject.Phone, "normalized subject is stored")
					require.NotNil(t, upd.AccountID)
					assert.Equal(t, int64(3), *upd.AccountID)
					return nil
				})

			out, err := p.Persist(context.Background(), job, 3, res, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.False(t, out.Errored)
		})
	}
}

func TestResultPersister_SubjectFallsBackToJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	job := testutil.NewJob(4, model.ProviderV8, model.Tags{})
	res := workflow.Result{State: workflow.StateDone, Entries: []model.ResultEntry{{Status: "OK"}}}
	jobs.EXPECT().UpdateResult(gomock.Any(), int64(4), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, upd model.ResultUpdate) error {
			assert.Equal(t, job.Subject, upd.Subject)
			return nil
		})

	_, err = p.Persist(context.Background(), job, 1, res, PersistPolicy{})
	require.NoError(t, err)
}

func TestResultPersister_CopyInsertsExtraRows(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	job := testutil.NewJob(1, model.ProviderHandmais, model.Tags{UserID: 1, TeamID: 2})
	res := doneResult(
		model.ResultEntry{Status: "A", Value: value(1)},
		model.ResultEntry{Status: "B", Value: value(2)},
		model.ResultEntry{Status: "C", Value: value(3)},
	)

	gomock.InOrder(
		jobs.EXPECT().UpdateResult(gomock.Any(), int64(1), gomock.Any()).Return(nil),
		jobs.EXPECT().InsertResult(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, src model.Job, upd model.ResultUpdate) (int64, error) {
				assert.Equal(t, job.Tags, src.Tags)
				assert.Equal(t, "B", upd.Entry.Status)
				return 2, nil
			}),
		jobs.EXPECT().InsertResult(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(3), nil),
	)

	out, err := p.Persist(context.Background(), job, 1, res, PersistPolicy{Duplicates: model.DuplicateCopy})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Duplicates)
	assert.Zero(t, out.Merged)
}

func TestResultPersister_MergeUpdatesMatchingRow(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	forced := int64(8)
	job := testutil.NewJob(1, model.ProviderPresenca, model.Tags{UserID: 1, TeamID: 2})
	job.ForcedAccountID = &forced
	res := doneResult(
		model.ResultEntry{Status: "A", MatchKey: "tabela-1"},
		model.ResultEntry{Status: "B", MatchKey: "tabela-2"},
		model.ResultEntry{Status: "C", MatchKey: "tabela-3"},
	)

	jobs.EXPECT().UpdateResult(gomock.Any(), int64(1), gomock.Any()).Return(nil)
	jobs.EXPECT().FindSimilar(gomock.Any(), core.FindSimilarParams{
		Provider:        model.ProviderPresenca,
		NationalID:      "12345678909",
		Tags:            job.Tags,
		ForcedAccountID: &forced,
		ResultKey:       "tabela-2",
		ExcludeID:       1,
	}).Return(&model.Job{ID: 40}, nil)
	jobs.EXPECT().UpdateResult(gomock.Any(), int64(40), gomock.Any()).Return(nil)
	jobs.EXPECT().FindSimilar(gomock.Any(), gomock.Any()).Return(nil, nil)
	jobs.EXPECT().InsertResult(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(41), nil)

	out, err := p.Persist(context.Background(), job, 8, res, PersistPolicy{Duplicates: model.DuplicateMerge})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Duplicates)
	assert.Equal(t, 1, out.Merged)
}

func TestResultPersister_PrimaryFailureMarksError(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	job := testutil.NewJob(1, model.ProviderV8, model.Tags{})
	jobs.EXPECT().UpdateResult(gomock.Any(), int64(1), gomock.Any()).Return(errors.New("value too long"))
	jobs.EXPECT().MarkError(gomock.Any(), int64(1), "persist result: value too long").Return(nil)

	out, err := p.Persist(context.Background(), job, 1, doneResult(model.ResultEntry{Status: "A"}), PersistPolicy{})
	require.NoError(t, err)
	assert.True(t, out.Errored)
}

func TestResultPersister_UnrecoverableFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	job := testutil.NewJob(1, model.ProviderV8, model.Tags{})
	jobs.EXPECT().UpdateResult(gomock.Any(), int64(1), gomock.Any()).Return(errors.New("conn closed"))
	jobs.EXPECT().MarkError(gomock.Any(), int64(1), gomock.Any()).Return(errors.New("conn closed"))

	_, err = p.Persist(context.Background(), job, 1, doneResult(model.ResultEntry{Status: "A"}), PersistPolicy{})
	require.ErrorIs(t, err, ErrResultNotPersisted)
}

func TestResultPersister_WritesSurviveCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	p, err := NewResultPersister(jobs, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs.EXPECT().UpdateResult(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ int64, _ model.ResultUpdate) error {
			return ctx.Err()
		})

	_, err = p.Persist(ctx, testutil.NewJob(1, model.ProviderV8, model.Tags{}), 1,
		doneResult(model.ResultEntry{Status: "A"}), PersistPolicy{})
	require.NoError(t, err)
}
