package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

func TestNewDispatcher_Validates(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	require.Error(t, err)

	h := newHarness(t, v8Profile(), nil, nil)
	_, err = NewDispatcher(DispatcherOptions{Orchestrators: []*Orchestrator{h.orch, h.orch}})
	require.ErrorContains(t, err, "duplicate orchestrator")
}

func TestDispatcher_Trigger(t *testing.T) {
	h := newHarness(t, v8Profile(),
		[]model.Account{account(1, model.ProviderV8, 5, 0)},
		[]model.Job{pendingJob(1, model.ProviderV8, model.Tags{})},
	)
	d, err := NewDispatcher(DispatcherOptions{Orchestrators: []*Orchestrator{h.orch}, RunTimeout: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, []model.Provider{model.ProviderV8}, d.Providers())

	summary, err := d.Trigger(context.Background(), model.ProviderV8)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	_, err = d.Trigger(context.Background(), model.ProviderPresenca)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDispatcher_RunSchedulesProviders(t *testing.T) {
	h := newHarness(t, v8Profile(),
		[]model.Account{account(1, model.ProviderV8, 5, 0)},
		[]model.Job{pendingJob(1, model.ProviderV8, model.Tags{})},
	)
	d, err := NewDispatcher(DispatcherOptions{
		Orchestrators: []*Orchestrator{h.orch},
		Intervals:     map[model.Provider]time.Duration{model.ProviderV8: time.Hour},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.jobs.get(1).Status == model.JobStatusConsulted
	}, 2*time.Second, 10*time.Millisecond, "first run happens immediately")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_RunWithoutIntervalsIsIdle(t *testing.T) {
	h := newHarness(t, v8Profile(), nil, []model.Job{testutil.NewJob(1, model.ProviderV8, model.Tags{})})
	d, err := NewDispatcher(DispatcherOptions{Orchestrators: []*Orchestrator{h.orch}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, model.JobStatusPending, h.jobs.get(1).Status)
}
