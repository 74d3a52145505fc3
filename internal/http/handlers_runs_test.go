package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/service"
	"github.com/consultaflow/dispatcher/internal/testutil"
)

type fakeTrigger struct {
	summary *model.RunSummary
	err     error
	got     model.Provider
}

func (f *fakeTrigger) Trigger(_ context.Context, p model.Provider) (*model.RunSummary, error) {
	f.got = p
	return f.summary, f.err
}

func (f *fakeTrigger) Providers() []model.Provider {
	return []model.Provider{model.ProviderHandmais, model.ProviderV8}
}

func triggerRequest(provider string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/runs/"+provider, nil)
	r.SetPathValue("provider", provider)
	return r
}

func TestTrigger(t *testing.T) {
	busy := model.NewRunSummary(model.ProviderV8, "run-2", testutil.TestTime())
	busy.Fail(service.ErrRunInProgress.Error())

	failed := model.NewRunSummary(model.ProviderV8, "run-3", testutil.TestTime())
	failed.Fail("load accounts: boom")

	tests := []struct {
		name     string
		provider string
		trigger  *fakeTrigger
		want     int
		wantOK   bool
	}{
		{
			name:     "success",
			provider: "v8",
			trigger:  &fakeTrigger{summary: model.NewRunSummary(model.ProviderV8, "run-1", testutil.TestTime())},
			want:     http.StatusOK,
			wantOK:   true,
		},
		{
			name:     "run in progress",
			provider: "v8",
			trigger:  &fakeTrigger{summary: busy, err: service.ErrRunInProgress},
			want:     http.StatusConflict,
		},
		{
			name:     "run failed",
			provider: "v8",
			trigger:  &fakeTrigger{summary: failed, err: errors.New("load accounts: boom")},
			want:     http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &RunHandlers{Svc: tt.trigger}
			w := httptest.NewRecorder()
			h.Trigger(w, triggerRequest(tt.provider))

			require.Equal(t, tt.want, w.Code)
			var got map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, tt.wantOK, got["ok"])
			assert.Equal(t, "v8", got["provider"])
			assert.Contains(t, got, "logins")
			assert.Equal(t, model.ProviderV8, tt.trigger.got)
		})
	}
}

func TestTrigger_UnknownProvider(t *testing.T) {
	h := &RunHandlers{Svc: &fakeTrigger{}}
	w := httptest.NewRecorder()
	h.Trigger(w, triggerRequest("acme"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = &RunHandlers{Svc: &fakeTrigger{err: fmt.Errorf("%w: %q", service.ErrUnknownProvider, "presenca")}}
	w = httptest.NewRecorder()
	h.Trigger(w, triggerRequest("presenca"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_provider", decodeError(t, w).Error)
}

func TestProviders(t *testing.T) {
	h := &RunHandlers{Svc: &fakeTrigger{}}
	w := httptest.NewRecorder()
	h.Providers(w, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["handmais","v8"]}`, w.Body.String())
}
