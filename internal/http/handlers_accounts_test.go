package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/mocks"
	"github.com/consultaflow/dispatcher/internal/service"
)

func newAccountHandlers(t *testing.T, withRegistry bool) (*AccountHandlers, *mocks.MockAccountRegistry) {
	t.Helper()
	ctrl := gomock.NewController(t)
	opts := service.IntakeServiceOptions{Jobs: mocks.NewMockJobStore(ctrl)}
	var registry *mocks.MockAccountRegistry
	if withRegistry {
		registry = mocks.NewMockAccountRegistry(ctrl)
		opts.Accounts = registry
	}
	svc, err := service.NewIntakeService(opts)
	require.NoError(t, err)
	return &AccountHandlers{Svc: svc}, registry
}

func TestCreateAccount(t *testing.T) {
	h, registry := newAccountHandlers(t, true)
	registry.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateAccountRequest) (*model.Account, error) {
			assert.Equal(t, "loja-1", req.Label)
			assert.Equal(t, "s3cret", req.Credential.Secret)
			return &model.Account{
				ID: 3, Provider: req.Provider, Label: req.Label, Credential: req.Credential, DailyLimit: req.DailyLimit,
			}, nil
		})

	w := httptest.NewRecorder()
	h.CreateAccount(w, httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(
		`{"provider":"v8","label":" loja-1 ","login":"ops@example.com","secret":"s3cret","daily_limit":50}`)))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")
	assert.Contains(t, w.Body.String(), `"login":"ops@example.com"`)
}

func TestCreateAccount_Validation(t *testing.T) {
	h, _ := newAccountHandlers(t, true)

	w := httptest.NewRecorder()
	h.CreateAccount(w, httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader(
		`{"provider":"v8","label":"x","login":"only-login"}`)))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decodeError(t, w).Error)
}

func TestAccounts_Disabled(t *testing.T) {
	h, _ := newAccountHandlers(t, false)

	w := httptest.NewRecorder()
	h.ListAccounts(w, httptest.NewRequest(http.MethodGet, "/api/accounts?provider=v8", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestListAccounts(t *testing.T) {
	h, registry := newAccountHandlers(t, true)
	registry.EXPECT().ListByProvider(gomock.Any(), model.ProviderHandmais).Return(nil, nil)

	w := httptest.NewRecorder()
	h.ListAccounts(w, httptest.NewRequest(http.MethodGet, "/api/accounts?provider=handmais", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
