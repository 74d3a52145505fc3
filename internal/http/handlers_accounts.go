package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// AccountAdmin registers and lists provider accounts. *service.IntakeService satisfies it.
type AccountAdmin interface {
	CreateAccount(ctx context.Context, req *model.CreateAccountRequest) (*model.Account, error)
	ListAccounts(ctx context.Context, provider model.Provider) ([]model.Account, error)
}

// AccountHandlers provides HTTP handlers for provider accounts.
type AccountHandlers struct {
	Svc    AccountAdmin
	Logger *slog.Logger
}

// createAccountRequest carries the secret fields that model.Credential keeps
// out of JSON.
type createAccountRequest struct {
	Provider   model.Provider `json:"provider"`
	Label      string         `json:"label"`
	Login      string         `json:"login,omitempty"`
	Secret     string         `json:"secret,omitempty"`
	Token      string         `json:"token,omitempty"`
	DailyLimit int            `json:"daily_limit"`
}

// CreateAccount registers an account. Secrets are never echoed back.
func (h *AccountHandlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	acc, err := h.Svc.CreateAccount(r.Context(), &model.CreateAccountRequest{
		Provider: req.Provider,
		Label:    strings.TrimSpace(req.Label),
		Credential: model.Credential{
			Login:  strings.TrimSpace(req.Login),
			Secret: req.Secret,
			Token:  strings.TrimSpace(req.Token),
		},
		DailyLimit: req.DailyLimit,
	})
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, acc)
}

// ListAccounts returns the accounts of the provider query param.
func (h *AccountHandlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	provider, err := parseProvider(r.URL.Query().Get("provider"))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	accounts, err := h.Svc.ListAccounts(r.Context(), provider)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	WriteJSON(w, http.StatusOK, accounts)
}
