package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/consultaflow/dispatcher/internal/service"
)

// RunHandlers triggers consult runs on demand.
type RunHandlers struct {
	Svc    service.RunTrigger
	Logger *slog.Logger
}

// Trigger performs one run of the {provider} path value and answers with its
// summary. A run already in progress is 409 and any other failure 500; both
// still carry the summary so callers see what happened.
func (h *RunHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	provider, err := parseProvider(r.PathValue("provider"))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	summary, err := h.Svc.Trigger(r.Context(), provider)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, summary)
	case summary == nil:
		RenderError(w, r, h.Logger, err)
	case errors.Is(err, service.ErrRunInProgress):
		WriteJSON(w, http.StatusConflict, summary)
	default:
		WriteJSON(w, http.StatusInternalServerError, summary)
	}
}

// Providers lists the providers that can be triggered.
func (h *RunHandlers) Providers(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"providers": h.Svc.Providers()})
}
