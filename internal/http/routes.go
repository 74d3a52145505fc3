package httpx

import (
	"log/slog"
	"net/http"

	"github.com/consultaflow/dispatcher/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Runs     service.RunTrigger // Optional: run routes are not registered when nil
	Jobs     JobIntake          // Required
	Accounts AccountAdmin       // Optional
	// Checks back GET /readyz.
	Checks map[string]HealthCheck
	// APIToken guards every /api route; empty disables the guard.
	APIToken  string
	ListLimit int
	Logger    *slog.Logger
}

// NewRouter creates and configures the HTTP router. Health routes are never
// behind the token guard.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	listLimit := services.ListLimit
	if listLimit <= 0 {
		listLimit = 1000
	}

	api := http.NewServeMux()
	registerJobRoutes(api, &JobHandlers{Svc: services.Jobs, ListLimit: listLimit, Logger: logger})
	if services.Runs != nil {
		registerRunRoutes(api, &RunHandlers{Svc: services.Runs, Logger: logger})
	}
	if services.Accounts != nil {
		registerAccountRoutes(api, &AccountHandlers{Svc: services.Accounts, Logger: logger})
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", RequireToken(services.APIToken)(api))
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Checks))
	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("POST /api/jobs/batch", h.CreateBatch)
	mux.HandleFunc("DELETE /api/jobs/batch", h.DeleteBatch)
	mux.HandleFunc("POST /api/jobs/release", h.Release)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/counts", h.Counts)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("GET /api/providers", h.Providers)
	mux.HandleFunc("POST /api/runs/{provider}", h.Trigger)
}

func registerAccountRoutes(mux *http.ServeMux, h *AccountHandlers) {
	mux.HandleFunc("POST /api/accounts", h.CreateAccount)
	mux.HandleFunc("GET /api/accounts", h.ListAccounts)
}
