// Package httpx provides the HTTP API of the consult dispatcher: run triggers,
// job intake and account management.
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	apperrors "github.com/consultaflow/dispatcher/internal/errors"
)

// JobIntake is the job queue surface used by the handlers. *service.IntakeService satisfies it.
type JobIntake interface {
	Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	EnqueueBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]int64, error)
	Get(ctx context.Context, id int64) (*model.Job, error)
	List(ctx context.Context, params core.ListJobsParams) ([]model.Job, error)
	Counts(ctx context.Context, provider model.Provider) (map[model.JobStatus]int64, error)
	Release(ctx context.Context, scope model.ReleaseScope) (int64, error)
	DeleteBatch(ctx context.Context, params core.DeleteBatchParams) (int64, error)
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc       JobIntake
	ListLimit int
	Logger    *slog.Logger
}

// CreateJob enqueues one job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Enqueue(r.Context(), &req)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

type batchRequest struct {
	Jobs []model.CreateJobRequest `json:"jobs"`
}

type batchResponse struct {
	IDs   []int64 `json:"ids"`
	Count int     `json:"count"`
}

// CreateBatch enqueues every job of the body or none.
func (h *JobHandlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	ids, err := h.Svc.EnqueueBatch(r.Context(), req.Jobs)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, batchResponse{IDs: ids, Count: len(ids)})
}

// GetJob returns one job by id.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDPath(r)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	job, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandlers) listParams(r *http.Request) (core.ListJobsParams, error) {
	q := r.URL.Query()
	provider, err := parseOptionalProvider(q.Get("provider"))
	if err != nil {
		return core.ListJobsParams{}, err
	}
	params := core.ListJobsParams{
		Provider:   provider,
		NationalID: strings.TrimSpace(q.Get("national_id")),
		Name:       strings.TrimSpace(q.Get("name")),
		Limit:      ParseLimit(r, h.ListLimit, h.ListLimit),
	}
	if raw := q.Get("status"); raw != "" {
		if err = params.Status.UnmarshalText([]byte(raw)); err != nil {
			return params, apperrors.ValidationField("status", err.Error())
		}
	}
	if params.UserID, err = parseInt64Query(r, "user_id"); err != nil {
		return params, err
	}
	return params, nil
}

// ListJobs returns jobs newest first, filtered by the query string.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	params, err := h.listParams(r)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	jobs, err := h.Svc.List(r.Context(), params)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Counts returns job counts per status for the provider query param.
func (h *JobHandlers) Counts(w http.ResponseWriter, r *http.Request) {
	provider, err := parseProvider(r.URL.Query().Get("provider"))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	counts, err := h.Svc.Counts(r.Context(), provider)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"provider": provider, "counts": counts})
}

type releaseRequest struct {
	Provider model.Provider `json:"provider"`
	UserID   int64          `json:"user_id"`
	TeamID   int64          `json:"team_id"`
	IDs      []int64        `json:"ids,omitempty"`
	Kind     string         `json:"kind,omitempty"`
}

// Release moves held jobs of one owner scope into the pending queue.
func (h *JobHandlers) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	n, err := h.Svc.Release(r.Context(), model.ReleaseScope{
		Provider: req.Provider,
		Tags:     model.Tags{UserID: req.UserID, TeamID: req.TeamID},
		IDs:      req.IDs,
		Kind:     strings.TrimSpace(req.Kind),
	})
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"released": n})
}

// DeleteBatch removes a batch of jobs selected by provider, kind and owner.
func (h *JobHandlers) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider, err := parseProvider(q.Get("provider"))
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	params := core.DeleteBatchParams{Provider: provider, Kind: strings.TrimSpace(q.Get("kind"))}
	if params.Kind == "" {
		RenderError(w, r, h.Logger, apperrors.ValidationField("kind", "kind is required"))
		return
	}
	if params.UserID, err = parseInt64Query(r, "user_id"); err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if params.TeamID, err = parseInt64Query(r, "team_id"); err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	n, err := h.Svc.DeleteBatch(r.Context(), params)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
