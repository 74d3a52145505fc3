// Package model defines the core data types shared by the consult dispatcher.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a consult job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusHeld is the intake state for jobs not yet released to the queue.
	JobStatusHeld JobStatus = "adicionando"
	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pendente"
	// JobStatusProcessing indicates a run has claimed the job.
	JobStatusProcessing JobStatus = "processando"
	// JobStatusConsulted is the terminal success status for submit/poll providers.
	JobStatusConsulted JobStatus = "consultado"
	// JobStatusCompleted is the terminal success status for multi-step providers.
	JobStatusCompleted JobStatus = "concluido"
	// JobStatusError indicates the job failed and carries the failure message.
	JobStatusError JobStatus = "erro"
)

// ErrNoJobsAvailable is returned when a claim finds nothing to take.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusHeld, JobStatusPending, JobStatusProcessing,
		JobStatusConsulted, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// Terminal reports whether no run will pick the job up again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusConsulted || s == JobStatusCompleted || s == JobStatusError
}

// UnmarshalText implements encoding.TextUnmarshaler for env and query parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", v)
	}
	*s = v
	return nil
}

// Tags carry the ownership data used for multi-tenant routing.
type Tags struct {
	UserID int64  `json:"user_id"           db:"user_id"`
	TeamID int64  `json:"team_id"           db:"team_id"`
	RoleID *int64 `json:"role_id,omitempty" db:"role_id"`
}

// ScopeKey identifies the (user, team) pair for per-tenant bookkeeping.
func (t Tags) ScopeKey() string {
	return fmt.Sprintf("%d|%d", t.UserID, t.TeamID)
}

// Job is one subject's consult request.
type Job struct {
	ID              int64           `json:"id"                          db:"id"`
	Provider        Provider        `json:"provider"                    db:"provider"`
	Subject         Subject         `json:"subject"`
	Tags            Tags            `json:"tags"`
	Status          JobStatus       `json:"status"                      db:"status"`
	Message         *string         `json:"message,omitempty"           db:"message"`
	ForcedAccountID *int64          `json:"forced_account_id,omitempty" db:"forced_account_id"`
	Kind            string          `json:"kind,omitempty"              db:"kind"`
	Result          json.RawMessage `json:"result,omitempty"            db:"result"`
	ResultStatus    *string         `json:"result_status,omitempty"     db:"result_status"`
	ResultValue     *float64        `json:"result_value,omitempty"      db:"result_value"`
	ResultKey       *string         `json:"result_key,omitempty"        db:"result_key"`
	AccountID       *int64          `json:"account_id,omitempty"        db:"account_id"`
	CreatedAt       time.Time       `json:"created_at"                  db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                  db:"updated_at"`
}

// CreateJobRequest enqueues a new consult job.
type CreateJobRequest struct {
	Provider        Provider  `json:"provider"`
	Subject         Subject   `json:"subject"`
	Tags            Tags      `json:"tags"`
	ForcedAccountID *int64    `json:"forced_account_id,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	Status          JobStatus `json:"status,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Provider.Valid() {
		return errors.New("invalid provider")
	}
	if r.Status != "" && r.Status != JobStatusPending && r.Status != JobStatusHeld {
		return errors.New("new jobs must start pending or held")
	}
	return r.Subject.Validate()
}

// ClaimRequest asks for up to Limit pending jobs for one account.
type ClaimRequest struct {
	Provider  Provider
	AccountID int64
	Limit     int
	// PinnedOnly restricts the claim to jobs whose forced account is AccountID.
	PinnedOnly bool
}

// ResultUpdate is the set of fields written when a workflow entry is persisted.
type ResultUpdate struct {
	Subject   Subject
	Status    JobStatus
	Message   *string
	Entry     ResultEntry
	AccountID *int64
}

// ReleaseScope selects held jobs to move into the pending queue.
type ReleaseScope struct {
	Provider Provider
	Tags     Tags
	IDs      []int64
	Kind     string
}
