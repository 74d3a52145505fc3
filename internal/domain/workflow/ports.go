// Package workflow drives one consult job through an external provider:
// authenticate, submit, optional approval, bounded polling.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// ErrInvalidCredential marks an authentication failure shared by every job of
// an account. Adapters wrap it; the runner detects it with errors.Is.
var ErrInvalidCredential = errors.New("invalid credential")

// AuthProvider exchanges an account credential for a session token.
type AuthProvider interface {
	Login(ctx context.Context, cred model.Credential) (string, error)
}

// Submission is what a provider returned for a new operation request.
type Submission struct {
	// Ref identifies the operation for polling; may be empty when the provider
	// polls by subject.
	Ref string
	// Duplicate is set when the provider reported the operation already exists.
	Duplicate bool
	// Accepted is set once the provider committed to the operation; quota
	// policies that charge on acceptance key off this.
	Accepted bool
	// ApprovalURL is set when an out-of-band consent step is required.
	ApprovalURL string
	// Entries are results already available at submit time.
	Entries []model.RawEntry
}

// WorkflowProvider runs the provider-specific steps of a consult.
type WorkflowProvider interface {
	Submit(ctx context.Context, token string, subject model.Subject) (Submission, error)
	Poll(ctx context.Context, token string, subject model.Subject, ref string) ([]model.RawEntry, error)
	// Normalize maps one raw payload item to a ResultEntry; false drops it.
	Normalize(raw model.RawEntry) (model.ResultEntry, bool)
}

// Approver confirms an out-of-band consent URL.
type Approver interface {
	Approve(ctx context.Context, url string, subject model.Subject) (bool, error)
}

// Sleeper pauses between poll attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on the wall clock and wakes early on cancellation.
type RealSleeper struct{}

// Sleep waits for d or until ctx is done.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
