package workflow

import (
	"errors"
	"fmt"
)

// State is a step of the per-job workflow.
type State string

const (
	StateInit             State = "init"
	StateAuthenticated    State = "authenticated"
	StateSubmitted        State = "submitted"
	StateAwaitingApproval State = "awaiting_approval"
	StatePolling          State = "polling"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal reports whether the machine has stopped.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureInvalidSubject FailureKind = "invalid_subject"
	FailureAuth           FailureKind = "auth"
	FailureSubmission     FailureKind = "submission"
	FailureApproval       FailureKind = "approval"
	FailureExhausted      FailureKind = "exhausted"
	FailureEmpty          FailureKind = "empty"
)

// Failure is the error a failed job ends with.
type Failure struct {
	Kind    FailureKind
	Message string
	Cause   error
	// AccountLevel is set when every remaining job of the account must fail too.
	AccountLevel bool
}

func (f *Failure) Error() string {
	if f.Cause != nil && f.Message == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Cause)
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Cause }

// ErrorClass tags metrics with the failure kind.
func (f *Failure) ErrorClass() string { return "workflow_" + string(f.Kind) }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func fail(kind FailureKind, cause error, format string, args ...any) *Failure {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = msg + ": " + NormalizeMessage(cause.Error())
	}
	return &Failure{Kind: kind, Message: msg, Cause: cause}
}
