package model

import (
	"errors"
	"strings"
	"time"
)

// Credential is the opaque secret used to open a provider session.
type Credential struct {
	Login  string `json:"login"`
	Secret string `json:"-"`
	// Token is a pre-issued API token; providers that use it ignore Login/Secret.
	Token string `json:"-"`
}

// Empty reports whether the credential cannot authenticate anything.
func (c Credential) Empty() bool {
	if strings.TrimSpace(c.Token) != "" {
		return false
	}
	return strings.TrimSpace(c.Login) == "" || strings.TrimSpace(c.Secret) == ""
}

// Account is a credential-bound provider identity with a rotating quota.
type Account struct {
	ID          int64      `json:"id"                      db:"id"`
	Provider    Provider   `json:"provider"                db:"provider"`
	Label       string     `json:"label"                   db:"label"`
	Credential  Credential `json:"credential"`
	DailyLimit  int        `json:"daily_limit"             db:"daily_limit"`
	Consumed    int        `json:"consumed"                db:"consumed"`
	LastResetAt *time.Time `json:"last_reset_at,omitempty" db:"last_reset_at"`
	UpdatedAt   time.Time  `json:"updated_at"              db:"updated_at"`
}

// Remaining returns max(0, DailyLimit-Consumed).
func (a Account) Remaining() int {
	if r := a.DailyLimit - a.Consumed; r > 0 {
		return r
	}
	return 0
}

// HasCredential reports whether the account can authenticate.
func (a Account) HasCredential() bool {
	return !a.Credential.Empty()
}

// EffectiveLimit returns DailyLimit, or def when the stored limit is unset.
func (a Account) EffectiveLimit(def int) int {
	if a.DailyLimit > 0 {
		return a.DailyLimit
	}
	return def
}

// CreateAccountRequest registers a provider account.
type CreateAccountRequest struct {
	Provider   Provider   `json:"provider"`
	Label      string     `json:"label"`
	Credential Credential `json:"credential"`
	DailyLimit int        `json:"daily_limit"`
}

// Validate checks the CreateAccountRequest fields.
func (r *CreateAccountRequest) Validate() error {
	if !r.Provider.Valid() {
		return errors.New("invalid provider")
	}
	if strings.TrimSpace(r.Label) == "" {
		return errors.New("label is required")
	}
	if r.Credential.Empty() {
		return errors.New("credential requires a token or login and secret")
	}
	if r.DailyLimit < 0 {
		return errors.New("daily limit cannot be negative")
	}
	return nil
}

// AccountAllocation is one account's share of a run.
type AccountAllocation struct {
	Account Account
	Jobs    []Job
}

// Allocation is the per-run mapping of accounts to ordered jobs. It is never persisted.
type Allocation []AccountAllocation

// For returns the jobs allocated to accountID.
func (a Allocation) For(accountID int64) []Job {
	for _, aa := range a {
		if aa.Account.ID == accountID {
			return aa.Jobs
		}
	}
	return nil
}

// JobCount returns the total number of allocated jobs.
func (a Allocation) JobCount() int {
	n := 0
	for _, aa := range a {
		n += len(aa.Jobs)
	}
	return n
}
