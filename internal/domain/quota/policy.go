// Package quota holds the pure rules for account quota windows and consumption.
package quota

import (
	"fmt"
	"strings"
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// IncrementPolicy decides when a processed job consumes account quota.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type IncrementPolicy string

const (
	// IncrementAlways consumes quota for every attempted job, success or error.
	IncrementAlways IncrementPolicy = "always"
	// IncrementOnSuccess consumes quota only when the job produced a result.
	IncrementOnSuccess IncrementPolicy = "on_success"
	// IncrementOnAccept consumes quota once the provider accepted the operation,
	// even if polling later fails.
	IncrementOnAccept IncrementPolicy = "on_accept"
)

// Valid returns true if the policy is known.
func (p IncrementPolicy) Valid() bool {
	return p == IncrementAlways || p == IncrementOnSuccess || p == IncrementOnAccept
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (p *IncrementPolicy) UnmarshalText(text []byte) error {
	v := IncrementPolicy(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid IncrementPolicy: %q", v)
	}
	*p = v
	return nil
}

// Outcome is what the runner observed for one job, as far as quota cares.
type Outcome struct {
	Accepted  bool
	Succeeded bool
}

// ShouldIncrement applies the policy to an outcome.
func (p IncrementPolicy) ShouldIncrement(o Outcome) bool {
	switch p {
	case IncrementAlways:
		return true
	case IncrementOnSuccess:
		return o.Succeeded
	case IncrementOnAccept:
		return o.Accepted
	}
	return false
}

// Policy is the provider's quota configuration.
type Policy struct {
	ResetWindow  time.Duration
	DefaultLimit int
	// ClampIncrement keeps consumed from exceeding the daily limit.
	ClampIncrement bool
	Increment      IncrementPolicy
}

// Normalize fills DailyLimit from the default when the stored value is unset.
func (p Policy) Normalize(acc model.Account) model.Account {
	acc.DailyLimit = acc.EffectiveLimit(p.DefaultLimit)
	return acc
}

// ShouldReset reports whether acc's counter must be zeroed at now.
// An account that has not exhausted its limit is never reset.
func (p Policy) ShouldReset(acc model.Account, now time.Time) bool {
	if acc.DailyLimit <= 0 || acc.Consumed < acc.DailyLimit {
		return false
	}
	if acc.LastResetAt == nil {
		return true
	}
	return now.Sub(*acc.LastResetAt) >= p.ResetWindow
}

// Eligible reports whether acc may receive jobs this run.
func (p Policy) Eligible(acc model.Account) bool {
	return acc.HasCredential() && acc.Remaining() > 0
}
