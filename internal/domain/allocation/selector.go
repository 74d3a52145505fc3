package allocation

import (
	"fmt"
	"strings"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// Strategy selects how a provider's jobs reach accounts.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Strategy string

const (
	// StrategyForcedRoundRobin honors forced pins, then rotates a global pointer.
	StrategyForcedRoundRobin Strategy = "forced_round_robin"
	// StrategyTenantRoundRobin restricts candidates per (user, team) and keeps a pointer per scope.
	StrategyTenantRoundRobin Strategy = "tenant_round_robin"
	// StrategyPinnedClaim skips up-front allocation; each account claims its own pinned jobs.
	StrategyPinnedClaim Strategy = "pinned_claim"
)

// Valid returns true if the strategy is known.
func (s Strategy) Valid() bool {
	return s == StrategyForcedRoundRobin || s == StrategyTenantRoundRobin || s == StrategyPinnedClaim
}

// Preallocates reports whether jobs are assigned before any claim happens.
func (s Strategy) Preallocates() bool {
	return s != StrategyPinnedClaim
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (s *Strategy) UnmarshalText(text []byte) error {
	v := Strategy(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid allocation Strategy: %q", v)
	}
	*s = v
	return nil
}

// Selector computes a deterministic one-to-one allocation of jobs to accounts.
type Selector struct {
	// Access restricts candidates per job; nil means unrestricted.
	Access *AccessPolicy
}

// Allocate assigns jobs (oldest first) to accounts (id ascending).
//
// A job pinned to an account that still has capacity goes there. Otherwise a
// rotating pointer, starting at 0, scans the job's candidate accounts for the
// next one with capacity and moves past it. Jobs left over when no account has
// capacity stay pending. The returned allocation lists every input account in
// order, including those that received nothing.
func (s Selector) Allocate(accounts []model.Account, jobs []model.Job) model.Allocation {
	out := make(model.Allocation, len(accounts))
	remaining := make([]int, len(accounts))
	indexByID := make(map[int64]int, len(accounts))
	total := 0
	for i, acc := range accounts {
		out[i] = model.AccountAllocation{Account: acc}
		remaining[i] = acc.Remaining()
		indexByID[acc.ID] = i
		total += remaining[i]
	}

	pointers := map[string]int{}
	for _, job := range jobs {
		if total == 0 {
			break
		}
		candidates := s.candidates(accounts, job.Tags)
		if len(candidates) == 0 {
			continue
		}

		idx := s.forcedIndex(job, indexByID, remaining)
		if idx < 0 {
			idx = s.roundRobin(job.Tags, candidates, remaining, pointers)
		}
		if idx < 0 {
			continue
		}

		out[idx].Jobs = append(out[idx].Jobs, job)
		remaining[idx]--
		total--
	}
	return out
}

func (s Selector) candidates(accounts []model.Account, tags model.Tags) []int {
	idx := make([]int, 0, len(accounts))
	for i, acc := range accounts {
		if s.Access.Allowed(tags, acc.ID) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s Selector) forcedIndex(job model.Job, indexByID map[int64]int, remaining []int) int {
	if job.ForcedAccountID == nil {
		return -1
	}
	i, ok := indexByID[*job.ForcedAccountID]
	if !ok || remaining[i] <= 0 {
		return -1
	}
	if !s.Access.Allowed(job.Tags, *job.ForcedAccountID) {
		return -1
	}
	return i
}

func (s Selector) roundRobin(tags model.Tags, candidates, remaining []int, pointers map[string]int) int {
	key := ""
	if s.Access != nil {
		key = tags.ScopeKey()
	}
	n := len(candidates)
	start := pointers[key] % n
	for k := range n {
		pos := (start + k) % n
		if i := candidates[pos]; remaining[i] > 0 {
			pointers[key] = (pos + 1) % n
			return i
		}
	}
	return -1
}
