package model

import (
	"sort"
	"sync"
	"time"
)

// AccountSummary is the per-account breakdown of a run.
type AccountSummary struct {
	ID             int64  `json:"id"`
	Label          string `json:"label"`
	RemainingStart int    `json:"limite_restante_inicio"`
	Allocated      int    `json:"clientes_alocados"`
	Processed      int    `json:"clientes_processados"`
	Errored        int    `json:"clientes_erro"`
	Duplicates     int    `json:"duplicados_criados"`
	AuthError      string `json:"erro_token,omitempty"`
	LockBusy       bool   `json:"lock_busy"`
}

// RunSummary is the externally observed result of one orchestrator run.
// Field names are kept stable for existing monitoring.
type RunSummary struct {
	OK                bool              `json:"ok"`
	Message           string            `json:"message,omitempty"`
	Provider          Provider          `json:"provider"`
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	DurationMS        int64             `json:"duration_ms"`
	TotalAccounts     int               `json:"total_logins"`
	AccountsWithQuota int               `json:"logins_com_limite"`
	AccountsBusy      int               `json:"logins_bloqueados"`
	PendingFound      int               `json:"pendentes_encontrados"`
	Allocated         int               `json:"clientes_distribuidos"`
	Processed         int               `json:"clientes_processados"`
	Errored           int               `json:"clientes_erro"`
	DuplicatesCreated int               `json:"duplicados_criados"`
	Accounts          []*AccountSummary `json:"logins"`

	mu        sync.Mutex
	accountBy map[int64]*AccountSummary
}

// NewRunSummary starts a summary for a run.
func NewRunSummary(provider Provider, runID string, started time.Time) *RunSummary {
	return &RunSummary{
		OK:        true,
		Provider:  provider,
		RunID:     runID,
		StartedAt: started,
		Accounts:  []*AccountSummary{},
		accountBy: map[int64]*AccountSummary{},
	}
}

// Account returns the breakdown entry for acc, creating it on first use.
func (s *RunSummary) Account(acc Account) *AccountSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if as, ok := s.accountBy[acc.ID]; ok {
		return as
	}
	as := &AccountSummary{ID: acc.ID, Label: acc.Label, RemainingStart: acc.Remaining()}
	s.accountBy[acc.ID] = as
	s.Accounts = append(s.Accounts, as)
	return as
}

// Update applies fn to the summary under its lock. Workers running in
// parallel must mutate counters through Update.
func (s *RunSummary) Update(fn func(*RunSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Fail marks the run as failed.
func (s *RunSummary) Fail(message string) {
	s.Update(func(rs *RunSummary) {
		rs.OK = false
		rs.Message = message
	})
}

// Finish stamps the end time and sorts the breakdown by account id.
func (s *RunSummary) Finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = now
	s.DurationMS = now.Sub(s.StartedAt).Milliseconds()
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].ID < s.Accounts[j].ID })
}
