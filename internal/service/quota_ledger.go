package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/quota"
)

// QuotaLedgerOptions groups dependencies for QuotaLedger.
type QuotaLedgerOptions struct {
	Accounts core.AccountStore // Required
	Clock    core.Clock        // Optional: defaults to wall clock in UTC
	Logger   *slog.Logger      // Optional
}

// QuotaLedger loads accounts with their quota windows rolled forward and
// records consumption.
type QuotaLedger struct {
	accounts core.AccountStore
	clock    core.Clock
	logger   *slog.Logger
}

// NewQuotaLedger constructs a QuotaLedger.
func NewQuotaLedger(opts QuotaLedgerOptions) (*QuotaLedger, error) {
	if opts.Accounts == nil {
		return nil, errors.New("AccountStore is required")
	}
	return &QuotaLedger{
		accounts: opts.Accounts,
		clock:    clockOrDefault(opts.Clock),
		logger:   loggerOrDefault(opts.Logger).With("component", "quota_ledger"),
	}, nil
}

// LedgerSnapshot is the account pool of one run.
type LedgerSnapshot struct {
	// All lists every account of the provider, id ascending, after resets.
	All []model.Account
	// Eligible lists the accounts that may receive jobs, id ascending.
	Eligible []model.Account
}

// Capacity sums the remaining quota of the eligible accounts.
func (s LedgerSnapshot) Capacity() int {
	n := 0
	for _, acc := range s.Eligible {
		n += acc.Remaining()
	}
	return n
}

// LoadAccounts reads the provider's accounts, resets exhausted counters whose
// window has elapsed and filters out accounts without capacity or credential.
// Two concurrent runs may both reset an account; the write is absolute so the
// second reset changes nothing.
func (l *QuotaLedger) LoadAccounts(ctx context.Context, provider model.Provider, policy quota.Policy) (LedgerSnapshot, error) {
	accounts, err := l.accounts.ListByProvider(ctx, provider)
	if err != nil {
		return LedgerSnapshot{}, fmt.Errorf("list accounts: %w", err)
	}

	now := l.clock.Now()
	snap := LedgerSnapshot{All: make([]model.Account, 0, len(accounts))}
	for _, acc := range accounts {
		acc = policy.Normalize(acc)
		if policy.ShouldReset(acc, now) {
			if err = l.accounts.ResetCounter(ctx, acc.ID, now); err != nil {
				return LedgerSnapshot{}, fmt.Errorf("reset account %d: %w", acc.ID, err)
			}
			l.logger.InfoContext(ctx, "account quota reset",
				"provider", provider,
				"account_id", acc.ID,
				"consumed", acc.Consumed,
				"daily_limit", acc.DailyLimit,
			)
			acc.Consumed = 0
			at := now
			acc.LastResetAt = &at
		}
		snap.All = append(snap.All, acc)
		if policy.Eligible(acc) {
			snap.Eligible = append(snap.Eligible, acc)
		}
	}
	return snap, nil
}

// Record consumes one unit of accountID's quota when policy charges for
// outcome. It reports whether the counter moved.
func (l *QuotaLedger) Record(ctx context.Context, accountID int64, policy quota.Policy, outcome quota.Outcome) (bool, error) {
	if !policy.Increment.ShouldIncrement(outcome) {
		return false, nil
	}
	err := l.accounts.Increment(ctx, core.IncrementParams{
		AccountID: accountID,
		Clamp:     policy.ClampIncrement,
		At:        l.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("increment account %d: %w", accountID, err)
	}
	return true, nil
}
