// Package allocation distributes pending jobs across accounts with quota.
package allocation

import (
	"slices"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// AccessPolicy restricts which accounts a job's (user, team) may use.
// A nil *AccessPolicy allows every account.
type AccessPolicy struct {
	// SuperuserID bypasses every restriction. Zero disables it.
	SuperuserID int64
	// UserAccounts pins specific users to one exclusive account.
	UserAccounts map[int64]int64
	// TeamIDs share the TeamAccounts whitelist.
	TeamIDs      []int64
	TeamAccounts []int64
	// Reserved accounts are carved out of the general pool.
	Reserved []int64
}

// Allowed reports whether tags may route to accountID.
func (p *AccessPolicy) Allowed(tags model.Tags, accountID int64) bool {
	if p == nil {
		return true
	}
	if p.SuperuserID != 0 && tags.UserID == p.SuperuserID {
		return true
	}
	if exclusive, ok := p.UserAccounts[tags.UserID]; ok {
		return accountID == exclusive
	}
	if slices.Contains(p.TeamIDs, tags.TeamID) {
		return slices.Contains(p.TeamAccounts, accountID)
	}
	return !slices.Contains(p.Reserved, accountID)
}
