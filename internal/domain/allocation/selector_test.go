package allocation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

func acct(id int64, remaining int) model.Account {
	return model.Account{
		ID:         id,
		DailyLimit: remaining,
		Credential: model.Credential{Token: "tok"},
	}
}

func job(id int64, forced *int64) model.Job {
	return model.Job{ID: id, ForcedAccountID: forced}
}

func ptr(v int64) *int64 { return &v }

func ids(jobs []model.Job) []int64 {
	out := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestSelector_ForcedAndRoundRobinScenario(t *testing.T) {
	accounts := []model.Account{acct(1, 1), acct(2, 3)}
	jobs := []model.Job{job(101, ptr(2)), job(102, nil), job(103, nil)}

	alloc := Selector{}.Allocate(accounts, jobs)

	require.Len(t, alloc, 2)
	assert.Equal(t, []int64{102}, ids(alloc.For(1)))
	assert.Equal(t, []int64{101, 103}, ids(alloc.For(2)))
}

func TestSelector_ForcedPinAlwaysWins(t *testing.T) {
	accounts := []model.Account{acct(1, 5), acct(2, 5), acct(3, 5)}
	jobs := []model.Job{job(1, ptr(3)), job(2, ptr(3)), job(3, ptr(3))}

	alloc := Selector{}.Allocate(accounts, jobs)

	assert.Empty(t, alloc.For(1))
	assert.Empty(t, alloc.For(2))
	assert.Equal(t, []int64{1, 2, 3}, ids(alloc.For(3)))
}

func TestSelector_ExhaustedPinFallsThrough(t *testing.T) {
	accounts := []model.Account{acct(1, 2), acct(2, 0)}
	jobs := []model.Job{job(1, ptr(2)), job(2, ptr(99))}

	alloc := Selector{}.Allocate(accounts, jobs)

	assert.Equal(t, []int64{1, 2}, ids(alloc.For(1)))
	assert.Empty(t, alloc.For(2))
}

func TestSelector_StopsWhenNoCapacity(t *testing.T) {
	accounts := []model.Account{acct(1, 1), acct(2, 1)}
	jobs := []model.Job{job(1, nil), job(2, nil), job(3, nil), job(4, nil)}

	alloc := Selector{}.Allocate(accounts, jobs)

	assert.Equal(t, 2, alloc.JobCount())
	assert.Equal(t, []int64{1}, ids(alloc.For(1)))
	assert.Equal(t, []int64{2}, ids(alloc.For(2)))
}

func TestSelector_QuotaConservation(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for round := range 200 {
		var accounts []model.Account
		for i := range r.IntN(5) + 1 {
			accounts = append(accounts, acct(int64(i+1), r.IntN(4)))
		}
		var jobs []model.Job
		for i := range r.IntN(20) {
			var forced *int64
			if r.IntN(3) == 0 {
				forced = ptr(int64(r.IntN(7)))
			}
			jobs = append(jobs, job(int64(i+1), forced))
		}

		alloc := Selector{}.Allocate(accounts, jobs)

		seen := map[int64]bool{}
		capacity := 0
		for i, aa := range alloc {
			capacity += accounts[i].Remaining()
			assert.LessOrEqual(t, len(aa.Jobs), accounts[i].Remaining(), "round %d account %d", round, aa.Account.ID)
			for _, j := range aa.Jobs {
				assert.False(t, seen[j.ID], "job %d allocated twice", j.ID)
				seen[j.ID] = true
			}
		}
		assert.Equal(t, min(capacity, len(jobs)), alloc.JobCount(), "round %d", round)
	}
}

func TestSelector_TenantRestriction(t *testing.T) {
	policy := &AccessPolicy{
		SuperuserID:  1,
		UserAccounts: map[int64]int64{4354: 13},
		TeamIDs:      []int64{1011},
		TeamAccounts: []int64{14, 15},
		Reserved:     []int64{12, 13, 16},
	}
	accounts := []model.Account{acct(12, 5), acct(13, 5), acct(14, 5), acct(15, 5), acct(20, 5)}

	special := model.Job{ID: 1, Tags: model.Tags{UserID: 4354, TeamID: 7}}
	team := model.Job{ID: 2, Tags: model.Tags{UserID: 50, TeamID: 1011}}
	general := model.Job{ID: 3, Tags: model.Tags{UserID: 51, TeamID: 8}}
	pinnedElsewhere := model.Job{ID: 4, Tags: model.Tags{UserID: 52, TeamID: 8}, ForcedAccountID: ptr(12)}
	super := model.Job{ID: 5, Tags: model.Tags{UserID: 1, TeamID: 8}, ForcedAccountID: ptr(12)}

	alloc := Selector{Access: policy}.Allocate(accounts, []model.Job{special, team, general, pinnedElsewhere, super})

	assert.Equal(t, []int64{1}, ids(alloc.For(13)))
	assert.Equal(t, []int64{5}, ids(alloc.For(12)))
	// A pin outside the allowed set is ignored; general users rotate over 14, 15 and 20.
	assert.Equal(t, []int64{2, 3, 4}, ids(alloc.For(14)))
	assert.Empty(t, alloc.For(15))
	assert.Empty(t, alloc.For(20))
}

func TestSelector_JobWithNoAllowedAccountIsSkipped(t *testing.T) {
	policy := &AccessPolicy{UserAccounts: map[int64]int64{9: 99}}
	accounts := []model.Account{acct(1, 1)}
	jobs := []model.Job{
		{ID: 1, Tags: model.Tags{UserID: 9}},
		{ID: 2, Tags: model.Tags{UserID: 10}},
	}

	alloc := Selector{Access: policy}.Allocate(accounts, jobs)

	assert.Equal(t, []int64{2}, ids(alloc.For(1)))
}

func TestSelector_PointerKeptPerScope(t *testing.T) {
	policy := &AccessPolicy{}
	accounts := []model.Account{acct(1, 5), acct(2, 5)}
	a := model.Tags{UserID: 10, TeamID: 1}
	b := model.Tags{UserID: 11, TeamID: 1}
	jobs := []model.Job{
		{ID: 1, Tags: a},
		{ID: 2, Tags: b},
		{ID: 3, Tags: a},
		{ID: 4, Tags: b},
	}

	alloc := Selector{Access: policy}.Allocate(accounts, jobs)

	assert.Equal(t, []int64{1, 2}, ids(alloc.For(1)))
	assert.Equal(t, []int64{3, 4}, ids(alloc.For(2)))
}

func TestAccessPolicy_NilAllowsAll(t *testing.T) {
	var p *AccessPolicy
	assert.True(t, p.Allowed(model.Tags{UserID: 3}, 12))
	assert.Equal(t, []int{0, 1}, Selector{}.candidates([]model.Account{acct(1, 1), acct(2, 1)}, model.Tags{}))
}
