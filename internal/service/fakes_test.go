package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
	"github.com/consultaflow/dispatcher/internal/domain/workflow"
)

// memJobs is an in-memory JobStore covering the calls a run makes.
type memJobs struct {
	core.JobStore // unimplemented methods panic

	mu     sync.Mutex
	rows   map[int64]*model.Job
	nextID int64
	now    time.Time

	failUpdate    error
	failMarkError error
	// markErrorFailures fails MarkError for specific jobs only.
	markErrorFailures map[int64]error
}

func newMemJobs(now time.Time, jobs ...model.Job) *memJobs {
	m := &memJobs{rows: map[int64]*model.Job{}, now: now}
	for _, j := range jobs {
		j := j
		if j.Status == "" {
			j.Status = model.JobStatusPending
		}
		m.rows[j.ID] = &j
		m.nextID = max(m.nextID, j.ID)
	}
	return m
}

func (m *memJobs) get(id int64) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memJobs) all() []model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Job, 0, len(m.rows))
	for _, j := range m.rows {
		out = append(out, *j)
	}
	slices.SortFunc(out, func(a, b model.Job) int { return int(a.ID - b.ID) })
	return out
}

func (m *memJobs) pendingLocked(provider model.Provider) []*model.Job {
	var out []*model.Job
	for _, j := range m.rows {
		if j.Provider == provider && j.Status == model.JobStatusPending {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b *model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out
}

func (m *memJobs) ListPending(_ context.Context, p core.ListPendingParams) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.pendingLocked(p.Provider) {
		if len(out) == p.Limit {
			break
		}
		out = append(out, *j)
	}
	return out, nil
}

func (m *memJobs) MarkProcessing(_ context.Context, id, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok || j.Status != model.JobStatusPending {
		return false, nil
	}
	j.Status = model.JobStatusProcessing
	j.AccountID = &accountID
	return true, nil
}

func (m *memJobs) ClaimPending(_ context.Context, req model.ClaimRequest) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.pendingLocked(req.Provider) {
		if len(out) == req.Limit {
			break
		}
		if req.PinnedOnly && (j.ForcedAccountID == nil || *j.ForcedAccountID != req.AccountID) {
			continue
		}
		j.Status = model.JobStatusProcessing
		acc := req.AccountID
		j.AccountID = &acc
		out = append(out, *j)
	}
	return out, nil
}

func (m *memJobs) apply(j *model.Job, upd model.ResultUpdate) {
	j.Subject = upd.Subject
	j.Status = upd.Status
	j.Message = upd.Message
	status := upd.Entry.Status
	j.ResultStatus = &status
	j.ResultValue = upd.Entry.Value
	if upd.Entry.MatchKey != "" {
		key := upd.Entry.MatchKey
		j.ResultKey = &key
	}
	if upd.AccountID != nil {
		j.AccountID = upd.AccountID
	}
	j.UpdatedAt = m.now
}

func (m *memJobs) UpdateResult(_ context.Context, id int64, upd model.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	j, ok := m.rows[id]
	if !ok {
		return errors.New("job not found")
	}
	m.apply(j, upd)
	return nil
}

func (m *memJobs) InsertResult(_ context.Context, src model.Job, upd model.ResultUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	j := model.Job{
		ID:              m.nextID,
		Provider:        src.Provider,
		Tags:            src.Tags,
		ForcedAccountID: src.ForcedAccountID,
		Kind:            src.Kind,
		AccountID:       src.AccountID,
		CreatedAt:       m.now,
	}
	m.apply(&j, upd)
	m.rows[j.ID] = &j
	return j.ID, nil
}

func (m *memJobs) FindSimilar(_ context.Context, p core.FindSimilarParams) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ResultKey == "" {
		return nil, nil
	}
	var best *model.Job
	for _, j := range m.rows {
		if j.ID == p.ExcludeID || j.Provider != p.Provider || j.Subject.NationalID != p.NationalID ||
			j.Tags.UserID != p.Tags.UserID || j.Tags.TeamID != p.Tags.TeamID ||
			j.ResultKey == nil || *j.ResultKey != p.ResultKey {
			continue
		}
		if best == nil || j.ID > best.ID {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memJobs) MarkError(_ context.Context, id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkError != nil {
		return m.failMarkError
	}
	if err := m.markErrorFailures[id]; err != nil {
		return err
	}
	j, ok := m.rows[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Status = model.JobStatusError
	j.Message = &msg
	j.ResultValue = nil
	return nil
}

// memAccounts is an in-memory AccountStore.
type memAccounts struct {
	mu   sync.Mutex
	rows []*model.Account
}

func newMemAccounts(accs ...model.Account) *memAccounts {
	m := &memAccounts{}
	for _, a := range accs {
		a := a
		m.rows = append(m.rows, &a)
	}
	return m
}

func (m *memAccounts) ListByProvider(_ context.Context, p model.Provider) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Account
	for _, a := range m.rows {
		if a.Provider == p {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAccounts) find(id int64) (*model.Account, error) {
	for _, a := range m.rows {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account %d not found", id)
}

func (m *memAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(id)
	if err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) ResetCounter(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(id)
	if err != nil {
		return err
	}
	a.Consumed = 0
	a.LastResetAt = &at
	return nil
}

func (m *memAccounts) Increment(_ context.Context, p core.IncrementParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(p.AccountID)
	if err != nil {
		return err
	}
	if p.Clamp && a.Consumed >= a.DailyLimit {
		return nil
	}
	a.Consumed++
	return nil
}

func (m *memAccounts) consumed(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, _ := m.find(id)
	return a.Consumed
}

// memLocker is an in-process Locker. Keys listed in busy are always held elsewhere.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	busy     map[string]bool
	seq      int
	released []string
}

func newMemLocker(busy ...string) *memLocker {
	l := &memLocker{held: map[string]string{}, busy: map[string]bool{}}
	for _, k := range busy {
		l.busy[k] = true
	}
	return l
}

func (l *memLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[key] {
		return "", false, nil
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("t%d", l.seq)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return core.ErrLockNotHeld
	}
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

func (l *memLocker) heldKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// fixedClock always returns the same instant.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// scriptedAuth fails logins for the listed logins with ErrInvalidCredential.
type scriptedAuth struct {
	mu      sync.Mutex
	invalid map[string]bool
	logins  int
}

func (a *scriptedAuth) Login(_ context.Context, cred model.Credential) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logins++
	if a.invalid[cred.Login] {
		return "", fmt.Errorf("%w: bad password", workflow.ErrInvalidCredential)
	}
	return "token-" + cred.Login, nil
}

// scriptedProvider answers each subject with the entries keyed by its national id.
// Unknown subjects get a single approved entry.
type scriptedProvider struct {
	mu        sync.Mutex
	entries   map[string][]model.RawEntry
	failures  map[string]error
	submitted []string
	// hold makes Submit for these national ids wait until its context ends.
	hold map[string]bool
}

func (p *scriptedProvider) Submit(ctx context.Context, _ string, s model.Subject) (workflow.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, s.NationalID)
	if p.hold[s.NationalID] {
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		return workflow.Submission{}, ctx.Err()
	}
	if err := p.failures[s.NationalID]; err != nil {
		return workflow.Submission{}, err
	}
	raws, ok := p.entries[s.NationalID]
	if !ok {
		raws = []model.RawEntry{{"status": "APROVADO", "value": 100.0}}
	}
	return workflow.Submission{Accepted: true, Entries: raws}, nil
}

func (p *scriptedProvider) Poll(context.Context, string, model.Subject, string) ([]model.RawEntry, error) {
	return nil, errors.New("no poll expected")
}

func (p *scriptedProvider) Normalize(raw model.RawEntry) (model.ResultEntry, bool) {
	status, _ := raw["status"].(string)
	if status == "" {
		return model.ResultEntry{}, false
	}
	e := model.ResultEntry{Status: status}
	if v, ok := raw["value"].(float64); ok {
		e.Value = &v
	}
	if k, ok := raw["key"].(string); ok {
		e.MatchKey = k
	}
	return e, true
}

func (p *scriptedProvider) submissions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.submitted)
}
