package store

import (
	"context"
	"sync"
	"time"

	"github.com/bouncer/broker/internal/model"
)

// MemoryStore is an in-memory Store used by component and pipeline tests so
// they never require a live Redis. It mirrors RedisStore's conditional-
// update and single-use-consumption semantics, just guarded by a mutex
// instead of a Lua script.
type MemoryStore struct {
	mu sync.Mutex

	requests  map[string]*model.Request
	trusts    map[string]*model.TrustSession
	trustIdx  map[string]string // "source|account" -> trust_id
	grants    map[string]*model.GrantSession
	pages     map[string]*model.OutputPage
	accounts  map[string]*model.Account
	audit     map[string][]*model.AuditLog
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*model.Request),
		trusts:   make(map[string]*model.TrustSession),
		trustIdx: make(map[string]string),
		grants:   make(map[string]*model.GrantSession),
		pages:    make(map[string]*model.OutputPage),
		accounts: make(map[string]*model.Account),
		audit:    make(map[string][]*model.AuditLog),
	}
}

func cloneRequest(r *model.Request) *model.Request {
	cp := *r
	return &cp
}

// =============================================================================
// Request
// =============================================================================

func (m *MemoryStore) PutRequest(ctx context.Context, req *model.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !req.TTL.IsZero() && req.TTL.Before(time.Now()) {
		delete(m.requests, req.RequestID)
		return nil
	}
	m.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, requestID string) (*model.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if !req.TTL.IsZero() && req.TTL.Before(time.Now()) {
		delete(m.requests, requestID)
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, requestID string, expectStatus model.RequestStatus, mutate func(*model.Request) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if expectStatus != "" && req.Status != expectStatus {
		return ErrConflict
	}
	working := cloneRequest(req)
	if err := mutate(working); err != nil {
		return err
	}
	m.requests[requestID] = working
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, limit int) ([]*model.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Request
	for _, r := range m.requests {
		if r.Status == model.StatusPendingApproval {
			out = append(out, cloneRequest(r))
		}
	}
	sortByCreatedAtDesc(out)
	return capRequests(out, limit), nil
}

func (m *MemoryStore) ListBySource(ctx context.Context, source string, limit int) ([]*model.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Request
	for _, r := range m.requests {
		if r.Source == source {
			out = append(out, cloneRequest(r))
		}
	}
	sortByCreatedAtDesc(out)
	return capRequests(out, limit), nil
}

func sortByCreatedAtDesc(reqs []*model.Request) {
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && reqs[j].CreatedAt.After(reqs[j-1].CreatedAt); j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
}

func capRequests(reqs []*model.Request, limit int) []*model.Request {
	if limit > 0 && len(reqs) > limit {
		return reqs[:limit]
	}
	return reqs
}

func (m *MemoryStore) CountPendingBySource(ctx context.Context, source string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Source == source && r.Status == model.StatusPendingApproval {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RecentCommands(source string, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.requests {
		if r.Source == source && r.CreatedAt.After(since) {
			out = append(out, r.Command)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReapExpiredRequests(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	now := time.Now()
	for id, r := range m.requests {
		if !r.TTL.IsZero() && r.TTL.Before(now) {
			delete(m.requests, id)
			reaped++
		}
	}
	return reaped, nil
}

func (m *MemoryStore) MarkTimeouts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	marked := 0
	for _, r := range m.requests {
		if r.Status == model.StatusPendingApproval && r.ExpiresAt.Before(now) {
			r.Status = model.StatusTimeout
			decided := now
			r.DecidedAt = &decided
			marked++
		}
	}
	return marked, nil
}

// =============================================================================
// TrustSession
// =============================================================================

func trustIdxKey(source, accountID string) string { return source + "|" + accountID }

func (m *MemoryStore) PutTrustSession(ctx context.Context, ts *model.TrustSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ts
	m.trusts[ts.TrustID] = &cp
	m.trustIdx[trustIdxKey(ts.Source, ts.AccountID)] = ts.TrustID
	return nil
}

func (m *MemoryStore) GetTrustSession(ctx context.Context, source, accountID string) (*model.TrustSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.trustIdx[trustIdxKey(source, accountID)]
	if !ok {
		return nil, ErrNotFound
	}
	ts, ok := m.trusts[id]
	if !ok || !ts.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (m *MemoryStore) IncrementTrustCommandCount(ctx context.Context, trustID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.trusts[trustID]
	if !ok {
		return ErrNotFound
	}
	ts.CommandCount++
	return nil
}

func (m *MemoryStore) DeleteTrustSession(ctx context.Context, trustID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.trusts[trustID]; ok {
		delete(m.trustIdx, trustIdxKey(ts.Source, ts.AccountID))
	}
	delete(m.trusts, trustID)
	return nil
}

// =============================================================================
// GrantSession
// =============================================================================

func (m *MemoryStore) PutGrantSession(ctx context.Context, gs *model.GrantSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *gs
	cp.UsedCommands = make(map[string]int, len(gs.UsedCommands))
	for k, v := range gs.UsedCommands {
		cp.UsedCommands[k] = v
	}
	m.grants[gs.GrantID] = &cp
	return nil
}

func (m *MemoryStore) GetGrantSession(ctx context.Context, grantID string) (*model.GrantSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.grants[grantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *gs
	cp.UsedCommands = make(map[string]int, len(gs.UsedCommands))
	for k, v := range gs.UsedCommands {
		cp.UsedCommands[k] = v
	}
	return &cp, nil
}

func (m *MemoryStore) ActivateGrantSession(ctx context.Context, grantID string, grantedCommands []string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	gs.Status = model.GrantActive
	gs.GrantedCommands = grantedCommands
	gs.ExpiresAt = expiresAt
	gs.TTL = expiresAt
	return nil
}

func (m *MemoryStore) DenyGrantSession(ctx context.Context, grantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	gs.Status = model.GrantDenied
	return nil
}

func (m *MemoryStore) RevokeGrantSession(ctx context.Context, grantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	gs.Status = model.GrantRevoked
	return nil
}

// ConsumeGrant mirrors RedisStore's Lua-script semantics under a mutex: one
// atomic check-and-increment, so concurrent callers for the same command
// never both succeed.
func (m *MemoryStore) ConsumeGrant(ctx context.Context, grantID, normalizedCmd string, allowRepeat bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.grants[grantID]
	if !ok {
		return false, ErrNotFound
	}
	if gs.Status != model.GrantActive {
		return false, nil
	}
	if gs.TotalExecutions >= gs.MaxTotalExecutions {
		return false, nil
	}
	if !allowRepeat {
		if _, used := gs.UsedCommands[normalizedCmd]; used {
			return false, nil
		}
	}
	if gs.UsedCommands == nil {
		gs.UsedCommands = make(map[string]int)
	}
	gs.UsedCommands[normalizedCmd]++
	gs.TotalExecutions++
	return true, nil
}

// =============================================================================
// OutputPage
// =============================================================================

func pageID(requestID string, page int) string {
	return requestID + ":page:" + itoa(page)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (m *MemoryStore) PutOutputPage(ctx context.Context, page *model.OutputPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *page
	m.pages[pageID(page.RequestID, page.Page)] = &cp
	return nil
}

func (m *MemoryStore) GetOutputPage(ctx context.Context, requestID string, page int) (*model.OutputPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID(requestID, page)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// =============================================================================
// Account
// =============================================================================

func (m *MemoryStore) PutAccount(ctx context.Context, acct *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *acct
	m.accounts[acct.AccountID] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) DeleteAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, accountID)
	return nil
}

func (m *MemoryStore) DefaultAccount(ctx context.Context) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IsDefault {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// =============================================================================
// AuditLog
// =============================================================================

func (m *MemoryStore) AppendAudit(ctx context.Context, entry *model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.audit[entry.RequestID] = append(m.audit[entry.RequestID], &cp)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, requestID string) ([]*model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.audit[requestID]
	out := make([]*model.AuditLog, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		cp := *entries[len(entries)-1-i]
		out[i] = &cp
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
