package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bouncer/broker/internal/infra"
	"github.com/bouncer/broker/internal/model"
)

// RedisStore is the Redis-backed State Store (C4). Every row is a JSON
// blob; GrantSession consumption counters live in a separate hash so they
// can be mutated atomically via Lua without a full read-modify-write of the
// JSON row (see infra.GoRedisAdapter.ConsumeGrant).
type RedisStore struct {
	rdb    *infra.GoRedisAdapter
	prefix string
}

// NewRedisStore builds a RedisStore. prefix defaults to "bouncer:".
func NewRedisStore(rdb *infra.GoRedisAdapter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bouncer:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) k(parts ...string) string {
	key := s.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func ttlOrZero(at time.Time) time.Duration {
	d := time.Until(at)
	if d < 0 {
		return time.Second
	}
	return d
}

// =============================================================================
// Request
// =============================================================================

func (s *RedisStore) PutRequest(ctx context.Context, req *model.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	key := s.k("req", req.RequestID)
	if err := s.rdb.Set(ctx, key, b, ttlOrZero(req.TTL)); err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	if req.Status == model.StatusPendingApproval {
		if err := s.rdb.ZAdd(ctx, s.k("idx", "pending"), float64(req.CreatedAt.Unix()), req.RequestID); err != nil {
			return fmt.Errorf("index pending: %w", err)
		}
	}
	if req.Source != "" {
		if err := s.rdb.ZAdd(ctx, s.k("idx", "source", req.Source), float64(req.CreatedAt.Unix()), req.RequestID); err != nil {
			return fmt.Errorf("index source: %w", err)
		}
		cmdKey := s.k("idx", "source_cmds", req.Source)
		if err := s.rdb.ZAdd(ctx, cmdKey, float64(req.CreatedAt.Unix()), req.CreatedAt.Format(time.RFC3339Nano)+"|"+req.Command); err != nil {
			return fmt.Errorf("index source commands: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) GetRequest(ctx context.Context, requestID string) (*model.Request, error) {
	b, err := s.rdb.Get(ctx, s.k("req", requestID))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	var req model.Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &req, nil
}

func (s *RedisStore) UpdateRequest(ctx context.Context, requestID string, expectStatus model.RequestStatus, mutate func(*model.Request) error) error {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if expectStatus != "" && req.Status != expectStatus {
		return ErrConflict
	}
	wasPending := req.Status == model.StatusPendingApproval
	if err := mutate(req); err != nil {
		return err
	}
	if wasPending && req.Status != model.StatusPendingApproval {
		_ = s.rdb.ZRem(ctx, s.k("idx", "pending"), requestID)
	}
	return s.PutRequest(ctx, req)
}

func (s *RedisStore) ListPending(ctx context.Context, limit int) ([]*model.Request, error) {
	ids, err := s.rdb.ZRevRangeLimit(ctx, s.k("idx", "pending"), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return s.loadRequests(ctx, ids), nil
}

func (s *RedisStore) ListBySource(ctx context.Context, source string, limit int) ([]*model.Request, error) {
	ids, err := s.rdb.ZRevRangeLimit(ctx, s.k("idx", "source", source), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list by source: %w", err)
	}
	return s.loadRequests(ctx, ids), nil
}

func (s *RedisStore) loadRequests(ctx context.Context, ids []string) []*model.Request {
	out := make([]*model.Request, 0, len(ids))
	for _, id := range ids {
		req, err := s.GetRequest(ctx, id)
		if err != nil {
			continue // reaped or malformed; skip rather than fail the listing
		}
		out = append(out, req)
	}
	return out
}

func (s *RedisStore) CountPendingBySource(ctx context.Context, source string) (int, error) {
	reqs, err := s.ListBySource(ctx, source, 1000)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range reqs {
		if r.Status == model.StatusPendingApproval {
			count++
		}
	}
	return count, nil
}

// RecentCommands implements risk.HistoryLookup for the sequence-analysis
// modifier: the raw command strings issued by source since the given time.
func (s *RedisStore) RecentCommands(source string, since time.Time) ([]string, error) {
	ctx := context.Background()
	entries, err := s.rdb.ZRangeByScoreRange(ctx, s.k("idx", "source_cmds", source), float64(since.Unix()), float64(time.Now().Unix()+1))
	if err != nil {
		return nil, fmt.Errorf("recent commands: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if i := indexOf(e, '|'); i >= 0 {
			out = append(out, e[i+1:])
		}
	}
	return out, nil
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (s *RedisStore) ReapExpiredRequests(ctx context.Context) (int, error) {
	// Redis already expires the req:{id} key via TTL; this sweeps the
	// pending index of ids whose backing row is already gone.
	ids, err := s.rdb.ZRevRangeLimit(ctx, s.k("idx", "pending"), 10000)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, id := range ids {
		if _, err := s.GetRequest(ctx, id); errors.Is(err, ErrNotFound) {
			_ = s.rdb.ZRem(ctx, s.k("idx", "pending"), id)
			reaped++
		}
	}
	return reaped, nil
}

func (s *RedisStore) MarkTimeouts(ctx context.Context) (int, error) {
	pending, err := s.ListPending(ctx, 10000)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	marked := 0
	for _, req := range pending {
		if req.Status != model.StatusPendingApproval || !req.ExpiresAt.Before(now) {
			continue
		}
		id := req.RequestID
		err := s.UpdateRequest(ctx, id, model.StatusPendingApproval, func(r *model.Request) error {
			r.Status = model.StatusTimeout
			decided := now
			r.DecidedAt = &decided
			return nil
		})
		if err == nil {
			marked++
		}
	}
	return marked, nil
}

// =============================================================================
// TrustSession
// =============================================================================

func (s *RedisStore) trustIndexKey(source, accountID string) string {
	return s.k("idx", "trust", source, accountID)
}

func (s *RedisStore) PutTrustSession(ctx context.Context, ts *model.TrustSession) error {
	b, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal trust session: %w", err)
	}
	ttl := ttlOrZero(ts.ExpiresAt)
	if err := s.rdb.Set(ctx, s.k("trust", ts.TrustID), b, ttl); err != nil {
		return fmt.Errorf("put trust session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.trustIndexKey(ts.Source, ts.AccountID), []byte(ts.TrustID), ttl); err != nil {
		return fmt.Errorf("index trust session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTrustSession(ctx context.Context, source, accountID string) (*model.TrustSession, error) {
	idBytes, err := s.rdb.Get(ctx, s.trustIndexKey(source, accountID))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust index lookup: %w", err)
	}
	b, err := s.rdb.Get(ctx, s.k("trust", string(idBytes)))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trust session: %w", err)
	}
	var ts model.TrustSession
	if err := json.Unmarshal(b, &ts); err != nil {
		return nil, fmt.Errorf("unmarshal trust session: %w", err)
	}
	if !ts.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return &ts, nil
}

func (s *RedisStore) IncrementTrustCommandCount(ctx context.Context, trustID string) error {
	b, err := s.rdb.Get(ctx, s.k("trust", trustID))
	if errors.Is(err, infra.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get trust session: %w", err)
	}
	var ts model.TrustSession
	if err := json.Unmarshal(b, &ts); err != nil {
		return fmt.Errorf("unmarshal trust session: %w", err)
	}
	ts.CommandCount++
	return s.PutTrustSession(ctx, &ts)
}

func (s *RedisStore) DeleteTrustSession(ctx context.Context, trustID string) error {
	b, err := s.rdb.Get(ctx, s.k("trust", trustID))
	if errors.Is(err, infra.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get trust session: %w", err)
	}
	var ts model.TrustSession
	if err := json.Unmarshal(b, &ts); err == nil {
		_ = s.rdb.Del(ctx, s.trustIndexKey(ts.Source, ts.AccountID))
	}
	return s.rdb.Del(ctx, s.k("trust", trustID))
}

// =============================================================================
// GrantSession
// =============================================================================

func (s *RedisStore) grantCountersKey(grantID string) string { return s.k("grant", grantID, "counters") }
func (s *RedisStore) grantUsedKey(grantID string) string     { return s.k("grant", grantID, "used") }

func (s *RedisStore) PutGrantSession(ctx context.Context, gs *model.GrantSession) error {
	b, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("marshal grant session: %w", err)
	}
	ttl := ttlOrZero(gs.TTL)
	if err := s.rdb.Set(ctx, s.k("grant", gs.GrantID), b, ttl); err != nil {
		return fmt.Errorf("put grant session: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.grantCountersKey(gs.GrantID), map[string]interface{}{
		"status":               string(gs.Status),
		"total_executions":     gs.TotalExecutions,
		"max_total_executions": gs.MaxTotalExecutions,
	}); err != nil {
		return fmt.Errorf("put grant counters: %w", err)
	}
	_ = s.rdb.Expire(ctx, s.grantCountersKey(gs.GrantID), ttl)
	_ = s.rdb.Expire(ctx, s.grantUsedKey(gs.GrantID), ttl)
	return nil
}

func (s *RedisStore) GetGrantSession(ctx context.Context, grantID string) (*model.GrantSession, error) {
	b, err := s.rdb.Get(ctx, s.k("grant", grantID))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant session: %w", err)
	}
	var gs model.GrantSession
	if err := json.Unmarshal(b, &gs); err != nil {
		return nil, fmt.Errorf("unmarshal grant session: %w", err)
	}

	counters, err := s.rdb.HGetAll(ctx, s.grantCountersKey(grantID))
	if err == nil && len(counters) > 0 {
		gs.Status = model.GrantStatus(counters["status"])
		if v, err := strconv.Atoi(counters["total_executions"]); err == nil {
			gs.TotalExecutions = v
		}
	}
	used, err := s.rdb.HGetAll(ctx, s.grantUsedKey(grantID))
	if err == nil {
		gs.UsedCommands = make(map[string]int, len(used))
		for k, v := range used {
			n, _ := strconv.Atoi(v)
			gs.UsedCommands[k] = n
		}
	}
	return &gs, nil
}

func (s *RedisStore) ActivateGrantSession(ctx context.Context, grantID string, grantedCommands []string, expiresAt time.Time) error {
	gs, err := s.GetGrantSession(ctx, grantID)
	if err != nil {
		return err
	}
	gs.Status = model.GrantActive
	gs.GrantedCommands = grantedCommands
	gs.ExpiresAt = expiresAt
	gs.TTL = expiresAt
	return s.PutGrantSession(ctx, gs)
}

func (s *RedisStore) DenyGrantSession(ctx context.Context, grantID string) error {
	return s.rdb.HSet(ctx, s.grantCountersKey(grantID), map[string]interface{}{"status": string(model.GrantDenied)})
}

func (s *RedisStore) RevokeGrantSession(ctx context.Context, grantID string) error {
	return s.rdb.HSet(ctx, s.grantCountersKey(grantID), map[string]interface{}{"status": string(model.GrantRevoked)})
}

// ConsumeGrant implements §4.7's try_use: a conditional update on
// status=active AND total_executions < max, plus (unless allow_repeat) the
// single-use condition on the specific command. Runs as a Lua script so two
// concurrent callers for the same command race safely (§8 property 4).
func (s *RedisStore) ConsumeGrant(ctx context.Context, grantID, normalizedCmd string, allowRepeat bool) (bool, error) {
	gs, err := s.GetGrantSession(ctx, grantID)
	if err != nil {
		return false, err
	}
	return s.rdb.ConsumeGrant(ctx, s.grantUsedKey(grantID), s.grantCountersKey(grantID), normalizedCmd, allowRepeat, gs.MaxTotalExecutions)
}

// =============================================================================
// OutputPage
// =============================================================================

func (s *RedisStore) pageKey(requestID string, page int) string {
	return s.k("output", requestID, "page", strconv.Itoa(page))
}

func (s *RedisStore) PutOutputPage(ctx context.Context, page *model.OutputPage) error {
	b, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal output page: %w", err)
	}
	return s.rdb.Set(ctx, s.pageKey(page.RequestID, page.Page), b, ttlOrZero(page.TTL))
}

func (s *RedisStore) GetOutputPage(ctx context.Context, requestID string, page int) (*model.OutputPage, error) {
	b, err := s.rdb.Get(ctx, s.pageKey(requestID, page))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get output page: %w", err)
	}
	var p model.OutputPage
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal output page: %w", err)
	}
	return &p, nil
}

// =============================================================================
// Account
// =============================================================================

func (s *RedisStore) PutAccount(ctx context.Context, acct *model.Account) error {
	b, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := s.rdb.Set(ctx, s.k("account", acct.AccountID), b, 0); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return s.rdb.SAdd(ctx, s.k("idx", "accounts"), acct.AccountID)
}

func (s *RedisStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	b, err := s.rdb.Get(ctx, s.k("account", accountID))
	if errors.Is(err, infra.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	var a model.Account
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	ids, err := s.rdb.SMembers(ctx, s.k("idx", "accounts"))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.rdb.Del(ctx, s.k("account", accountID)); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.k("idx", "accounts"), accountID)
}

func (s *RedisStore) DefaultAccount(ctx context.Context) (*model.Account, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.IsDefault {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// =============================================================================
// AuditLog
// =============================================================================

func (s *RedisStore) AppendAudit(ctx context.Context, entry *model.AuditLog) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	key := s.k("audit", entry.RequestID)
	return s.rdb.ZAdd(ctx, key, float64(entry.CreatedAt.UnixNano()), string(b))
}

func (s *RedisStore) ListAudit(ctx context.Context, requestID string) ([]*model.AuditLog, error) {
	raw, err := s.rdb.ZRevRangeLimit(ctx, s.k("audit", requestID), 1000)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]*model.AuditLog, 0, len(raw))
	for _, r := range raw {
		var a model.AuditLog
		if err := json.Unmarshal([]byte(r), &a); err == nil {
			out = append(out, &a)
		}
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
