package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bouncer/broker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRequestRoundtrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := &model.Request{
		RequestID: "req-1",
		Source:    "agent-1",
		Command:   "aws ec2 describe-instances",
		Status:    model.StatusPendingApproval,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
		TTL:       time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutRequest(ctx, req))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, req.Command, got.Command)
	assert.Equal(t, model.StatusPendingApproval, got.Status)
}

func TestGetRequestNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRequestConflictOnStatusMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := &model.Request{RequestID: "req-2", Status: model.StatusApproved, CreatedAt: time.Now()}
	require.NoError(t, s.PutRequest(ctx, req))

	err := s.UpdateRequest(ctx, "req-2", model.StatusPendingApproval, func(r *model.Request) error {
		r.Status = model.StatusDenied
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)

	got, _ := s.GetRequest(ctx, "req-2")
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestUpdateRequestAppliesMutation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := &model.Request{RequestID: "req-3", Status: model.StatusPendingApproval, CreatedAt: time.Now()}
	require.NoError(t, s.PutRequest(ctx, req))

	err := s.UpdateRequest(ctx, "req-3", model.StatusPendingApproval, func(r *model.Request) error {
		r.Status = model.StatusApproved
		r.ApprovedBy = "alice"
		return nil
	})
	require.NoError(t, err)

	got, _ := s.GetRequest(ctx, "req-3")
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ApprovedBy)
}

func TestListPendingOrderedByCreatedAtDesc(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PutRequest(ctx, &model.Request{RequestID: "a", Status: model.StatusPendingApproval, CreatedAt: now}))
	require.NoError(t, s.PutRequest(ctx, &model.Request{RequestID: "b", Status: model.StatusPendingApproval, CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, s.PutRequest(ctx, &model.Request{RequestID: "c", Status: model.StatusApproved, CreatedAt: now.Add(2 * time.Minute)}))

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].RequestID)
	assert.Equal(t, "a", pending[1].RequestID)
}

func TestTrustSessionLookupExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ts := &model.TrustSession{
		TrustID: "t-1", Source: "agent-1", AccountID: "111111111111",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.PutTrustSession(ctx, ts))

	_, err := s.GetTrustSession(ctx, "agent-1", "111111111111")
	assert.ErrorIs(t, err, ErrNotFound, "expired trust session must not be returned")
}

func TestTrustSessionLookupLive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ts := &model.TrustSession{
		TrustID: "t-2", Source: "agent-1", AccountID: "111111111111",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour), MaxCommands: 10,
	}
	require.NoError(t, s.PutTrustSession(ctx, ts))

	got, err := s.GetTrustSession(ctx, "agent-1", "111111111111")
	require.NoError(t, err)
	assert.Equal(t, "t-2", got.TrustID)

	require.NoError(t, s.IncrementTrustCommandCount(ctx, "t-2"))
	got2, _ := s.GetTrustSession(ctx, "agent-1", "111111111111")
	assert.Equal(t, 1, got2.CommandCount)
}

func TestConsumeGrantSingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	gs := &model.GrantSession{
		GrantID: "g-1", Status: model.GrantActive, MaxTotalExecutions: 5,
		UsedCommands: map[string]int{},
	}
	require.NoError(t, s.PutGrantSession(ctx, gs))

	ok, err := s.ConsumeGrant(ctx, "g-1", "aws s3 ls", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeGrant(ctx, "g-1", "aws s3 ls", false)
	require.NoError(t, err)
	assert.False(t, ok, "a non-repeatable command must not be consumable twice")
}

func TestConsumeGrantAllowRepeat(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	gs := &model.GrantSession{
		GrantID: "g-2", Status: model.GrantActive, MaxTotalExecutions: 5, AllowRepeat: true,
		UsedCommands: map[string]int{},
	}
	require.NoError(t, s.PutGrantSession(ctx, gs))

	for i := 0; i < 3; i++ {
		ok, err := s.ConsumeGrant(ctx, "g-2", "aws s3 ls", true)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestConsumeGrantRespectsMaxTotal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	gs := &model.GrantSession{
		GrantID: "g-3", Status: model.GrantActive, MaxTotalExecutions: 2, AllowRepeat: true,
		UsedCommands: map[string]int{},
	}
	require.NoError(t, s.PutGrantSession(ctx, gs))

	ok1, _ := s.ConsumeGrant(ctx, "g-3", "aws s3 ls", true)
	ok2, _ := s.ConsumeGrant(ctx, "g-3", "aws s3 ls", true)
	ok3, _ := s.ConsumeGrant(ctx, "g-3", "aws s3 ls", true)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "total_executions must not exceed max_total_executions")
}

func TestConsumeGrantInactiveDenied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	gs := &model.GrantSession{GrantID: "g-4", Status: model.GrantPendingApproval, MaxTotalExecutions: 5}
	require.NoError(t, s.PutGrantSession(ctx, gs))

	ok, err := s.ConsumeGrant(ctx, "g-4", "aws s3 ls", false)
	require.NoError(t, err)
	assert.False(t, ok, "a grant that is not yet active must refuse consumption")
}

func TestConsumeGrantConcurrentExactlyOneWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	gs := &model.GrantSession{
		GrantID: "g-5", Status: model.GrantActive, MaxTotalExecutions: 100,
		UsedCommands: map[string]int{},
	}
	require.NoError(t, s.PutGrantSession(ctx, gs))

	const n = 20
	results := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _ := s.ConsumeGrant(ctx, "g-5", "aws s3 rm s3://bucket/key", false)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent consumer of a single-use command must win")
}

func TestOutputPageRoundtrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	page := &model.OutputPage{RequestID: "req-9", Page: 2, TotalPages: 3, Content: "...output..."}
	require.NoError(t, s.PutOutputPage(ctx, page))

	got, err := s.GetOutputPage(ctx, "req-9", 2)
	require.NoError(t, err)
	assert.Equal(t, "...output...", got.Content)

	_, err = s.GetOutputPage(ctx, "req-9", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultAccountLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.PutAccount(ctx, &model.Account{AccountID: "111111111111", Name: "prod", IsDefault: false}))
	require.NoError(t, s.PutAccount(ctx, &model.Account{AccountID: "222222222222", Name: "staging", IsDefault: true}))

	got, err := s.DefaultAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "222222222222", got.AccountID)
}

func TestAuditLogOrderedNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.AppendAudit(ctx, &model.AuditLog{ID: "1", RequestID: "req-1", Action: "submitted", CreatedAt: base}))
	require.NoError(t, s.AppendAudit(ctx, &model.AuditLog{ID: "2", RequestID: "req-1", Action: "approved", CreatedAt: base.Add(time.Second)}))

	entries, err := s.ListAudit(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "approved", entries[0].Action)
	assert.Equal(t, "submitted", entries[1].Action)
}
