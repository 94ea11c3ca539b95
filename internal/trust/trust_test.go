package trust

import (
	"context"
	"testing"
	"time"

	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	cl := classifier.New(nil, nil, nil, classifier.TrustExclusions{
		Services: []string{"iam"},
		Verbs:    []string{"terminate-"},
	})
	return NewManager(store.NewMemoryStore(), cl, []byte("test-key"))
}

func TestTrustIDDeterministic(t *testing.T) {
	m := newTestManager()
	id1 := m.TrustID("agent-1", "111111111111")
	id2 := m.TrustID("agent-1", "111111111111")
	id3 := m.TrustID("agent-1", "222222222222")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}

func TestCreateThenLookup(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	ts, err := m.Create(ctx, "agent-1", "111111111111", "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCommands, ts.MaxCommands)

	got, err := m.Lookup(ctx, "agent-1", "111111111111")
	require.NoError(t, err)
	assert.Equal(t, ts.TrustID, got.TrustID)
}

func TestShouldAutoApproveNoSession(t *testing.T) {
	m := newTestManager()
	d := m.ShouldAutoApprove(context.Background(), true, "aws ec2 describe-instances", "agent-1", "111111111111")
	assert.False(t, d.Approve)
}

func TestShouldAutoApproveHappyPath(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 5)
	require.NoError(t, err)

	d := m.ShouldAutoApprove(ctx, true, "aws ec2 describe-instances", "agent-1", "111111111111")
	assert.True(t, d.Approve)
	assert.NotNil(t, d.Session)
}

func TestShouldAutoApproveExcludedCommand(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 5)
	require.NoError(t, err)

	d := m.ShouldAutoApprove(ctx, true, "aws iam delete-user --user-name bob", "agent-1", "111111111111")
	assert.False(t, d.Approve)
}

func TestShouldAutoApproveBudgetExhausted(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	ts, err := m.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 1)
	require.NoError(t, err)

	require.NoError(t, m.Consume(ctx, ts.TrustID))
	d := m.ShouldAutoApprove(ctx, true, "aws ec2 describe-instances", "agent-1", "111111111111")
	assert.False(t, d.Approve)
}

func TestShouldAutoApproveDisabled(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 5)
	require.NoError(t, err)

	d := m.ShouldAutoApprove(ctx, false, "aws ec2 describe-instances", "agent-1", "111111111111")
	assert.False(t, d.Approve)
}

func TestRevokeDeletesSession(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	ts, err := m.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 5)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, ts.TrustID))
	_, err = m.Lookup(ctx, "agent-1", "111111111111")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
