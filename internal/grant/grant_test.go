package grant

import (
	"context"
	"testing"

	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/compliance"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/risk"
	"github.com/bouncer/broker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	cl := classifier.New(nil, nil, nil, classifier.TrustExclusions{})
	co := compliance.New(nil)
	rs := risk.New(nil, nil)
	return NewManager(store.NewMemoryStore(), cl, co, rs)
}

func TestPrecheckGrantableSafeRead(t *testing.T) {
	m := newTestManager()
	d := m.Precheck("aws ec2 describe-instances", "routine check", "agent-1", "111111111111", "111111111111")
	assert.Equal(t, model.CommandGrantable, d.Category)
}

func TestPrecheckRequiresIndividualForDestructive(t *testing.T) {
	m := newTestManager()
	d := m.Precheck("aws ec2 terminate-instances --instance-ids i-0123456789abcdef0", "", "agent-1", "111111111111", "111111111111")
	assert.Equal(t, model.CommandRequiresIndividual, d.Category)
}

func TestPrecheckBlockedForForbiddenFlag(t *testing.T) {
	m := newTestManager()
	d := m.Precheck("aws s3 ls --endpoint-url http://evil.example", "", "agent-1", "111111111111", "111111111111")
	assert.Equal(t, model.CommandBlocked, d.Category)
	assert.NotEmpty(t, d.BlockReason)
}

func TestCreateRejectsOversizedBatch(t *testing.T) {
	m := newTestManager()
	cmds := make([]string, MaxCommandsPerBatch+1)
	for i := range cmds {
		cmds[i] = "aws ec2 describe-instances"
	}
	_, err := m.Create(context.Background(), "agent-1", "111111111111", "batch", cmds, model.ApprovalAll, false, 0, 0)
	assert.Error(t, err)
}

func TestCreateThenActivateAllMode(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "batch ops",
		[]string{"aws ec2 describe-instances", "aws ec2 terminate-instances --instance-ids i-0123456789abcdef0"},
		model.ApprovalAll, false, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, model.GrantPendingApproval, gs.Status)

	activated, err := m.Activate(ctx, gs.GrantID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantActive, activated.Status)
	assert.Len(t, activated.GrantedCommands, 2, "approval mode all grants both grantable and requires_individual rows")
}

func TestCreateThenActivateSafeOnlyMode(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "batch ops",
		[]string{"aws ec2 describe-instances", "aws ec2 terminate-instances --instance-ids i-0123456789abcdef0"},
		model.ApprovalSafeOnly, false, 0, 0)
	require.NoError(t, err)

	activated, err := m.Activate(ctx, gs.GrantID)
	require.NoError(t, err)
	assert.Len(t, activated.GrantedCommands, 1, "safe_only grants only the grantable row")
	assert.Equal(t, "aws ec2 describe-instances", activated.GrantedCommands[0])
}

func TestTryUseSingleUseSucceedsOnceThenFails(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "read access",
		[]string{"aws ec2 describe-instances"}, model.ApprovalAll, false, 0, 0)
	require.NoError(t, err)
	_, err = m.Activate(ctx, gs.GrantID)
	require.NoError(t, err)

	ok, _, err := m.TryUse(ctx, gs.GrantID, "aws ec2 describe-instances")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, reason, err := m.TryUse(ctx, gs.GrantID, "aws ec2 describe-instances")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestTryUseRejectsUncoveredCommand(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "read access",
		[]string{"aws ec2 describe-instances"}, model.ApprovalAll, false, 0, 0)
	require.NoError(t, err)
	_, err = m.Activate(ctx, gs.GrantID)
	require.NoError(t, err)

	ok, reason, err := m.TryUse(ctx, gs.GrantID, "aws s3 ls")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "not covered")
}

func TestTryUseRejectsPendingGrant(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "read access",
		[]string{"aws ec2 describe-instances"}, model.ApprovalAll, false, 0, 0)
	require.NoError(t, err)

	ok, reason, err := m.TryUse(ctx, gs.GrantID, "aws ec2 describe-instances")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "not active")
}

func TestDenyPreventsActivation(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	gs, err := m.Create(ctx, "agent-1", "111111111111", "read access",
		[]string{"aws ec2 describe-instances"}, model.ApprovalAll, false, 0, 0)
	require.NoError(t, err)
	require.NoError(t, m.Deny(ctx, gs.GrantID))

	got, err := m.Get(ctx, gs.GrantID)
	require.NoError(t, err)
	assert.Equal(t, model.GrantDenied, got.Status)
}
