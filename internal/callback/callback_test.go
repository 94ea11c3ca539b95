package callback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bouncer/broker/internal/chat"
	"github.com/bouncer/broker/internal/executor"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls int
	next  executor.Result
	err   error
}

func (f *fakeBackend) Run(ctx context.Context, argv []string, env map[string]string, timeout time.Duration) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.next, f.err
}

type recordingEditor struct {
	mu      sync.Mutex
	edits   []chat.Card
	answers []string
}

func (e *recordingEditor) Edit(ctx context.Context, messageID int, card chat.Card) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edits = append(e.edits, card)
	return nil
}

func (e *recordingEditor) Answer(ctx context.Context, callbackID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers = append(e.answers, text)
	return nil
}

func newTestHandler(t *testing.T, approvers []string) (*Handler, store.Store, *recordingEditor, *fakeBackend) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutAccount(context.Background(), &model.Account{
		AccountID: "111111111111", Name: "prod", Enabled: true, IsDefault: true, CreatedAt: time.Now(),
	}))
	cl := classifier.New(nil, nil, nil, classifier.TrustExclusions{Services: []string{"iam"}})
	tr := trust.NewManager(st, cl, []byte("test-key"))
	backend := &fakeBackend{next: executor.Result{ExitCode: 0, Output: "ok"}}
	editor := &recordingEditor{}
	h := New(st, tr, backend, editor, approvers, time.Minute, 5)
	return h, st, editor, backend
}

func putPending(t *testing.T, st store.Store, requestID string) *model.Request {
	t.Helper()
	req := &model.Request{
		RequestID: requestID, Source: "agent-1", AccountID: "111111111111",
		Command: "aws s3 cp s3://bucket-a/key s3://bucket-b/key", Status: model.StatusPendingApproval,
		TrustScope: "agent-1", ChatMessageID: 42, ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, st.PutRequest(context.Background(), req))
	return req
}

func TestHandleCallbackDeniesNotAuthorizedApprover(t *testing.T) {
	h, st, editor, backend := newTestHandler(t, []string{"alice"})
	req := putPending(t, st, "req-1")

	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "mallory", Data: "approve:" + req.RequestID, CallbackID: "cb-1", OriginMessageID: 42,
	})
	require.NoError(t, err)
	require.Len(t, editor.answers, 1)
	assert.Equal(t, "not authorized", editor.answers[0])
	assert.Empty(t, editor.edits)
	assert.Equal(t, 0, backend.calls)

	stored, err := st.GetRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, stored.Status)
}

func TestHandleCallbackExpiredForUnknownRequest(t *testing.T) {
	h, _, editor, _ := newTestHandler(t, nil)
	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "approve:does-not-exist", CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.NoError(t, err)
	require.Len(t, editor.answers, 1)
	assert.Equal(t, "expired", editor.answers[0])
}

func TestHandleCallbackAlreadyHandledForDecidedRequest(t *testing.T) {
	h, st, editor, _ := newTestHandler(t, nil)
	req := putPending(t, st, "req-2")
	require.NoError(t, st.UpdateRequest(context.Background(), req.RequestID, model.StatusPendingApproval, func(r *model.Request) error {
		r.Status = model.StatusDenied
		return nil
	}))

	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "approve:" + req.RequestID, CallbackID: "cb-1", OriginMessageID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, "already handled", editor.answers[0])
}

func TestHandleCallbackApproveRunsExecutorAndEditsResult(t *testing.T) {
	h, st, editor, backend := newTestHandler(t, nil)
	req := putPending(t, st, "req-3")

	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "approve:" + req.RequestID, CallbackID: "cb-1", OriginMessageID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
	require.Len(t, editor.edits, 1)
	assert.Contains(t, editor.edits[0].Text, "ok")
	require.Len(t, editor.answers, 1)

	stored, err := st.GetRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
	assert.Equal(t, "alice", stored.ApprovedBy)
	require.NotNil(t, stored.ExitCode)
	assert.Equal(t, 0, *stored.ExitCode)
}

func TestHandleCallbackApproveTrustCreatesSession(t *testing.T) {
	h, st, _, backend := newTestHandler(t, nil)
	req := putPending(t, st, "req-4")

	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "approve_trust:" + req.RequestID, CallbackID: "cb-1", OriginMessageID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)

	ts, err := st.GetTrustSession(context.Background(), req.TrustScope, req.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "alice", ts.ApprovedBy)
}

func TestHandleCallbackDenyDoesNotExecute(t *testing.T) {
	h, st, editor, backend := newTestHandler(t, nil)
	req := putPending(t, st, "req-5")

	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "deny:" + req.RequestID, CallbackID: "cb-1", OriginMessageID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, backend.calls)
	require.Len(t, editor.edits, 1)

	stored, err := st.GetRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, stored.Status)
}

func TestHandleCallbackRevokeTrust(t *testing.T) {
	h, st, editor, _ := newTestHandler(t, nil)
	ctx := context.Background()
	session, err := h.trust.Create(ctx, "agent-1", "111111111111", "alice", time.Minute, 5)
	require.NoError(t, err)

	err = h.HandleCallback(ctx, chat.CallbackEvent{
		ApproverID: "alice", Data: "revoke_trust:" + session.TrustID, CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, editor.answers, "trust revoked")

	_, err = st.GetTrustSession(ctx, "agent-1", "111111111111")
	assert.Error(t, err)
}

func TestHandleCallbackAccountApproveEnablesAccount(t *testing.T) {
	h, st, editor, _ := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, st.PutAccount(ctx, &model.Account{AccountID: "222222222222", Name: "staging", Enabled: false}))

	err := h.HandleCallback(ctx, chat.CallbackEvent{
		ApproverID: "alice", Data: "account_approve:222222222222", CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.NoError(t, err)
	require.Len(t, editor.edits, 1)

	acct, err := st.GetAccount(ctx, "222222222222")
	require.NoError(t, err)
	assert.True(t, acct.Enabled)
}

func TestHandleCallbackAccountApproveRemovalDeletesAccount(t *testing.T) {
	h, st, editor, _ := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, st.PutAccount(ctx, &model.Account{AccountID: "222222222222", Name: "staging", Enabled: true, PendingRemoval: true}))

	err := h.HandleCallback(ctx, chat.CallbackEvent{
		ApproverID: "alice", Data: "account_approve:222222222222", CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.NoError(t, err)
	require.Len(t, editor.edits, 1)

	_, err = st.GetAccount(ctx, "222222222222")
	assert.Error(t, err)
}

func TestHandleCallbackAccountDenyRemovalKeepsAccount(t *testing.T) {
	h, st, editor, _ := newTestHandler(t, nil)
	ctx := context.Background()
	require.NoError(t, st.PutAccount(ctx, &model.Account{AccountID: "222222222222", Name: "staging", Enabled: true, PendingRemoval: true}))

	err := h.HandleCallback(ctx, chat.CallbackEvent{
		ApproverID: "alice", Data: "account_deny:222222222222", CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.NoError(t, err)
	require.Len(t, editor.edits, 1)

	acct, err := st.GetAccount(ctx, "222222222222")
	require.NoError(t, err)
	assert.True(t, acct.Enabled)
	assert.False(t, acct.PendingRemoval)
}

func TestHandleCallbackMalformedDataAnswersWithoutPanicking(t *testing.T) {
	h, _, editor, _ := newTestHandler(t, nil)
	err := h.HandleCallback(context.Background(), chat.CallbackEvent{
		ApproverID: "alice", Data: "not-well-formed", CallbackID: "cb-1", OriginMessageID: 1,
	})
	require.Error(t, err)
	assert.Equal(t, "malformed callback", editor.answers[0])
}
