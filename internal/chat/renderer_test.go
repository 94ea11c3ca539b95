package chat

import (
	"testing"
	"time"

	"github.com/bouncer/broker/internal/model"
	"github.com/stretchr/testify/assert"
)

func sampleRequest() *model.Request {
	return &model.Request{
		RequestID: "req-1",
		Source:    "agent-1",
		AccountID: "111111111111",
		Command:   "aws s3 cp s3://bucket-a/key s3://bucket-b/key",
		Reason:    "migrate assets",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
}

func TestApprovalCardIncludesApproveTrustWhenNotDangerous(t *testing.T) {
	card := ApprovalCard(sampleRequest(), false)
	var texts []string
	for _, b := range card.Buttons {
		texts = append(texts, b.Text)
	}
	assert.Contains(t, texts, "✅ Approve + Trust")
	assert.Contains(t, card.Text, "aws s3 cp")
}

func TestApprovalCardOmitsApproveTrustWhenDangerous(t *testing.T) {
	card := ApprovalCard(sampleRequest(), true)
	for _, b := range card.Buttons {
		assert.NotEqual(t, "✅ Approve + Trust", b.Text)
	}
}

func TestApprovalCardButtonDataEncodesActionAndRequestID(t *testing.T) {
	card := ApprovalCard(sampleRequest(), false)
	assert.Equal(t, "approve:req-1", card.Buttons[0].Data)
	assert.Equal(t, "deny:req-1", card.Buttons[len(card.Buttons)-1].Data)
}

func TestResultCardShowsWarningIconOnNonZeroExit(t *testing.T) {
	req := sampleRequest()
	exitCode := 1
	req.ExitCode = &exitCode
	req.Result = "AccessDenied"
	card := ResultCard(req)
	assert.Contains(t, card.Text, "⚠️")
	assert.Contains(t, card.Text, "AccessDenied")
}

func TestResultCardShowsCheckmarkOnSuccess(t *testing.T) {
	req := sampleRequest()
	exitCode := 0
	req.ExitCode = &exitCode
	card := ResultCard(req)
	assert.Contains(t, card.Text, "✅")
}

func TestTrustAutoExecSummaryHasRevokeButton(t *testing.T) {
	req := sampleRequest()
	session := &model.TrustSession{TrustID: "trust-1", CommandCount: 3, MaxCommands: 20}
	card := TrustAutoExecSummary(req, session)
	assert.Len(t, card.Buttons, 1)
	assert.Equal(t, "revoke_trust:trust-1", card.Buttons[0].Data)
	assert.Contains(t, card.Text, "3/20")
}

func TestTruncatePreviewLeavesShortStringsUntouched(t *testing.T) {
	assert.Equal(t, "short", truncatePreview("short", 100))
}

func TestTruncatePreviewTruncatesLongStrings(t *testing.T) {
	long := make([]byte, 50)
	for i := range long {
		long[i] = 'x'
	}
	got := truncatePreview(string(long), 10)
	assert.Contains(t, got, "truncated")
	assert.True(t, len(got) < len(long))
}
