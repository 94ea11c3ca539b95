package upload

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bouncer/broker/internal/config"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	lastInput PipelineInput
	result    *model.Request
	err       error
}

func (f *fakePipeline) Execute(ctx context.Context, in PipelineInput) (*model.Request, error) {
	f.lastInput = in
	return f.result, f.err
}

type fakeStaging struct {
	present map[string]bool
}

func (f *fakeStaging) Head(ctx context.Context, key string) (bool, int64, error) {
	return f.present[key], 0, nil
}

func testConfig() config.UploadConfig {
	return config.UploadConfig{StagingBucket: "bouncer-staging", MinURLExpirySec: 60, MaxURLExpirySec: 3600, SigningSecret: "shh"}
}

func TestRequestPresignedBatchClampsExpiry(t *testing.T) {
	m := New(testConfig(), nil, store.NewMemoryStore())
	urls, err := m.RequestPresignedBatch(context.Background(), []FileRequest{{Filename: "a.csv"}}, "agent-1", 10000)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.WithinDuration(t, time.Now().Add(3600*time.Second), urls[0].ExpiresAt, 5*time.Second)
}

func TestRequestPresignedBatchIssuesDistinctKeysPerFile(t *testing.T) {
	m := New(testConfig(), nil, store.NewMemoryStore())
	urls, err := m.RequestPresignedBatch(context.Background(), []FileRequest{
		{Filename: "a.csv"}, {Filename: "b.csv"}, {Filename: "c.csv"},
	}, "agent-1", 300)
	require.NoError(t, err)
	require.Len(t, urls, 3)
	assert.NotEqual(t, urls[0].S3Key, urls[1].S3Key)
	assert.Contains(t, urls[0].URL, "sig=")
}

func TestConfirmAllPresentVerifiesTrue(t *testing.T) {
	st := store.NewMemoryStore()
	staging := &fakeStaging{present: map[string]bool{"agent-1/a.csv": true, "agent-1/b.csv": true}}
	m := New(testConfig(), staging, st)

	result, err := m.Confirm(context.Background(), "batch-1", "agent-1", []string{"agent-1/a.csv", "agent-1/b.csv"})
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Empty(t, result.Missing)
}

func TestConfirmMissingKeyVerifiesFalse(t *testing.T) {
	st := store.NewMemoryStore()
	staging := &fakeStaging{present: map[string]bool{"agent-1/a.csv": true, "agent-1/b.csv": true}}
	m := New(testConfig(), staging, st)

	result, err := m.Confirm(context.Background(), "batch-2", "agent-1",
		[]string{"agent-1/a.csv", "agent-1/b.csv", "agent-1/c.csv"})
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, []string{"agent-1/c.csv"}, result.Missing)

	audits, err := st.ListAudit(context.Background(), "batch-2")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "confirm_upload", audits[0].Action)
}

func TestUploadSmallStagesFileAndBuildsS3CopyCommand(t *testing.T) {
	dir := t.TempDir()
	orig := StagingDir
	StagingDir = dir
	defer func() { StagingDir = orig }()

	m := New(testConfig(), nil, store.NewMemoryStore())
	pipe := &fakePipeline{result: &model.Request{RequestID: "req-1", Status: model.StatusPendingApproval}}

	content := base64.StdEncoding.EncodeToString([]byte("hello world"))
	req, err := m.UploadSmall(context.Background(), pipe, "report.csv", content, "nightly export", "agent-1", "111111111111")
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "agent-1", pipe.lastInput.Source)
	assert.Equal(t, "111111111111", pipe.lastInput.AccountID)
	assert.Contains(t, pipe.lastInput.Command, "aws s3 cp")
	assert.Contains(t, pipe.lastInput.Command, "s3://bouncer-staging/agent-1/report.csv")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-report.csv"))
}

func TestUploadSmallRejectsInvalidBase64(t *testing.T) {
	m := New(testConfig(), nil, store.NewMemoryStore())
	_, err := m.UploadSmall(context.Background(), &fakePipeline{}, "a.csv", "not-base64!!", "r", "agent-1", "")
	assert.Error(t, err)
}

func TestUploadSmallRejectsOversizedPayload(t *testing.T) {
	dir := t.TempDir()
	orig := StagingDir
	StagingDir = dir
	defer func() { StagingDir = orig }()

	m := New(testConfig(), nil, store.NewMemoryStore())
	big := base64.StdEncoding.EncodeToString(make([]byte, MaxSmallUploadBytes+1))
	_, err := m.UploadSmall(context.Background(), &fakePipeline{}, "a.bin", big, "r", "agent-1", "")
	assert.Error(t, err)
}

func TestCleanupStaleRemovesOldFilesOnly(t *testing.T) {
	dir := t.TempDir()
	orig := StagingDir
	StagingDir = dir
	defer func() { StagingDir = orig }()

	oldPath := filepath.Join(dir, "old-file.csv")
	newPath := filepath.Join(dir, "new-file.csv")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(newPath, []byte("x"), 0o600))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	removed, err := CleanupStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}
