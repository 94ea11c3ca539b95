// Package upload implements presigned-URL issuance and post-hoc
// verification for the staging-bucket upload path: request_presigned(_batch)
// hands out time-bounded PUT URLs with no approval step, and confirm_upload
// checks which of a batch's keys actually landed before writing the audit
// trail.
package upload

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bouncer/broker/internal/config"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
	"github.com/google/uuid"
)

// ConfirmTTL is how long a written Confirm-record is retained, per §8's
// scenario F ("ttl ~= now + 7 days").
const ConfirmTTL = 7 * 24 * time.Hour

// StagingStore reports whether an object has actually landed in the
// staging bucket. Production wiring backs this with the object store the
// deployment uses; it is intentionally narrow so confirm_upload never
// needs more than existence + size.
type StagingStore interface {
	Head(ctx context.Context, key string) (exists bool, size int64, err error)
}

// FileRequest is one file in a request_presigned_batch call.
type FileRequest struct {
	Filename    string
	ContentType string
}

// PresignedURL is one issued PUT target.
type PresignedURL struct {
	S3Key     string
	URL       string
	ExpiresAt time.Time
}

// Manager issues and verifies staging-bucket uploads.
type Manager struct {
	cfg     config.UploadConfig
	staging StagingStore
	store   store.Store
}

// New builds an upload Manager. staging may be nil for deployments that
// only use the small-payload upload/upload_batch path (which never calls
// Confirm) or in tests that stub HeadObject separately.
func New(cfg config.UploadConfig, staging StagingStore, st store.Store) *Manager {
	return &Manager{cfg: cfg, staging: staging, store: st}
}

// clampExpiry bounds expiresIn to [MinURLExpirySec, MaxURLExpirySec], per
// the RPC table's `expires_in∈[60,3600]` constraint.
func (m *Manager) clampExpiry(expiresIn int) time.Duration {
	min, max := m.cfg.MinURLExpirySec, m.cfg.MaxURLExpirySec
	if min == 0 {
		min = 60
	}
	if max == 0 {
		max = 3600
	}
	if expiresIn < min {
		expiresIn = min
	}
	if expiresIn > max {
		expiresIn = max
	}
	return time.Duration(expiresIn) * time.Second
}

// sign produces an HMAC-SHA256 over the key and its expiry, grounded on
// the teacher's inter-instance challenge signer (internal/federation):
// same primitive, same key || timestamp framing, applied to staging
// objects instead of handshake nonces.
func (m *Manager) sign(key string, expiresAt time.Time) string {
	h := hmac.New(sha256.New, []byte(m.cfg.SigningSecret))
	h.Write([]byte(key))
	h.Write([]byte(fmt.Sprintf("%d", expiresAt.Unix())))
	return hex.EncodeToString(h.Sum(nil))
}

// RequestPresigned issues a single PUT URL. No approval step per the RPC
// table: the staging bucket is a broker-owned intermediate, not the
// target account.
func (m *Manager) RequestPresigned(ctx context.Context, filename, source string, expiresIn int) (*PresignedURL, string, error) {
	batchID := uuid.NewString()
	urls, err := m.RequestPresignedBatch(ctx, []FileRequest{{Filename: filename}}, source, expiresIn)
	if err != nil {
		return nil, "", err
	}
	return urls[0], batchID, nil
}

// RequestPresignedBatch issues one PUT URL per file, keyed as
// "<source>/<filename>" with one shared expiry. Keys carry no batch
// prefix; confirm_upload checks whatever key list its caller passes.
func (m *Manager) RequestPresignedBatch(ctx context.Context, files []FileRequest, source string, expiresIn int) ([]*PresignedURL, error) {
	ttl := m.clampExpiry(expiresIn)
	expiresAt := time.Now().Add(ttl)
	urls := make([]*PresignedURL, 0, len(files))
	for _, f := range files {
		key := fmt.Sprintf("%s/%s", source, f.Filename)
		sig := m.sign(key, expiresAt)
		url := fmt.Sprintf("https://%s.s3.amazonaws.com/%s?expires=%d&sig=%s",
			m.cfg.StagingBucket, key, expiresAt.Unix(), sig)
		urls = append(urls, &PresignedURL{S3Key: key, URL: url, ExpiresAt: expiresAt})
	}
	return urls, nil
}

// ConfirmResult is the outcome of a confirm_upload call.
type ConfirmResult struct {
	BatchID  string
	Verified bool
	Missing  []string
}

// Confirm checks every key in the batch against the staging store and
// writes an audit row regardless of outcome, per the RPC table's
// "Verifies staging; writes audit row".
func (m *Manager) Confirm(ctx context.Context, batchID, source string, keys []string) (*ConfirmResult, error) {
	result := &ConfirmResult{BatchID: batchID, Verified: true}
	for _, key := range keys {
		exists := true
		var err error
		if m.staging != nil {
			exists, _, err = m.staging.Head(ctx, key)
		}
		if err != nil || !exists {
			result.Verified = false
			result.Missing = append(result.Missing, key)
		}
	}

	details := map[string]interface{}{
		"batch_id": batchID,
		"verified": result.Verified,
		"missing":  result.Missing,
		"ttl":      time.Now().Add(ConfirmTTL),
	}
	if err := m.store.AppendAudit(ctx, &model.AuditLog{
		ID: uuid.NewString(), RequestID: batchID, Action: "confirm_upload",
		Actor: source, Details: details, CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// MaxSmallUploadBytes bounds the base64-decoded payload the small-payload
// upload/upload_batch path accepts before a caller is expected to switch to
// request_presigned instead.
const MaxSmallUploadBytes = 5 << 20 // 5 MiB

// StagingDir is where decoded small-payload uploads are staged on local
// disk before the pipeline's Executor copies them into the target bucket.
// A background janitor (CleanupStale) reclaims files the pipeline never
// got around to executing.
var StagingDir = filepath.Join(os.TempDir(), "bouncer-uploads")

// PipelineInput is the narrow slice of pipeline.ExecuteInput the
// small-payload path needs; kept local so this package does not import
// internal/pipeline (which would create an import cycle back through
// internal/account-style wiring in cmd/server/main.go).
type PipelineInput struct {
	Command   string
	Reason    string
	Source    string
	AccountID string
	Context   string
}

// PipelineExecutor is the surface UploadSmall needs from the Execution
// Pipeline: run one constructed command through the same approval flow
// as the `execute` RPC tool.
type PipelineExecutor interface {
	Execute(ctx context.Context, in PipelineInput) (*model.Request, error)
}

// UploadSmall decodes a base64 payload, stages it on local disk, and
// submits a synthetic `aws s3 cp` command through the ordinary approval
// pipeline, per the RPC table's "routes through same approval pipeline".
func (m *Manager) UploadSmall(ctx context.Context, pipe PipelineExecutor, filename, contentB64, reason, source, accountID string) (*model.Request, error) {
	content, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return nil, fmt.Errorf("upload: invalid base64 content: %w", err)
	}
	if len(content) > MaxSmallUploadBytes {
		return nil, fmt.Errorf("upload: payload exceeds %d bytes, use request_presigned instead", MaxSmallUploadBytes)
	}

	localPath, err := m.stageLocal(filename, content)
	if err != nil {
		return nil, fmt.Errorf("upload: stage file: %w", err)
	}

	key := fmt.Sprintf("%s/%s", source, filepath.Base(filename))
	cmd := fmt.Sprintf("aws s3 cp %s s3://%s/%s", localPath, m.cfg.StagingBucket, key)
	return pipe.Execute(ctx, PipelineInput{
		Command:   cmd,
		Reason:    reason,
		Source:    source,
		AccountID: accountID,
	})
}

// stageLocal writes content under StagingDir using a collision-resistant
// name, creating the directory on first use.
func (m *Manager) stageLocal(filename string, content []byte) (string, error) {
	if err := os.MkdirAll(StagingDir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(StagingDir, uuid.NewString()+"-"+filepath.Base(filename))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// CleanupStale removes staged upload files older than maxAge. Intended to
// run alongside the store's background reaper (§5) in cmd/server/main.go.
func CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(StagingDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(StagingDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
