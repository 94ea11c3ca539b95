// Package trust implements the Trust-Session Subsystem (C6): a
// time-and-count-bounded window under which non-excluded commands from a
// (trust_scope, account) pair bypass approval once an approver has opted
// in via "approve + trust".
package trust

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
)

// DefaultWindow and DefaultMaxCommands are the fallbacks used when the
// caller does not specify a duration or command cap on create.
const (
	DefaultWindow      = 600 * time.Second
	DefaultMaxCommands = 20
)

// Manager implements create/lookup/exclusion/auto-approve/consume/revoke
// over a store.Store.
type Manager struct {
	store      store.Store
	classifier *classifier.Classifier
	hashKey    []byte
}

// NewManager builds a trust Manager. hashKey seeds the deterministic
// trust_id hash so IDs are not guessable from (scope, account) alone.
func NewManager(st store.Store, cl *classifier.Classifier, hashKey []byte) *Manager {
	return &Manager{store: st, classifier: cl, hashKey: hashKey}
}

// TrustID computes the deterministic trust_id for (trustScope, accountID):
// an HMAC-SHA256 of the pair so the same scope always resolves to the same
// row without leaking the raw inputs.
func (m *Manager) TrustID(trustScope, accountID string) string {
	mac := hmac.New(sha256.New, m.hashKey)
	mac.Write([]byte(trustScope))
	mac.Write([]byte{0})
	mac.Write([]byte(accountID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create upserts a trust session for (trustScope, accountID), approved by
// approvedBy, for window seconds allowing up to maxCommands auto-approved
// commands.
func (m *Manager) Create(ctx context.Context, trustScope, accountID, approvedBy string, window time.Duration, maxCommands int) (*model.TrustSession, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxCommands <= 0 {
		maxCommands = DefaultMaxCommands
	}
	now := time.Now()
	ts := &model.TrustSession{
		TrustID:     m.TrustID(trustScope, accountID),
		Source:      trustScope,
		AccountID:   accountID,
		ApprovedBy:  approvedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(window),
		MaxCommands: maxCommands,
	}
	if err := m.store.PutTrustSession(ctx, ts); err != nil {
		return nil, fmt.Errorf("create trust session: %w", err)
	}
	return ts, nil
}

// Lookup returns the live trust session for (trustScope, accountID), or
// store.ErrNotFound if none exists or it has expired.
func (m *Manager) Lookup(ctx context.Context, trustScope, accountID string) (*model.TrustSession, error) {
	return m.store.GetTrustSession(ctx, trustScope, accountID)
}

// IsExcluded reports whether cmd must always require fresh approval, even
// under an otherwise-valid trust session.
func (m *Manager) IsExcluded(cmd string) bool {
	return m.classifier.IsTrustExcluded(cmd)
}

// Decision is should_trust_approve's verdict.
type Decision struct {
	Approve bool
	Session *model.TrustSession
	Reason  string
}

// ShouldAutoApprove implements §4.6's should_trust_approve: yes only when
// trust is enabled, a live session exists under its command cap, the
// command is not exclusion-listed, and the session has not expired.
func (m *Manager) ShouldAutoApprove(ctx context.Context, enabled bool, cmd, trustScope, accountID string) Decision {
	if !enabled || trustScope == "" {
		return Decision{Approve: false, Reason: "trust disabled or no source"}
	}
	ts, err := m.Lookup(ctx, trustScope, accountID)
	if err != nil {
		return Decision{Approve: false, Reason: "no active trust session"}
	}
	if ts.CommandCount >= ts.MaxCommands {
		return Decision{Approve: false, Session: ts, Reason: "trust session command budget exhausted"}
	}
	if m.IsExcluded(cmd) {
		return Decision{Approve: false, Session: ts, Reason: "command is excluded from trust auto-approval"}
	}
	remaining := time.Until(ts.ExpiresAt)
	if remaining <= 0 {
		return Decision{Approve: false, Session: ts, Reason: "trust session expired"}
	}
	return Decision{
		Approve: true,
		Session: ts,
		Reason:  fmt.Sprintf("trust session active, %ds remaining, %d/%d commands used", int(remaining.Seconds()), ts.CommandCount, ts.MaxCommands),
	}
}

// Consume atomically increments the session's command_count after the
// executor has run the auto-approved command.
func (m *Manager) Consume(ctx context.Context, trustID string) error {
	return m.store.IncrementTrustCommandCount(ctx, trustID)
}

// Revoke deletes a trust session outright.
func (m *Manager) Revoke(ctx context.Context, trustID string) error {
	return m.store.DeleteTrustSession(ctx, trustID)
}
