// Package grant implements the Grant-Session Subsystem (C7): a batch of up
// to 20 pre-approved commands, each precheck-classified into grantable,
// requires_individual, or blocked, then consumed one at a time against the
// executor with single-use or repeatable semantics.
package grant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/compliance"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/risk"
	"github.com/bouncer/broker/internal/store"
	"github.com/google/uuid"
)

// MaxCommandsPerBatch is the hard cap on a single grant-session request.
const MaxCommandsPerBatch = 20

// RequiresIndividualThreshold is the risk score at/above which a command is
// never directly grantable, even under approval mode "all".
const RequiresIndividualThreshold = 66

// Manager builds, activates and consumes GrantSessions.
type Manager struct {
	store      store.Store
	classifier *classifier.Classifier
	compliance *compliance.Checker
	risk       *risk.Scorer
}

// NewManager builds a grant Manager from the same classifier/compliance/risk
// components the Execution Pipeline (C8) consults directly.
func NewManager(st store.Store, cl *classifier.Classifier, co *compliance.Checker, rs *risk.Scorer) *Manager {
	return &Manager{store: st, classifier: cl, compliance: co, risk: rs}
}

// Normalize implements §4.7's command normalization: strip, collapse
// whitespace, lower-case. It is deliberately distinct from
// classifier.Normalize, which preserves case for display and execution;
// grant matching needs a case-folded key.
func Normalize(cmd string) string {
	return classifierLowerFields(cmd)
}

func classifierLowerFields(cmd string) string {
	normalized := classifier.Normalize(cmd)
	out := make([]byte, 0, len(normalized))
	for i := 0; i < len(normalized); i++ {
		c := normalized[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Precheck classifies one raw command for a prospective grant batch,
// running compliance, the blocked classifier, trust-exclusion (used as a
// coarse high-risk signal), and the risk scorer, per §4.7.
func (m *Manager) Precheck(cmd, reason, source, accountID, defaultAccountID string) model.GrantCommandDetail {
	norm := Normalize(cmd)
	detail := model.GrantCommandDetail{Command: cmd, Normalized: norm}

	if blocked, why := m.classifier.IsBlocked(cmd); blocked {
		detail.Category = model.CommandBlocked
		detail.BlockReason = why
		return detail
	}
	if ok, violation := m.compliance.Check(cmd); !ok {
		detail.Category = model.CommandBlocked
		detail.BlockReason = violation.Description
		return detail
	}

	result := m.risk.ScoreSafe(cmd, reason, source, accountID, defaultAccountID)
	detail.RiskScore = result.Score

	highRisk := m.classifier.IsTrustExcluded(cmd) || result.Score >= RequiresIndividualThreshold
	if highRisk {
		detail.Category = model.CommandRequiresIndividual
	} else {
		detail.Category = model.CommandGrantable
	}
	return detail
}

// Create runs Precheck over every command in the batch and stores a
// pending_approval GrantSession. Returns store.ErrConflict-free as this is
// an insert, not a conditional update.
func (m *Manager) Create(ctx context.Context, source, accountID, reason string, commands []string, mode model.ApprovalMode, allowRepeat bool, maxTotalExecutions, ttlMinutes int) (*model.GrantSession, error) {
	if len(commands) == 0 {
		return nil, fmt.Errorf("grant session requires at least one command")
	}
	if len(commands) > MaxCommandsPerBatch {
		return nil, fmt.Errorf("grant session exceeds the %d-command batch limit", MaxCommandsPerBatch)
	}
	details := make([]model.GrantCommandDetail, 0, len(commands))
	for _, cmd := range commands {
		details = append(details, m.Precheck(cmd, reason, source, accountID, accountID))
	}
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	if maxTotalExecutions <= 0 {
		maxTotalExecutions = len(commands) * 10
	}
	now := time.Now()
	gs := &model.GrantSession{
		GrantID:            strings.ReplaceAll(uuid.NewString(), "-", ""),
		Source:             source,
		AccountID:          accountID,
		CommandsDetail:     details,
		UsedCommands:       map[string]int{},
		MaxTotalExecutions: maxTotalExecutions,
		AllowRepeat:        allowRepeat,
		Status:             model.GrantPendingApproval,
		ApprovalMode:       mode,
		Reason:             reason,
		TTLMinutes:         ttlMinutes,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Duration(ttlMinutes) * time.Minute),
		TTL:                now.Add(24 * time.Hour),
	}
	if err := m.store.PutGrantSession(ctx, gs); err != nil {
		return nil, fmt.Errorf("create grant session: %w", err)
	}
	return gs, nil
}

// grantedCommandsFor applies the approval mode to a precheck result: "all"
// grants every grantable and requires_individual row, "safe_only" grants
// only grantable rows. Blocked rows are never granted.
func grantedCommandsFor(details []model.GrantCommandDetail, mode model.ApprovalMode) []string {
	var out []string
	for _, d := range details {
		switch d.Category {
		case model.CommandBlocked:
			continue
		case model.CommandRequiresIndividual:
			if mode == model.ApprovalAll {
				out = append(out, d.Normalized)
			}
		case model.CommandGrantable:
			out = append(out, d.Normalized)
		}
	}
	return out
}

// Activate transitions a pending grant session to active, computing the
// granted-commands set from its stored approval mode.
func (m *Manager) Activate(ctx context.Context, grantID string) (*model.GrantSession, error) {
	gs, err := m.store.GetGrantSession(ctx, grantID)
	if err != nil {
		return nil, err
	}
	granted := grantedCommandsFor(gs.CommandsDetail, gs.ApprovalMode)
	expiresAt := time.Now().Add(time.Duration(gs.TTLMinutes) * time.Minute)
	if err := m.store.ActivateGrantSession(ctx, grantID, granted, expiresAt); err != nil {
		return nil, err
	}
	return m.store.GetGrantSession(ctx, grantID)
}

func (m *Manager) Deny(ctx context.Context, grantID string) error {
	return m.store.DenyGrantSession(ctx, grantID)
}

func (m *Manager) Revoke(ctx context.Context, grantID string) error {
	return m.store.RevokeGrantSession(ctx, grantID)
}

func (m *Manager) Get(ctx context.Context, grantID string) (*model.GrantSession, error) {
	return m.store.GetGrantSession(ctx, grantID)
}

// TryUse implements §4.7's try_use: normalized command must match (exact
// first, then pattern) a granted entry, the session must be active and
// unexpired, and the store-level conditional update must succeed.
func (m *Manager) TryUse(ctx context.Context, grantID, rawCmd string) (bool, string, error) {
	gs, err := m.store.GetGrantSession(ctx, grantID)
	if err != nil {
		return false, "grant not found", err
	}
	if gs.Status != model.GrantActive {
		return false, "grant is not active", nil
	}
	if !gs.ExpiresAt.After(time.Now()) {
		return false, "grant has expired", nil
	}
	norm := Normalize(rawCmd)
	matched, ok := MatchAny(gs.GrantedCommands, norm)
	if !ok {
		return false, "command is not covered by this grant", nil
	}
	success, err := m.store.ConsumeGrant(ctx, grantID, matched, gs.AllowRepeat)
	if err != nil {
		return false, "", err
	}
	if !success {
		return false, "grant already exhausted for this command or total cap reached", nil
	}
	return true, "", nil
}
