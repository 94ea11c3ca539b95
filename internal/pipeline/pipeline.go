// Package pipeline implements the Execution Pipeline (C8): the ordered,
// short-circuiting sequence of checks every agent command travels before a
// terminal status is reached, per §4.8.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bouncer/broker/internal/bouncererr"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/compliance"
	"github.com/bouncer/broker/internal/executor"
	"github.com/bouncer/broker/internal/grant"
	"github.com/bouncer/broker/internal/metrics"
	"github.com/bouncer/broker/internal/middleware"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/risk"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
	"github.com/google/uuid"
)

// Notifier abstracts the Chat Channel (C5) operations the pipeline needs:
// an approval prompt with inline buttons, and a silent (do-not-notify) note
// for auto-approved paths.
type Notifier interface {
	SendApprovalPrompt(ctx context.Context, req *model.Request, allowTrustButton bool) (chatMessageID int, err error)
	SendSilent(ctx context.Context, text string) (chatMessageID int, err error)
}

// Config carries the pipeline's tunable policy knobs, sourced from
// internal/config at wiring time.
type Config struct {
	TrustEnabled             bool
	ApprovalTimeout          time.Duration
	TTLBuffer                time.Duration
	SyncMaxWait              time.Duration
	SyncPollInterval         time.Duration
	MaxPendingPerSource      int
	WhitelistedDistributions []string
	ExecutorTimeout          time.Duration
}

func defaultConfig(c Config) Config {
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 5 * time.Minute
	}
	if c.TTLBuffer <= 0 {
		c.TTLBuffer = time.Hour
	}
	if c.SyncMaxWait <= 0 {
		c.SyncMaxWait = 290 * time.Second
	}
	if c.SyncPollInterval <= 0 {
		c.SyncPollInterval = 250 * time.Millisecond
	}
	if c.MaxPendingPerSource <= 0 {
		c.MaxPendingPerSource = 5
	}
	if c.ExecutorTimeout <= 0 {
		c.ExecutorTimeout = executor.DefaultTimeout
	}
	return c
}

// Pipeline wires every decision component (C1-C4, C6, C7) and the Executor
// (C9) into §4.8's ordered flow.
type Pipeline struct {
	store       store.Store
	classifier  *classifier.Classifier
	compliance  *compliance.Checker
	risk        *risk.Scorer
	trust       *trust.Manager
	grant       *grant.Manager
	backend     executor.Backend
	notifier    Notifier
	rateLimiter *middleware.RateLimiter
	cfg         Config
	metrics     *metrics.Metrics
}

// New builds a Pipeline. notifier may be nil in tests that never exercise
// the pending_approval path.
func New(st store.Store, cl *classifier.Classifier, co *compliance.Checker, rs *risk.Scorer, tr *trust.Manager, gr *grant.Manager, backend executor.Backend, notifier Notifier, rl *middleware.RateLimiter, cfg Config) *Pipeline {
	return &Pipeline{
		store: st, classifier: cl, compliance: co, risk: rs, trust: tr, grant: gr,
		backend: backend, notifier: notifier, rateLimiter: rl, cfg: defaultConfig(cfg),
	}
}

// SetMetrics attaches a Metrics collector set; nil is the default and
// simply disables recording, so tests need not construct one.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *Pipeline) recordDecision(status, decisionType string) {
	if p.metrics == nil {
		return
	}
	p.metrics.DecisionsTotal.WithLabelValues(status, decisionType).Inc()
}

// ExecuteInput is the agent-facing `execute` tool's parsed input.
type ExecuteInput struct {
	Command   string
	Reason    string
	Source    string // trust_scope
	AccountID string
	Context   string
	Sync      bool
	GrantID   string
}

// Execute runs §4.8's full pipeline for one command and returns the
// resulting Request row (terminal, auto-approved, or still pending).
func (p *Pipeline) Execute(ctx context.Context, in ExecuteInput) (*model.Request, error) {
	// Step 1: parse & validate.
	if in.Command == "" {
		return nil, bouncererr.Internal("command must not be empty")
	}
	if in.Source == "" {
		return nil, bouncererr.Internal("trust_scope is required")
	}

	// Step 2: resolve target account.
	account, err := p.resolveAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &model.Request{
		RequestID: uuid.NewString(),
		Source:    in.Source,
		AccountID: account.AccountID,
		Command:   in.Command,
		Reason:    in.Reason,
		Context:   in.Context,
		Action:    model.ActionExecute,
		Status:    model.StatusPendingApproval,
		TrustScope: in.Source,
		CreatedAt: now,
	}

	// Step 3: grant check.
	if in.GrantID != "" {
		ok, reason, err := p.grant.TryUse(ctx, in.GrantID, in.Command)
		if err == nil && ok {
			req.GrantID = in.GrantID
			req.DecisionType = "grant"
			req.Status = model.StatusApproved
			approvedAt := now
			req.ApprovedAt = &approvedAt
			if putErr := p.store.PutRequest(ctx, req); putErr != nil {
				return nil, bouncererr.Internal("failed to persist request: " + putErr.Error())
			}
			p.runExecution(ctx, req, account)
			_ = p.audit(ctx, req.RequestID, "grant_consumed", "system", map[string]interface{}{"grant_id": in.GrantID})
			p.recordDecision(string(req.Status), req.DecisionType)
			if p.metrics != nil {
				p.metrics.GrantConsumptions.WithLabelValues(in.Source).Inc()
			}
			return req, nil
		}
		// Fall through to the normal pipeline: grant either inactive,
		// expired, not matching, or already consumed. reason is kept for
		// forensic purposes only; spec treats this as a silent fallthrough.
		_ = reason
	}

	// Step 4: compliance.
	if ok, violation := p.compliance.Check(in.Command); !ok {
		return p.terminalBlocked(ctx, req, violation.RuleID, violation.Remediation, "compliance violation: "+violation.Description)
	}

	// Step 5: blocked classifier.
	if blocked, reason := p.classifier.IsBlocked(in.Command); blocked {
		return p.terminalBlocked(ctx, req, "", "", reason)
	}

	// Step 6: auto-approve classifier.
	if p.classifier.IsAutoApprove(in.Command, p.cfg.WhitelistedDistributions) {
		req.DecisionType = "auto_approve_classifier"
		req.Status = model.StatusAutoApproved
		approvedAt := now
		req.ApprovedAt = &approvedAt
		if err := p.store.PutRequest(ctx, req); err != nil {
			return nil, bouncererr.Internal("failed to persist request: " + err.Error())
		}
		p.runExecution(ctx, req, account)
		p.recordDecision(string(req.Status), req.DecisionType)
		return req, nil
	}

	// Step 7: rate limits. Fail-open on store errors per §7.
	if p.rateLimiter != nil && !p.rateLimiter.Allow(in.Source) {
		if p.metrics != nil {
			p.metrics.RateLimitRejected.WithLabelValues("rate_limit").Inc()
		}
		return nil, &bouncererr.DecisionError{Tag: bouncererr.ErrRateLimited, Message: "command rate limit exceeded for this source"}
	}
	if pending, err := p.store.CountPendingBySource(ctx, in.Source); err == nil {
		if pending >= p.cfg.MaxPendingPerSource {
			if p.metrics != nil {
				p.metrics.RateLimitRejected.WithLabelValues("pending_limit").Inc()
			}
			return nil, &bouncererr.DecisionError{Tag: bouncererr.ErrPendingLimited, Message: "too many pending requests for this source"}
		}
	}

	// Step 8: trust-session auto-approve.
	decision := p.trust.ShouldAutoApprove(ctx, p.cfg.TrustEnabled, in.Command, in.Source, account.AccountID)
	if decision.Approve {
		req.DecisionType = "trust"
		req.Status = model.StatusAutoApproved
		approvedAt := now
		req.ApprovedAt = &approvedAt
		if err := p.store.PutRequest(ctx, req); err != nil {
			return nil, bouncererr.Internal("failed to persist request: " + err.Error())
		}
		p.runExecution(ctx, req, account)
		p.recordDecision(string(req.Status), req.DecisionType)
		if p.metrics != nil {
			p.metrics.TrustAutoApprovals.WithLabelValues(in.Source).Inc()
		}
		if decision.Session != nil {
			_ = p.trust.Consume(ctx, decision.Session.TrustID)
			if p.notifier != nil {
				summary := fmt.Sprintf("auto-executed under trust session: %s (%d/%d used)", previewCommand(in.Command), decision.Session.CommandCount+1, decision.Session.MaxCommands)
				_, _ = p.notifier.SendSilent(ctx, summary)
			}
		}
		return req, nil
	}

	// Step 9: risk-score, shadow-only except for the block category.
	defaultAccountID := account.AccountID
	if defaultAcct, err := p.store.DefaultAccount(ctx); err == nil && defaultAcct != nil {
		defaultAccountID = defaultAcct.AccountID
	}
	result := p.risk.ScoreSafe(in.Command, in.Reason, in.Source, account.AccountID, defaultAccountID)
	req.RiskScore = result.Score
	req.RiskCategory = string(result.Category)
	req.RiskFactors = result.Factors
	if result.Category == risk.CategoryBlock {
		return p.terminalBlocked(ctx, req, "", "", "risk score exceeds the blocking threshold")
	}

	// Step 10: submit for approval.
	req.ExpiresAt = now.Add(p.cfg.ApprovalTimeout)
	req.TTL = req.ExpiresAt.Add(p.cfg.TTLBuffer)
	if err := p.store.PutRequest(ctx, req); err != nil {
		return nil, bouncererr.Internal("failed to persist request: " + err.Error())
	}
	_ = p.audit(ctx, req.RequestID, "submitted", in.Source, nil)

	if p.notifier != nil {
		allowTrustButton := !p.classifier.IsDangerous(in.Command)
		messageID, err := p.notifier.SendApprovalPrompt(ctx, req, allowTrustButton)
		if err != nil {
			_ = p.store.UpdateRequest(ctx, req.RequestID, model.StatusPendingApproval, func(r *model.Request) error {
				r.Status = model.StatusError
				r.Result = "failed to deliver approval prompt: " + err.Error()
				return nil
			})
			return p.store.GetRequest(ctx, req.RequestID)
		}
		_ = p.store.UpdateRequest(ctx, req.RequestID, model.StatusPendingApproval, func(r *model.Request) error {
			r.ChatMessageID = messageID
			return nil
		})
	}

	// Step 11: wait.
	if !in.Sync {
		return p.store.GetRequest(ctx, req.RequestID)
	}
	return p.waitSync(ctx, req.RequestID)
}

func (p *Pipeline) waitSync(ctx context.Context, requestID string) (*model.Request, error) {
	deadline := time.Now().Add(p.cfg.SyncMaxWait)
	ticker := time.NewTicker(p.cfg.SyncPollInterval)
	defer ticker.Stop()
	for {
		current, err := p.store.GetRequest(ctx, requestID)
		if err != nil {
			return nil, bouncererr.Internal("failed to read request: " + err.Error())
		}
		if current.Status != model.StatusPendingApproval || time.Now().After(deadline) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) resolveAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		acct, err := p.store.DefaultAccount(ctx)
		if err != nil {
			return nil, bouncererr.Internal("no default account is configured")
		}
		return acct, nil
	}
	acct, err := p.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, bouncererr.Internal("unknown target account: " + accountID)
	}
	if err != nil {
		return nil, bouncererr.Internal("failed to resolve account: " + err.Error())
	}
	return acct, nil
}

func (p *Pipeline) terminalBlocked(ctx context.Context, req *model.Request, ruleID, remediation, reason string) (*model.Request, error) {
	req.Status = model.StatusBlocked
	req.Result = reason
	req.RuleID = ruleID
	req.DecisionType = "blocked"
	now := time.Now()
	req.DecidedAt = &now
	req.TTL = now.Add(24 * time.Hour)
	if err := p.store.PutRequest(ctx, req); err != nil {
		return nil, bouncererr.Internal("failed to persist request: " + err.Error())
	}
	_ = p.audit(ctx, req.RequestID, "blocked", "system", map[string]interface{}{"rule_id": ruleID, "reason": reason})
	p.recordDecision(string(req.Status), req.DecisionType)
	if p.notifier != nil {
		_, _ = p.notifier.SendSilent(ctx, fmt.Sprintf("blocked: %s (%s)", previewCommand(req.Command), reason))
	}
	return req, &bouncererr.DecisionError{Tag: bouncererr.ErrBlocked, RuleID: ruleID, Remediation: remediation, Message: reason}
}

// runExecution invokes the Executor (C9) for an approved/auto-approved
// request, assuming account.RoleARN when set, and writes back the result.
func (p *Pipeline) runExecution(ctx context.Context, req *model.Request, account *model.Account) {
	var creds *executor.Credentials
	if account.RoleARN != "" {
		obtained, err := executor.AssumeRole(ctx, p.backend, account.RoleARN, "bouncer-"+req.RequestID, p.cfg.ExecutorTimeout)
		if err != nil {
			p.finalizeError(ctx, req, "failed to assume role: "+err.Error())
			return
		}
		creds = obtained
	}

	argv := classifier.Tokenize(req.Command)
	env := executor.BuildEnv(creds)
	start := time.Now()
	result, err := p.backend.Run(ctx, argv, env, p.cfg.ExecutorTimeout)
	if p.metrics != nil {
		p.metrics.ExecutorDurationS.WithLabelValues(backendLabel(p.backend)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.finalizeError(ctx, req, err.Error())
		return
	}

	exitCode := result.ExitCode
	status := model.StatusApproved
	if exitCode != 0 {
		status = model.StatusError
	}
	if p.metrics != nil {
		bucket := "zero"
		switch {
		case result.TimedOut:
			bucket = "timeout"
		case exitCode != 0:
			bucket = "nonzero"
		}
		p.metrics.ExecutorExitCodes.WithLabelValues(bucket).Inc()
	}
	_ = p.store.UpdateRequest(ctx, req.RequestID, req.Status, func(r *model.Request) error {
		r.Status = status
		r.Result = result.Output
		r.ExitCode = &exitCode
		now := time.Now()
		r.DecidedAt = &now
		return nil
	})
	_ = p.audit(ctx, req.RequestID, "executed", "system", map[string]interface{}{"exit_code": exitCode})
}

func (p *Pipeline) finalizeError(ctx context.Context, req *model.Request, message string) {
	_ = p.store.UpdateRequest(ctx, req.RequestID, req.Status, func(r *model.Request) error {
		r.Status = model.StatusError
		r.Result = message
		now := time.Now()
		r.DecidedAt = &now
		return nil
	})
}

func (p *Pipeline) audit(ctx context.Context, requestID, action, actor string, details map[string]interface{}) error {
	return p.store.AppendAudit(ctx, &model.AuditLog{
		ID: uuid.NewString(), RequestID: requestID, Action: action, Actor: actor,
		Details: details, CreatedAt: time.Now(),
	})
}

func backendLabel(b executor.Backend) string {
	switch b.(type) {
	case *executor.DockerBackend:
		return "docker"
	case *executor.HostBackend:
		return "host"
	default:
		return "other"
	}
}

func previewCommand(cmd string) string {
	const maxLen = 120
	if len(cmd) <= maxLen {
		return cmd
	}
	return cmd[:maxLen] + "..."
}
