// Package callback implements the Callback Handler (C10): applies an
// approver's inline-button decision to a pending Request, running the
// Executor on approval and always editing the originating message plus
// answering the callback.
package callback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bouncer/broker/internal/chat"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/executor"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
	"github.com/google/uuid"
)

// Action is one of the six inline-button verbs §4.10 defines.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionApproveTrust  Action = "approve_trust"
	ActionDeny          Action = "deny"
	ActionRevokeTrust   Action = "revoke_trust"
	ActionAccountApprove Action = "account_approve"
	ActionAccountDeny   Action = "account_deny"
)

// Editor is the subset of the Chat Channel the handler needs: edit the
// originating message and answer the callback. It does not send new
// messages.
type Editor interface {
	Edit(ctx context.Context, messageID int, card chat.Card) error
	Answer(ctx context.Context, callbackID, text string) error
}

// Handler implements chat.CallbackHandler.
type Handler struct {
	store      store.Store
	trust      *trust.Manager
	backend    executor.Backend
	editor     Editor
	approvers  map[string]bool
	trustWindow time.Duration
	trustMaxCmd int
}

// New builds a callback Handler. approverIDs is the immutable approver
// whitelist (§5's shared-resource policy); entries are Telegram usernames
// or numeric user ids, matched against chat.CallbackEvent.ApproverID.
func New(st store.Store, tr *trust.Manager, backend executor.Backend, editor Editor, approverIDs []string, trustWindow time.Duration, trustMaxCmd int) *Handler {
	set := make(map[string]bool, len(approverIDs))
	for _, id := range approverIDs {
		set[strings.TrimSpace(id)] = true
	}
	return &Handler{store: st, trust: tr, backend: backend, editor: editor, approvers: set, trustWindow: trustWindow, trustMaxCmd: trustMaxCmd}
}

// HandleCallback implements §4.10's full flow.
func (h *Handler) HandleCallback(ctx context.Context, event chat.CallbackEvent) error {
	action, targetID, err := parseCallbackData(event.Data)
	if err != nil {
		h.answer(ctx, event.CallbackID, "malformed callback")
		return err
	}

	if !h.isApprover(event.ApproverID) {
		h.answer(ctx, event.CallbackID, "not authorized")
		return nil
	}

	switch action {
	case ActionApprove, ActionApproveTrust, ActionDeny:
		return h.handleRequestAction(ctx, event, action, targetID)
	case ActionRevokeTrust:
		return h.handleRevokeTrust(ctx, event, targetID)
	case ActionAccountApprove, ActionAccountDeny:
		return h.handleAccountAction(ctx, event, action, targetID)
	default:
		h.answer(ctx, event.CallbackID, "unknown action")
		return fmt.Errorf("callback: unknown action %q", action)
	}
}

func (h *Handler) handleRequestAction(ctx context.Context, event chat.CallbackEvent, action Action, requestID string) error {
	req, err := h.store.GetRequest(ctx, requestID)
	if err != nil {
		h.answer(ctx, event.CallbackID, "expired")
		return nil
	}
	if req.Status != model.StatusPendingApproval {
		h.answer(ctx, event.CallbackID, "already handled")
		return nil
	}

	if action == ActionDeny {
		req.Status = model.StatusDenied
		req.ApprovedBy = event.ApproverID
		now := time.Now()
		req.DecidedAt = &now
		if err := h.store.UpdateRequest(ctx, requestID, model.StatusPendingApproval, func(r *model.Request) error {
			*r = *req
			return nil
		}); err != nil {
			return err
		}
		h.editAndAnswer(ctx, event, chat.DenialCard(req), "denied")
		_ = h.audit(ctx, requestID, "denied", event.ApproverID, nil)
		return nil
	}

	// approve / approve_trust: run the executor, then write back.
	req.Status = model.StatusApproved
	req.ApprovedBy = event.ApproverID
	now := time.Now()
	req.ApprovedAt = &now
	if err := h.store.UpdateRequest(ctx, requestID, model.StatusPendingApproval, func(r *model.Request) error {
		r.Status = model.StatusApproved
		r.ApprovedBy = event.ApproverID
		r.ApprovedAt = &now
		return nil
	}); err != nil {
		return err
	}

	h.execute(ctx, req)

	if action == ActionApproveTrust {
		if _, err := h.trust.Create(ctx, req.TrustScope, req.AccountID, event.ApproverID, h.trustWindow, h.trustMaxCmd); err != nil {
			req.Result += fmt.Sprintf("\n(trust session create failed: %v)", err)
		}
	}

	final, err := h.store.GetRequest(ctx, requestID)
	if err != nil {
		final = req
	}
	h.editAndAnswer(ctx, event, chat.ResultCard(final), "done")
	_ = h.audit(ctx, requestID, string(action), event.ApproverID, map[string]interface{}{"exit_code": final.ExitCode})
	return nil
}

func (h *Handler) handleRevokeTrust(ctx context.Context, event chat.CallbackEvent, trustID string) error {
	if err := h.trust.Revoke(ctx, trustID); err != nil {
		h.answer(ctx, event.CallbackID, "already revoked")
		return nil
	}
	h.answer(ctx, event.CallbackID, "trust revoked")
	return nil
}

// handleAccountAction applies an approver's decision to a staged account
// row. A row can be pending for one of two reasons — a new account
// awaiting its first enable, or an existing one awaiting deletion — and
// account_approve/account_deny means something different for each, so
// the row's PendingRemoval flag decides which path runs.
func (h *Handler) handleAccountAction(ctx context.Context, event chat.CallbackEvent, action Action, accountID string) error {
	acct, err := h.store.GetAccount(ctx, accountID)
	if err != nil {
		h.answer(ctx, event.CallbackID, "unknown account")
		return nil
	}
	approved := action == ActionAccountApprove

	if acct.PendingRemoval {
		if approved {
			if err := h.store.DeleteAccount(ctx, accountID); err != nil {
				return err
			}
		} else {
			acct.PendingRemoval = false
			if err := h.store.PutAccount(ctx, acct); err != nil {
				return err
			}
		}
		h.editAndAnswer(ctx, event, chat.AccountRemovalDecisionCard(accountID, approved, event.ApproverID), "done")
		return nil
	}

	acct.Enabled = approved
	if err := h.store.PutAccount(ctx, acct); err != nil {
		return err
	}
	h.editAndAnswer(ctx, event, chat.AccountDecisionCard(accountID, approved, event.ApproverID), "done")
	return nil
}

// execute invokes the Executor (C9), paginating long output and writing
// exit code + result back onto req, per §4.8's "Execute step".
func (h *Handler) execute(ctx context.Context, req *model.Request) {
	var creds *executor.Credentials
	if arn := h.roleARNFor(ctx, req.AccountID); arn != "" {
		obtained, err := executor.AssumeRole(ctx, h.backend, arn, "bouncer-"+req.RequestID, executor.DefaultTimeout)
		if err != nil {
			h.finalizeError(ctx, req, "failed to assume role: "+err.Error())
			return
		}
		creds = obtained
	}

	argv := classifier.Tokenize(req.Command)
	env := executor.BuildEnv(creds)
	result, err := h.backend.Run(ctx, argv, env, executor.DefaultTimeout)
	if err != nil {
		h.finalizeError(ctx, req, err.Error())
		return
	}

	exitCode := result.ExitCode
	status := model.StatusApproved
	if exitCode != 0 {
		status = model.StatusError
	}
	output := result.Output
	const inlineLimit = 4000
	if len(output) > inlineLimit {
		output = h.page(ctx, req.RequestID, output)
	}
	_ = h.store.UpdateRequest(ctx, req.RequestID, model.StatusApproved, func(r *model.Request) error {
		r.Status = status
		r.Result = output
		r.ExitCode = &exitCode
		return nil
	})
	req.Status = status
	req.Result = output
	req.ExitCode = &exitCode
}

func (h *Handler) page(ctx context.Context, requestID, output string) string {
	const pageSize = 4000
	total := (len(output) + pageSize - 1) / pageSize
	for i := 0; i < total; i++ {
		start, end := i*pageSize, (i+1)*pageSize
		if end > len(output) {
			end = len(output)
		}
		page := &model.OutputPage{
			ID: fmt.Sprintf("%s:page:%d", requestID, i+1), RequestID: requestID,
			Page: i + 1, TotalPages: total, Content: output[start:end],
			TTL: time.Now().Add(24 * time.Hour),
		}
		_ = h.store.PutOutputPage(ctx, page)
	}
	preview := output[:pageSize]
	return fmt.Sprintf("%s\n\n(output split into %d pages; use get_page to retrieve the rest)", preview, total)
}

func (h *Handler) finalizeError(ctx context.Context, req *model.Request, message string) {
	_ = h.store.UpdateRequest(ctx, req.RequestID, model.StatusApproved, func(r *model.Request) error {
		r.Status = model.StatusError
		r.Result = message
		return nil
	})
	req.Status = model.StatusError
	req.Result = message
}

func (h *Handler) roleARNFor(ctx context.Context, accountID string) string {
	acct, err := h.store.GetAccount(ctx, accountID)
	if err != nil {
		return ""
	}
	return acct.RoleARN
}

func (h *Handler) isApprover(approverID string) bool {
	if len(h.approvers) == 0 {
		return true
	}
	return h.approvers[approverID]
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	_ = h.editor.Answer(ctx, callbackID, text)
}

// editAndAnswer issues the message edit and the callback answer in
// parallel, per §4.10's latency note.
func (h *Handler) editAndAnswer(ctx context.Context, event chat.CallbackEvent, card chat.Card, answerText string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.editor.Edit(ctx, event.OriginMessageID, card)
	}()
	_ = h.editor.Answer(ctx, event.CallbackID, answerText)
	<-done
}

func (h *Handler) audit(ctx context.Context, requestID, action, actor string, details map[string]interface{}) error {
	return h.store.AppendAudit(ctx, &model.AuditLog{
		ID: uuid.NewString(), RequestID: requestID, Action: action, Actor: actor,
		Details: details, CreatedAt: time.Now(),
	})
}

// parseCallbackData splits the "{action}:{id}" wire format §6's GLOSSARY
// defines.
func parseCallbackData(data string) (Action, string, error) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("callback: malformed data %q", data)
	}
	return Action(parts[0]), parts[1], nil
}
