// Package chat implements the Chat Channel (C5): rendering and sending
// approval prompts, the long-poll inbound Poller, and the outbound
// operations (send/send_silent/edit/answer/set_commands/send_parallel) an
// agent-facing approval workflow needs over a Telegram-shaped transport.
package chat

import (
	"fmt"
	"strings"

	"github.com/bouncer/broker/internal/model"
)

// Button is one inline keyboard button: display text plus the callback
// data the Poller will see verbatim as "action:request_id".
type Button struct {
	Text string
	Data string
}

// Card is a rendered message: body text plus a keyboard laid out one
// button per row, matching the teacher pack's vertical-button convention.
type Card struct {
	Text    string
	Buttons []Button
}

func callbackData(action, requestID string) string {
	return fmt.Sprintf("%s:%s", action, requestID)
}

// ApprovalCard renders §4.8 step 10's prompt: command, reason, account,
// risk forensics, and [Approve, Approve+Trust (non-dangerous only), Deny].
func ApprovalCard(req *model.Request, dangerous bool) Card {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *Approval requested*\n")
	fmt.Fprintf(&b, "Source: `%s`\n", req.Source)
	fmt.Fprintf(&b, "Account: `%s`\n", req.AccountID)
	fmt.Fprintf(&b, "Command:\n```\n%s\n```\n", req.Command)
	if req.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", req.Reason)
	}
	if req.RiskCategory != "" {
		fmt.Fprintf(&b, "Risk: %s (%d/100)\n", req.RiskCategory, req.RiskScore)
	}
	fmt.Fprintf(&b, "Expires: %s", req.ExpiresAt.Format("15:04:05 MST"))

	buttons := []Button{
		{Text: "✅ Approve", Data: callbackData("approve", req.RequestID)},
	}
	if !dangerous {
		buttons = append(buttons, Button{Text: "✅ Approve + Trust", Data: callbackData("approve_trust", req.RequestID)})
	}
	buttons = append(buttons, Button{Text: "❌ Deny", Data: callbackData("deny", req.RequestID)})
	return Card{Text: b.String(), Buttons: buttons}
}

// ResultCard renders the post-execution edit: exit code, truncated output,
// and (for a trust-derived approval) a revoke button.
func ResultCard(req *model.Request) Card {
	var b strings.Builder
	icon := "✅"
	if req.ExitCode != nil && *req.ExitCode != 0 {
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s *Executed*\n", icon)
	fmt.Fprintf(&b, "Command:\n```\n%s\n```\n", req.Command)
	if req.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *req.ExitCode)
	}
	fmt.Fprintf(&b, "Output:\n```\n%s\n```", truncatePreview(req.Result, 2000))
	if req.ApprovedBy != "" {
		fmt.Fprintf(&b, "\nApproved by: %s", req.ApprovedBy)
	}
	return Card{Text: b.String()}
}

// DenialCard renders the post-deny edit.
func DenialCard(req *model.Request) Card {
	text := fmt.Sprintf("❌ *Denied*\nCommand:\n```\n%s\n```\nDenied by: %s", req.Command, req.ApprovedBy)
	return Card{Text: text}
}

// BlockedCard renders a silent notification for a compliance/classifier
// block (§4.8 steps 4-5).
func BlockedCard(req *model.Request, reason string) Card {
	return Card{Text: fmt.Sprintf("🚫 *Blocked*\nCommand:\n```\n%s\n```\nReason: %s", req.Command, reason)}
}

// TrustAutoExecSummary renders the silent notification §4.6's Consumption
// step requires: command preview, result preview, counter, revoke button.
func TrustAutoExecSummary(req *model.Request, session *model.TrustSession) Card {
	text := fmt.Sprintf(
		"🤝 *Auto-executed under trust*\nCommand:\n```\n%s\n```\nResult: %s\nUsed: %d/%d",
		req.Command, truncatePreview(req.Result, 300), session.CommandCount, session.MaxCommands,
	)
	return Card{
		Text:    text,
		Buttons: []Button{{Text: "↩️ Revoke trust", Data: callbackData("revoke_trust", session.TrustID)}},
	}
}

// AccountDecisionCard renders the edit for account_approve / account_deny
// against a newly staged account, enabling or discarding the add.
func AccountDecisionCard(accountID string, approved bool, approvedBy string) Card {
	icon, verb := "❌", "denied"
	if approved {
		icon, verb = "✅", "approved"
	}
	return Card{Text: fmt.Sprintf("%s Account `%s` %s by %s", icon, accountID, verb, approvedBy)}
}

// AccountRemovalDecisionCard renders the edit for account_approve /
// account_deny against an account staged for removal: approved deletes
// it, denied leaves it in place.
func AccountRemovalDecisionCard(accountID string, approved bool, approvedBy string) Card {
	icon, verb := "❌", "removal declined"
	if approved {
		icon, verb = "🗑️", "removed"
	}
	return Card{Text: fmt.Sprintf("%s Account `%s` %s by %s", icon, accountID, verb, approvedBy)}
}

func truncatePreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
