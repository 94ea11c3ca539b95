// Package bouncererr implements the error taxonomy of the decision pipeline
// as sentinel-comparable typed errors, so the HTTP layer can render the
// stable status string agents depend on without string-matching error text.
package bouncererr

import "errors"

var (
	ErrBlocked         = errors.New("blocked")
	ErrDenied          = errors.New("denied")
	ErrTimeout         = errors.New("timeout")
	ErrRateLimited     = errors.New("rate_limit_exceeded")
	ErrPendingLimited  = errors.New("pending_limit_exceeded")
	ErrInternal        = errors.New("internal_error")
)

// DecisionError wraps a taxonomy sentinel with the rule/remediation detail
// the agent and the chat card both need.
type DecisionError struct {
	Tag         error
	RuleID      string
	Remediation string
	Message     string
}

func (e *DecisionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Tag.Error()
}

func (e *DecisionError) Unwrap() error {
	return e.Tag
}

// Status returns the stable status string surfaced to the agent for this
// taxonomy tag. Not every tag maps onto a Request.Status value (rate limits
// never create a Request row at all), but all of them map onto the text an
// agent can match on.
func Status(err error) string {
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrPendingLimited):
		return "pending_limit_exceeded"
	default:
		return "internal_error"
	}
}

func Blocked(ruleID, remediation string) *DecisionError {
	return &DecisionError{Tag: ErrBlocked, RuleID: ruleID, Remediation: remediation}
}

func Internal(message string) *DecisionError {
	return &DecisionError{Tag: ErrInternal, Message: message}
}
