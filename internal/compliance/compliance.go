// Package compliance implements the Compliance Checker (C2): a rule table
// of regex-level pattern checks over the raw command, returning at most one
// violation.
package compliance

import "regexp"

// Rule is one labelled regex-level check. A match is a veto.
type Rule struct {
	ID          string
	Name        string
	Description string
	Remediation string
	Pattern     *regexp.Regexp
}

// Violation is the first matching Rule, with nothing else attached — the
// caller already has the command text.
type Violation struct {
	RuleID      string
	Name        string
	Description string
	Remediation string
}

// Checker holds an ordered rule table. The first matching rule
// short-circuits the scan.
type Checker struct {
	rules []Rule
}

// New builds a Checker from an explicit rule table, falling back to the
// built-in defaults when none is supplied.
func New(rules []Rule) *Checker {
	if len(rules) == 0 {
		rules = defaultRules
	}
	return &Checker{rules: rules}
}

// Check implements §4.2's check_compliance(cmd) -> (ok, violation?).
func (c *Checker) Check(cmd string) (ok bool, violation *Violation) {
	for _, r := range c.rules {
		if r.Pattern.MatchString(cmd) {
			return false, &Violation{
				RuleID:      r.ID,
				Name:        r.Name,
				Description: r.Description,
				Remediation: r.Remediation,
			}
		}
	}
	return true, nil
}
