// Package risk implements the Risk Scorer (C3): a 0-100 composite score and
// coarse category derived from verb, parameter, context, and account
// factors, recorded on the Request for forensic purposes. Per §9's design
// notes this is shadow-only — its verdict is never enforced except for the
// extreme "block" category.
package risk

import (
	"regexp"
	"strings"

	"github.com/bouncer/broker/internal/model"
)

// Category is the coarse risk band a score falls into.
type Category string

const (
	CategoryAutoApprove Category = "auto_approve"
	CategoryLog         Category = "log"
	CategoryConfirm     Category = "confirm"
	CategoryManual      Category = "manual"
	CategoryBlock       Category = "block"
)

// Result is the Risk Scorer's verdict for one command.
type Result struct {
	Score          int
	Category       Category
	Factors        []model.RiskFactor
	Recommendation string
}

// Scorer computes §4.3's weighted composite score. A nil SequenceAnalyzer
// disables the optional sequence-analysis modifier.
type Scorer struct {
	Sensitive  []string // sensitive service names e.g. "iam", "kms"
	Sequence   SequenceAnalyzer
}

// New builds a Scorer. sensitive defaults to a conservative built-in list
// when nil.
func New(sensitive []string, seq SequenceAnalyzer) *Scorer {
	if len(sensitive) == 0 {
		sensitive = []string{"iam", "kms", "organizations", "account", "sts"}
	}
	return &Scorer{Sensitive: sensitive, Sequence: seq}
}

// destructiveVerbs maps AWS-CLI verb prefixes to a 0-100 raw danger score.
var destructiveVerbs = map[string]float64{
	"delete-":    90,
	"terminate-": 90,
	"remove-":    80,
	"revoke-":    75,
	"disable-":   70,
	"detach-":    55,
	"put-":       45,
	"update-":    40,
	"modify-":    40,
	"create-":    35,
	"attach-":    35,
	"run-":       30,
	"start-":     20,
	"stop-":      20,
	"describe-":  5,
	"list-":      5,
	"get-":       5,
}

func verbScore(cmd string) (float64, string) {
	lower := strings.ToLower(cmd)
	fields := strings.Fields(lower)
	if len(fields) < 3 {
		return 30, "unrecognized"
	}
	verb := fields[2]
	for prefix, score := range destructiveVerbs {
		if strings.HasPrefix(verb, prefix) {
			return score, prefix
		}
	}
	return 30, "unrecognized"
}

var wildcardArnRe = regexp.MustCompile(`arn:aws:[^:]*:[^:]*:[^:]*:[^/]*/\*`)

func parametersScore(cmd string) (float64, []model.RiskFactor) {
	var factors []model.RiskFactor
	score := 10.0

	if wildcardArnRe.MatchString(cmd) {
		score += 35
		factors = append(factors, model.RiskFactor{
			Name: "wildcard_resource_arn", Category: "parameters", Raw: 35, Weighted: 35 * 0.3,
			Details: "resource ARN ends in a wildcard",
		})
	}
	if strings.Contains(cmd, "--force") {
		score += 20
		factors = append(factors, model.RiskFactor{
			Name: "force_flag", Category: "parameters", Raw: 20, Weighted: 20 * 0.3,
			Details: "--force suppresses confirmation prompts",
		})
	}
	if strings.Contains(cmd, "*") && !strings.Contains(cmd, "--query") {
		score += 15
		factors = append(factors, model.RiskFactor{
			Name: "glob_argument", Category: "parameters", Raw: 15, Weighted: 15 * 0.3,
			Details: "argument contains an unscoped wildcard",
		})
	}
	if score > 100 {
		score = 100
	}
	return score, factors
}

func contextScore(reason string) (float64, []model.RiskFactor) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return 80, []model.RiskFactor{{
			Name: "missing_reason", Category: "context", Raw: 80, Weighted: 80 * 0.2,
			Details: "no reason supplied for this command",
		}}
	}
	if len(trimmed) < 10 {
		return 55, []model.RiskFactor{{
			Name: "weak_reason", Category: "context", Raw: 55, Weighted: 55 * 0.2,
			Details: "reason is suspiciously short",
		}}
	}
	return 10, nil
}

func accountScore(cmd, accountID, defaultAccountID string) (float64, []model.RiskFactor) {
	if accountID != "" && defaultAccountID != "" && accountID != defaultAccountID {
		return 60, []model.RiskFactor{{
			Name: "cross_account", Category: "account", Raw: 60, Weighted: 60 * 0.1,
			Details: "target account differs from the default account",
		}}
	}
	return 10, nil
}

func (s *Scorer) sensitiveServiceFactor(cmd string) []model.RiskFactor {
	lower := strings.ToLower(cmd)
	for _, svc := range s.Sensitive {
		if strings.Contains(lower, "aws "+strings.ToLower(svc)+" ") {
			return []model.RiskFactor{{
				Name: "sensitive_service", Category: "verb", Raw: 25, Weighted: 25 * 0.4,
				Details: "touches sensitive service: " + svc,
			}}
		}
	}
	return nil
}

// Score implements §4.3: score = 0.4*verb + 0.3*parameters + 0.2*context +
// 0.1*account, clamped to [0,100], banded into a Category, with at most
// five contributing factors retained. It is fail-closed: the caller should
// treat a recovered panic as category manual, score 70 (see ScoreSafe).
func (s *Scorer) Score(cmd, reason, source, accountID, defaultAccountID string) Result {
	vScore, verbKind := verbScore(cmd)
	pScore, pFactors := parametersScore(cmd)
	cScore, cFactors := contextScore(reason)
	aScore, aFactors := accountScore(cmd, accountID, defaultAccountID)

	total := 0.4*vScore + 0.3*pScore + 0.2*cScore + 0.1*aScore

	var factors []model.RiskFactor
	factors = append(factors, model.RiskFactor{
		Name: "verb_kind", Category: "verb", Raw: vScore, Weighted: vScore * 0.4,
		Details: "verb classified as " + verbKind,
	})
	factors = append(factors, s.sensitiveServiceFactor(cmd)...)
	factors = append(factors, pFactors...)
	factors = append(factors, cFactors...)
	factors = append(factors, aFactors...)

	if s.Sequence != nil {
		if delta, note := s.Sequence.Adjust(source, cmd, verbKind, total); delta != 0 {
			total += delta
			factors = append(factors, model.RiskFactor{
				Name: "sequence_analysis", Category: "context", Raw: delta, Weighted: delta,
				Details: note,
			})
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	if len(factors) > 5 {
		factors = factors[:5]
	}

	score := int(total)
	return Result{
		Score:          score,
		Category:       categoryFor(score),
		Factors:        factors,
		Recommendation: recommendationFor(categoryFor(score)),
	}
}

// ScoreSafe wraps Score with the fail-closed guarantee §4.3 demands: any
// panic inside scoring yields category manual, score 70.
func (s *Scorer) ScoreSafe(cmd, reason, source, accountID, defaultAccountID string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Score: 70, Category: CategoryManual, Recommendation: recommendationFor(CategoryManual)}
		}
	}()
	return s.Score(cmd, reason, source, accountID, defaultAccountID)
}

func categoryFor(score int) Category {
	switch {
	case score <= 25:
		return CategoryAutoApprove
	case score <= 45:
		return CategoryLog
	case score <= 65:
		return CategoryConfirm
	case score <= 85:
		return CategoryManual
	default:
		return CategoryBlock
	}
}

func recommendationFor(c Category) string {
	switch c {
	case CategoryAutoApprove:
		return "proceed"
	case CategoryLog:
		return "proceed, audit in full"
	case CategoryConfirm:
		return "require approval"
	case CategoryManual:
		return "require approval, no auto-approve path"
	default:
		return "block"
	}
}
