// Package classifier implements the Command Classifier (C1): normalization,
// tokenization, and the three pure is_blocked / is_dangerous / is_auto_approve
// predicates the pipeline consults before anything reaches an approver.
package classifier

import (
	"regexp"
	"strings"
)

// Classifier holds the configured substring tables. All fields are
// read-only after construction; a Classifier is safe for concurrent use.
type Classifier struct {
	safePrefixes      []string
	blockedPatterns   []string
	dangerousPatterns []string
	trustExcluded     TrustExclusions
}

// TrustExclusions names the services, verbs and flags that must always
// require fresh approval even under an active trust session (§4.6).
type TrustExclusions struct {
	Services []string
	Verbs    []string
	Flags    []string
}

// New builds a Classifier from explicit tables. Nil slices fall back to the
// built-in defaults grounded in common AWS-CLI brokering practice.
func New(safePrefixes, blockedPatterns, dangerousPatterns []string, excl TrustExclusions) *Classifier {
	c := &Classifier{
		safePrefixes:      safePrefixes,
		blockedPatterns:   blockedPatterns,
		dangerousPatterns: dangerousPatterns,
		trustExcluded:     excl,
	}
	if len(c.safePrefixes) == 0 {
		c.safePrefixes = defaultSafePrefixes
	}
	if len(c.blockedPatterns) == 0 {
		c.blockedPatterns = defaultBlockedPatterns
	}
	if len(c.dangerousPatterns) == 0 {
		c.dangerousPatterns = defaultDangerousPatterns
	}
	if len(c.trustExcluded.Services) == 0 && len(c.trustExcluded.Verbs) == 0 && len(c.trustExcluded.Flags) == 0 {
		c.trustExcluded = defaultTrustExclusions
	}
	return c
}

// Normalize collapses internal whitespace runs to a single space and trims
// the ends. It does not lower-case — callers that need case-insensitive
// comparison call strings.ToLower on the result explicitly, so the original
// casing survives for execution and display.
func Normalize(cmd string) string {
	return strings.Join(strings.Fields(cmd), " ")
}

var queryFlagRe = regexp.MustCompile(`--query\s+('[^']*'|"[^"]*"|\S+)`)

// stripQueryValue excises the value of any --query argument before substring
// scanning: JMESPath expressions routinely contain back-ticks and dollar
// signs that would otherwise trip blocklist patterns meant for shell
// metacharacters, not query syntax.
func stripQueryValue(cmd string) string {
	return queryFlagRe.ReplaceAllString(cmd, "--query")
}

var dangerousFlagSubstrings = []string{
	"--endpoint-url ",
	"--profile ",
	"--no-verify-ssl",
	"--ca-bundle ",
}

// IsBlocked implements §4.1's is_blocked(cmd): a sequential veto check over
// globally dangerous flags, local file reads, and the configured blocklist.
func (c *Classifier) IsBlocked(cmd string) (blocked bool, reason string) {
	norm := Normalize(cmd)
	scan := stripQueryValue(norm)
	lower := strings.ToLower(scan)

	for _, flag := range dangerousFlagSubstrings {
		if strings.Contains(lower, strings.ToLower(flag)) {
			return true, "disallowed flag: " + strings.TrimSpace(flag)
		}
	}

	if strings.Contains(lower, "file://") || strings.Contains(lower, "fileb://") {
		return true, "local file reads are not permitted in command arguments"
	}

	for _, pattern := range c.blockedPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true, "matches blocked pattern: " + pattern
		}
	}

	return false, ""
}

// IsDangerous implements §4.1's is_dangerous(cmd): a second, orthogonal
// substring table marking commands that must go through stricter approval
// UX (no "Approve+Trust" button, for instance).
func (c *Classifier) IsDangerous(cmd string) bool {
	lower := strings.ToLower(Normalize(cmd))
	for _, pattern := range c.dangerousPatterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

var (
	s3CopyRe           = regexp.MustCompile(`^aws\s+s3\s+cp\s+s3://\S+\s+s3://\S+`)
	cloudfrontInvalRe  = regexp.MustCompile(`^aws\s+cloudfront\s+create-invalidation\b`)
)

// IsAutoApprove implements §4.1's is_auto_approve(cmd): true iff the
// normalized, lower-cased command begins with a configured safe prefix and
// no disqualifying override holds.
func (c *Classifier) IsAutoApprove(cmd string, whitelistedDistributions []string) bool {
	lower := strings.ToLower(Normalize(cmd))

	matched := false
	for _, prefix := range c.safePrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	// Override: secret-reading flag disqualifies, regardless of prefix.
	if strings.Contains(lower, "--with-decryption") {
		return false
	}

	// Override: cross-bucket S3 copy never auto-approves (scenario C).
	if s3CopyRe.MatchString(lower) {
		return false
	}

	// Override: CloudFront invalidation only auto-approves for a
	// whitelisted distribution id passed by the caller.
	if cloudfrontInvalRe.MatchString(lower) {
		for _, dist := range whitelistedDistributions {
			if dist != "" && strings.Contains(lower, strings.ToLower(dist)) {
				return true
			}
		}
		return false
	}

	return true
}

// IsTrustExcluded implements §4.6's is_trust_excluded(cmd): true iff the
// command touches a listed sensitive service, high-risk verb, or flag.
func (c *Classifier) IsTrustExcluded(cmd string) bool {
	lower := strings.ToLower(Normalize(cmd))
	for _, svc := range c.trustExcluded.Services {
		if svc != "" && strings.Contains(lower, "aws "+strings.ToLower(svc)+" ") {
			return true
		}
	}
	for _, verb := range c.trustExcluded.Verbs {
		if verb != "" && strings.Contains(lower, strings.ToLower(verb)) {
			return true
		}
	}
	for _, flag := range c.trustExcluded.Flags {
		if flag != "" && strings.Contains(lower, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// Tables is the `list_safelist` RPC's read model: a snapshot of the
// configured substring tables. Copies are returned so callers cannot
// mutate the Classifier's internal state through the result.
type Tables struct {
	SafePrefixes      []string        `json:"safe_prefixes"`
	BlockedPatterns   []string        `json:"blocked_patterns"`
	DangerousPatterns []string        `json:"dangerous_patterns"`
	TrustExcluded     TrustExclusions `json:"trust_excluded"`
}

// Tables returns the configured classifier tables for observability.
func (c *Classifier) Tables() Tables {
	return Tables{
		SafePrefixes:      append([]string(nil), c.safePrefixes...),
		BlockedPatterns:   append([]string(nil), c.blockedPatterns...),
		DangerousPatterns: append([]string(nil), c.dangerousPatterns...),
		TrustExcluded:     c.trustExcluded,
	}
}
