package grant

import (
	"regexp"
	"strings"
)

// placeholder maps a grant-template placeholder token to the regex
// fragment it expands to. Grounded on original_source/src/template_scanner.py's
// placeholder grammar.
var placeholder = map[string]string{
	"{uuid}":   `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
	"{date}":   `\d{4}-\d{2}-\d{2}`,
	"{any}":    `.*`,
	"{bucket}": `[a-z0-9.\-]{3,63}`,
	"{key}":    `[^\s]+`,
	"{name}":   `[A-Za-z0-9_\-./]+`,
}

// IsPattern reports whether a granted-command string is a pattern (as
// opposed to an exact normalized string): it contains a `*` or a named
// placeholder token.
func IsPattern(s string) bool {
	if strings.Contains(s, "*") {
		return true
	}
	for token := range placeholder {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// CompilePattern translates a grant pattern into a compiled regex that
// matches a full normalized command line. `**` matches across whitespace
// (anything, including spaces), a single `*` matches a single token-like
// run without spaces, and named placeholders substitute their grammar.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			sb.WriteString(`[^\s]*`)
			i++
		case pattern[i] == '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
				i++
				continue
			}
			token := pattern[i : i+end+1]
			if frag, ok := placeholder[token]; ok {
				sb.WriteString("(?:" + frag + ")")
			} else {
				sb.WriteString(regexp.QuoteMeta(token))
			}
			i += end + 1
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// Matches reports whether normalizedCmd satisfies a granted-command entry:
// exact string match is tried first (the default, and the only path for
// non-pattern entries), falling back to pattern compilation only when the
// entry looks like a pattern.
func Matches(granted, normalizedCmd string) bool {
	if granted == normalizedCmd {
		return true
	}
	if !IsPattern(granted) {
		return false
	}
	re, err := CompilePattern(granted)
	if err != nil {
		return false
	}
	return re.MatchString(normalizedCmd)
}

// MatchAny reports whether normalizedCmd matches any entry in granted,
// exact matches first across the whole set before any pattern is tried —
// per §4.7, "exact strings remain the default and are checked first".
func MatchAny(granted []string, normalizedCmd string) (string, bool) {
	for _, g := range granted {
		if g == normalizedCmd {
			return g, true
		}
	}
	for _, g := range granted {
		if IsPattern(g) && Matches(g, normalizedCmd) {
			return g, true
		}
	}
	return "", false
}
