package classifier

import "strings"

// Tokenize implements §4.1's tokenize(cmd): a CLI-aware tokenizer that never
// invokes a shell. It recognizes single- and double-quoted strings
// (backslash-escapes the enclosing quote), back-tick literals, and balanced
// brace/bracket/paren structures, splitting on unquoted whitespace
// otherwise. This is the sole input the Executor (§4.9) accepts — it never
// passes a shell a command string.
func Tokenize(cmd string) []string {
	var tokens []string
	var cur strings.Builder
	hasCur := false

	runes := []rune(cmd)
	i := 0
	n := len(runes)

	flush := func() {
		if hasCur {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	for i < n {
		r := runes[i]

		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
			i++

		case r == '\'' || r == '"' || r == '`':
			quote := r
			hasCur = true // even an empty quoted string yields a token
			i++
			for i < n {
				c := runes[i]
				if c == '\\' && i+1 < n && runes[i+1] == quote {
					cur.WriteRune(quote)
					i += 2
					continue
				}
				if c == quote {
					i++
					break
				}
				cur.WriteRune(c)
				i++
			}

		case r == '{' || r == '[' || r == '(':
			hasCur = true
			open, close := r, matchingClose(r)
			depth := 1
			cur.WriteRune(open)
			i++
			for i < n && depth > 0 {
				c := runes[i]
				cur.WriteRune(c)
				switch c {
				case open:
					depth++
				case close:
					depth--
				}
				i++
			}

		default:
			hasCur = true
			cur.WriteRune(r)
			i++
		}
	}
	flush()

	return tokens
}

func matchingClose(open rune) rune {
	switch open {
	case '{':
		return '}'
	case '[':
		return ']'
	case '(':
		return ')'
	default:
		return open
	}
}
