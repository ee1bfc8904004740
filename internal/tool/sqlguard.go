package tool

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrNotReadOnly = errors.New("only a single read-only SELECT statement is allowed")

// Statement verbs that may never appear outside string literals, even inside
// a WITH clause.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "CREATE": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "COPY": true,
}

// CheckReadOnly accepts exactly one SELECT (or WITH ... SELECT) statement.
// A trailing semicolon is allowed. Comments and quoted text are ignored.
func CheckReadOnly(query string) error {
	words, statements := scanSQL(query)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}
	if statements > 1 {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	switch words[0] {
	case "SELECT", "WITH", "VALUES":
	default:
		return fmt.Errorf("%w: got %s", ErrNotReadOnly, words[0])
	}
	for _, w := range words[1:] {
		if writeKeywords[w] {
			return fmt.Errorf("%w: contains %s", ErrNotReadOnly, w)
		}
	}
	return nil
}

// scanSQL returns the upper-cased bare words of query, skipping comments,
// string literals and quoted identifiers, and counts non-empty statements.
func scanSQL(query string) ([]string, int) {
	var (
		words      []string
		word       strings.Builder
		statements int
		pending    bool // current statement has content
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	rs := []rune(query)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			flush()
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			flush()
			i += 2
			for i < len(rs) && !(rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '/') {
				i++
			}
			i++
		case c == '\'' || c == '"' || c == '`' || c == '[':
			flush()
			closer := c
			if c == '[' {
				closer = ']'
			}
			i++
			for i < len(rs) {
				if rs[i] == closer {
					if closer != ']' && i+1 < len(rs) && rs[i+1] == closer {
						i += 2
						continue
					}
					break
				}
				i++
			}
			pending = true
		case c == ';':
			flush()
			if pending {
				statements++
				pending = false
			}
		case unicode.IsLetter(c) || c == '_':
			word.WriteRune(c)
			pending = true
		case unicode.IsDigit(c):
			if word.Len() > 0 {
				word.WriteRune(c)
			}
			pending = true
		default:
			flush()
			if !unicode.IsSpace(c) {
				pending = true
			}
		}
	}
	flush()
	if pending {
		statements++
	}
	return words, statements
}
