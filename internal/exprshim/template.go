// Package exprshim is the expression evaluator shim of spec §4.3: it
// decides whether a string leaf is literal (never evaluated) or dynamic
// (submitted to the template engine), and recovers composite values from
// the engine's string output via a literal-parser.
//
// The wrapped template engine is github.com/google/cel-go — see
// SPEC_FULL.md §6 for why CEL stands in for the "Jinja-style" engine the
// distilled spec describes, and runtime/snapsqlgo.InstructionExecutor for
// the per-call cel.NewEnv(cel.Variable(...)) pattern this package
// generalizes.
package exprshim

import (
	"fmt"
	"strings"
)

// span is one `{{ ... }}` occurrence within a template string.
type span struct {
	start, end int // byte offsets of the surrounding "{{"/"}}" delimiters, end exclusive
	expr       string
}

// scanSpans finds every top-level `{{ expr }}` occurrence in text. Brace
// depth and quoting are tracked so an expression like
// `{{ {'a': 1}['a'] }}` (a CEL map literal) does not confuse the scanner
// into closing early on its inner `}`.
func scanSpans(text string) ([]span, error) {
	var spans []span

	i := 0
	for i < len(text) {
		open := strings.Index(text[i:], "{{")
		if open < 0 {
			break
		}

		open += i
		exprStart := open + 2
		depth := 0
		inQuote := byte(0)
		j := exprStart
		closed := -1

		for j < len(text) {
			c := text[j]

			switch {
			case inQuote != 0:
				if c == '\\' && j+1 < len(text) {
					j++
				} else if c == inQuote {
					inQuote = 0
				}
			case c == '\'' || c == '"':
				inQuote = c
			case c == '{':
				depth++
			case c == '}':
				if depth == 0 {
					if j+1 < len(text) && text[j+1] == '}' {
						closed = j
					}
				} else {
					depth--
				}
			}

			if closed >= 0 {
				break
			}

			j++
		}

		if closed < 0 {
			return nil, fmt.Errorf("unterminated expression starting at byte %d", open)
		}

		spans = append(spans, span{
			start: open,
			end:   closed + 2,
			expr:  strings.TrimSpace(text[exprStart:closed]),
		})

		i = closed + 2
	}

	return spans, nil
}

// soleSpan reports whether text consists of exactly one `{{ ... }}` span
// with nothing but whitespace around it — the case spec §4.3 describes as
// yielding a non-string Node directly (e.g. S6's `servers('live')`).
func soleSpan(text string, spans []span) (span, bool) {
	if len(spans) != 1 {
		return span{}, false
	}

	s := spans[0]

	return s, strings.TrimSpace(text[:s.start]) == "" && strings.TrimSpace(text[s.end:]) == ""
}
