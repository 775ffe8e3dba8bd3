package emit

import (
	"strconv"
	"strings"

	"github.com/fralau/protein"
)

// emitPython implements spec §6's "python" format, a `repr()`-style
// serializer. No ecosystem Go library renders Python's repr syntax
// (DESIGN.md), so this is a small hand-written recursive printer —
// None/True/False, single-quoted strings with Python's escape rules,
// list/dict literal syntax.
func (e *Emitter) emitPython(n protein.Node) ([]byte, error) {
	var b strings.Builder

	writePythonRepr(&b, n)
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func writePythonRepr(b *strings.Builder, n protein.Node) {
	switch n.Kind {
	case protein.KindNull:
		b.WriteString("None")
	case protein.KindBool:
		if n.Bool {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case protein.KindInt:
		b.WriteString(strconv.FormatInt(n.Int, 10))
	case protein.KindFloat:
		b.WriteString(strconv.FormatFloat(n.Float, 'g', -1, 64))
	case protein.KindTimestamp:
		writePythonString(b, n.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	case protein.KindString:
		writePythonString(b, n.String)
	case protein.KindSequence:
		b.WriteByte('[')

		for i, item := range n.Sequence {
			if i > 0 {
				b.WriteString(", ")
			}

			writePythonRepr(b, item)
		}

		b.WriteByte(']')
	case protein.KindMapping:
		b.WriteByte('{')

		for i, e := range n.Mapping {
			if i > 0 {
				b.WriteString(", ")
			}

			writePythonString(b, e.Key)
			b.WriteString(": ")
			writePythonRepr(b, e.Value)
		}

		b.WriteByte('}')
	}
}

// writePythonString renders s as a Python single-quoted string literal,
// escaping backslash, single quote, and control characters the way
// Python's repr() does.
func writePythonString(b *strings.Builder, s string) {
	b.WriteByte('\'')

	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteByte('\'')
}
