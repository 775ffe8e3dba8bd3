package exprshim

import (
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/fralau/protein"
)

// stringify renders a Go value produced by the expression engine into the
// canonical text the literal-parser below can recover losslessly. Scalars
// are rendered plainly (so `"Hello, {{ name }}!"` stays `Hello, Alice!`,
// not `Hello, "Alice"!`); composite values are rendered as YAML flow
// collections, matching the bracket syntax spec §4.3/§9 literal-parser
// recognizes (`[ … ]`, `{ … }`).
func stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool, int, int32, int64, float32, float64:
		return fmtScalar(t), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	default:
		out, err := yaml.MarshalWithOptions(v, yaml.Flow(true))
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(out)), nil
	}
}

func fmtScalar(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}

// parseLiteral is the literal-parser of spec §4.3 step 3: it recognizes
// numeric, boolean, null, sequence, and mapping literals in s and returns
// the corresponding Node; on any failure to recognize a non-string shape
// it returns the original text unchanged as a String node, per spec: "on
// failure, the result is kept as a String."
// ParseLiteral exposes the literal-parser outside this package: the CLI's
// `--set k=v` override handling recovers the same composite-value shapes
// (spec §6: "--set may supply scalars, or YAML-formatted compound values").
func ParseLiteral(s string) protein.Node {
	return parseLiteral(s)
}

func parseLiteral(s string) protein.Node {
	var decoded any

	if err := yaml.Unmarshal([]byte(s), &decoded); err != nil {
		return protein.String(s)
	}

	// yaml.Unmarshal of a bare run of text that isn't a recognized
	// literal shape just hands the string back; preserve the original
	// text verbatim rather than whatever re-encoding would produce.
	if str, ok := decoded.(string); ok && str == s {
		return protein.String(s)
	}

	return anyToNode(decoded)
}

// anyToNode converts a decoded YAML value (the usual
// nil/bool/int/uint/float64/string/[]any/map[string]any shapes
// goccy/go-yaml produces) into a Node.
func anyToNode(v any) protein.Node {
	switch t := v.(type) {
	case nil:
		return protein.Null
	case bool:
		return protein.Bool(t)
	case int:
		return protein.Int(int64(t))
	case int64:
		return protein.Int(t)
	case uint64:
		return protein.Int(int64(t))
	case float64:
		return protein.Float(t)
	case string:
		return protein.NewStringScalar(t)
	case time.Time:
		return protein.Timestamp(t)
	case []any:
		items := make([]protein.Node, len(t))
		for i, e := range t {
			items[i] = anyToNode(e)
		}

		return protein.Seq(items...)
	case map[string]any:
		entries := make([]protein.Entry, 0, len(t))
		for _, k := range sortedKeys(t) {
			entries = append(entries, protein.Entry{Key: k, Value: anyToNode(t[k])})
		}

		return protein.Map(entries...)
	default:
		return protein.String(fmtScalar(v))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
