// Package nodeyaml is the narrow bridge between protein.Node and YAML
// text, shared by internal/walker (`.load`, parsing input documents) and
// internal/emit (`.export`'s yaml format). It is deliberately thin: the
// YAML parser/emitter themselves are out of scope per spec §1 ("treated
// as external collaborators whose interfaces we only enumerate") —
// this package is the narrow interface, backed by the teacher's own
// YAML dependency, github.com/goccy/go-yaml.
package nodeyaml

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/fralau/protein"
)

// Decode parses data into a Node tree, preserving mapping key order via
// goccy/go-yaml's UseOrderedMap decode option (it decodes every mapping
// level as a yaml.MapSlice instead of a Go map, which has no defined
// iteration order) and rejecting duplicate keys per spec §3's invariant.
func Decode(data []byte) (protein.Node, error) {
	var decoded any

	if err := yaml.UnmarshalWithOptions(data, &decoded, yaml.UseOrderedMap()); err != nil {
		return protein.Null, fmt.Errorf("%w: %s", protein.ErrParse, err)
	}

	return anyToNode(decoded)
}

func anyToNode(v any) (protein.Node, error) {
	switch t := v.(type) {
	case nil:
		return protein.Null, nil
	case bool:
		return protein.Bool(t), nil
	case int:
		return protein.Int(int64(t)), nil
	case int64:
		return protein.Int(t), nil
	case uint64:
		return protein.Int(int64(t)), nil
	case float64:
		return protein.Float(t), nil
	case string:
		return protein.NewStringScalar(t), nil
	case time.Time:
		return protein.Timestamp(t), nil
	case []any:
		items := make([]protein.Node, len(t))

		for i, e := range t {
			n, err := anyToNode(e)
			if err != nil {
				return protein.Null, err
			}

			items[i] = n
		}

		return protein.Seq(items...), nil
	case yaml.MapSlice:
		var entries []protein.Entry

		for _, item := range t {
			key, ok := item.Key.(string)
			if !ok {
				key = fmt.Sprintf("%v", item.Key)
			}

			val, err := anyToNode(item.Value)
			if err != nil {
				return protein.Null, err
			}

			entries, err = protein.AppendUnique(entries, key, val)
			if err != nil {
				return protein.Null, err
			}
		}

		return protein.Map(entries...), nil
	default:
		return protein.Null, fmt.Errorf("%w: unsupported YAML value of type %T", protein.ErrParse, v)
	}
}

// documentStartMarker is the literal `---` YAML document-start marker
// spec §6's "explicit_start=false" default toggles. goccy/go-yaml's
// EncodeOption set has no flag for it (its document-separator handling
// only applies between documents in a multi-document stream, which
// Encode never writes); explicitStart is honored by prepending the
// marker to the already-encoded text instead.
const documentStartMarker = "---\n"

// Encode serializes n as round-trip-preserving YAML text, honoring the
// indent/offset/width knobs spec §6 tabulates for the yaml emitter.
// offset mirrors ruamel's sequence-dash offset: a positive value indents
// block sequences under their parent mapping key (goccy/go-yaml's
// IndentSequence(true)) rather than flush with it, matching the spec's
// documented default of offset=2.
func Encode(n protein.Node, indent, offset, width int, explicitStart bool) ([]byte, error) {
	opts := []yaml.EncodeOption{
		yaml.Indent(indentOrDefault(indent)),
		yaml.IndentSequence(offset > 0),
	}

	if width > 0 {
		opts = append(opts, yaml.WithLineWrap(width))
	}

	out, err := yaml.MarshalWithOptions(nodeToAny(n), opts...)
	if err != nil {
		return nil, err
	}

	if explicitStart {
		out = append([]byte(documentStartMarker), out...)
	}

	return out, nil
}

func indentOrDefault(indent int) int {
	if indent <= 0 {
		return 2
	}

	return indent
}

// nodeToAny converts a Node into the yaml.MapSlice/[]any/scalar tree the
// encoder needs, preserving Mapping order via yaml.MapSlice.
func nodeToAny(n protein.Node) any {
	switch n.Kind {
	case protein.KindNull:
		return nil
	case protein.KindBool:
		return n.Bool
	case protein.KindInt:
		return n.Int
	case protein.KindFloat:
		return n.Float
	case protein.KindTimestamp:
		return n.Timestamp
	case protein.KindString:
		return n.String
	case protein.KindSequence:
		out := make([]any, len(n.Sequence))
		for i, v := range n.Sequence {
			out[i] = nodeToAny(v)
		}

		return out
	case protein.KindMapping:
		out := make(yaml.MapSlice, len(n.Mapping))
		for i, e := range n.Mapping {
			out[i] = yaml.MapItem{Key: e.Key, Value: nodeToAny(e.Value)}
		}

		return out
	default:
		return nil
	}
}

// FlowString renders n as a single-line flow-style YAML fragment, used by
// internal/module's collections sorting to build comparison keys and by
// the walker to turn a non-string evaluated mapping key into text.
func FlowString(n protein.Node) (string, error) {
	out, err := yaml.MarshalWithOptions(nodeToAny(n), yaml.Flow(true))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}
