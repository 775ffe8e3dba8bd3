package emit

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/fralau/protein"
)

// encoding/json's map marshaling always sorts keys alphabetically, which
// would violate spec §3's "insertion order is preserved and significant
// for deterministic output" whenever sort_keys is false (the common
// case). writeJSONNode hand-sequences object members in Node order
// (or sorted, when requested) while still delegating every scalar's
// actual encoding to encoding/json.Marshal, so correctness of escaping,
// number formatting, and Unicode handling stays the library's job.
func writeJSONNode(buf *bytes.Buffer, n protein.Node, sortKeys bool, indent string, depth int) error {
	switch n.Kind {
	case protein.KindSequence:
		return writeJSONArray(buf, n.Sequence, sortKeys, indent, depth)
	case protein.KindMapping:
		return writeJSONObject(buf, n.Mapping, sortKeys, indent, depth)
	default:
		scalar, err := json.Marshal(nodeToJSONValue(n, sortKeys))
		if err != nil {
			return err
		}

		buf.Write(scalar)

		return nil
	}
}

func writeJSONArray(buf *bytes.Buffer, items []protein.Node, sortKeys bool, indent string, depth int) error {
	if len(items) == 0 {
		buf.WriteString("[]")
		return nil
	}

	buf.WriteByte('[')

	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}

		writeNewlineIndent(buf, indent, depth+1)

		if err := writeJSONNode(buf, item, sortKeys, indent, depth+1); err != nil {
			return err
		}
	}

	writeNewlineIndent(buf, indent, depth)
	buf.WriteByte(']')

	return nil
}

func writeJSONObject(buf *bytes.Buffer, entries []protein.Entry, sortKeys bool, indent string, depth int) error {
	if len(entries) == 0 {
		buf.WriteString("{}")
		return nil
	}

	ordered := entries

	if sortKeys {
		ordered = append([]protein.Entry(nil), entries...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })
	}

	buf.WriteByte('{')

	for i, e := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}

		writeNewlineIndent(buf, indent, depth+1)

		key, err := json.Marshal(e.Key)
		if err != nil {
			return err
		}

		buf.Write(key)
		buf.WriteByte(':')

		if indent != "" {
			buf.WriteByte(' ')
		}

		if err := writeJSONNode(buf, e.Value, sortKeys, indent, depth+1); err != nil {
			return err
		}
	}

	writeNewlineIndent(buf, indent, depth)
	buf.WriteByte('}')

	return nil
}

func writeNewlineIndent(buf *bytes.Buffer, indent string, depth int) {
	if indent == "" {
		return
	}

	buf.WriteByte('\n')

	for i := 0; i < depth; i++ {
		buf.WriteString(indent)
	}
}

// nodeToJSONValue converts scalar/array Node shapes to plain Go values
// for encoding/json to marshal directly; Mapping is handled separately
// by writeJSONObject to control key order, but is still produced here
// (key-sorted) for the toml emitter, which has no order-sensitivity
// requirement of its own.
func nodeToJSONValue(n protein.Node, sortKeys bool) any {
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
			out[i] = nodeToJSONValue(v, sortKeys)
		}

		return out
	case protein.KindMapping:
		out := make(map[string]any, len(n.Mapping))
		for _, e := range n.Mapping {
			out[e.Key] = nodeToJSONValue(e.Value, sortKeys)
		}

		return out
	default:
		return nil
	}
}
