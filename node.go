// Package protein implements the interpreter core of the Protein YAML-tree
// macro preprocessor: the node model, the frame-stack environment, the
// expression-evaluation shim, the construct dispatcher and tree walker, and
// the buffer/export subsystem. See SPEC_FULL.md for the full design.
package protein

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the variant a Node holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindTimestamp
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Entry is one key/value pair of a Mapping. Order within a Mapping's Entries
// slice is significant and preserved end to end (spec §3).
type Entry struct {
	Key   string
	Value Node
}

// Node is the sum-typed data tree representation described in spec §3.
// Exactly one of the payload fields is meaningful for a given Kind; the
// rest are left at their zero value. This mirrors the teacher's own
// Kind-tagged-struct AST convention (explang.Step/StepKind,
// intermediate.Instruction/Op) rather than a Go interface with one type per
// variant, because Node values are copied and compared far more often than
// they are type-switched on by external code.
type Node struct {
	Kind Kind

	Bool      bool
	Int       int64
	Float     float64
	Timestamp time.Time

	// String holds the text for KindString. Literal is true when the
	// source string carried the `#!literal ` sentinel: the expression
	// evaluator must never submit it to the template engine. The prefix
	// itself is already stripped from String when the scalar is built.
	String  string
	Literal bool

	Sequence []Node
	Mapping  []Entry
}

// Null is the canonical KindNull node.
var Null = Node{Kind: KindNull}

func Bool(v bool) Node { return Node{Kind: KindBool, Bool: v} }
func Int(v int64) Node { return Node{Kind: KindInt, Int: v} }
func Float(v float64) Node { return Node{Kind: KindFloat, Float: v} }
func Timestamp(v time.Time) Node { return Node{Kind: KindTimestamp, Timestamp: v} }
func String(v string) Node { return Node{Kind: KindString, String: v} }

// LiteralSentinel is the prefix that marks a YAML string scalar as
// literal-tagged (spec §3, §4.3): its inner text is never submitted to the
// expression evaluator.
const LiteralSentinel = "#!literal "

// NewStringScalar builds the Node for a raw YAML string scalar, detecting
// the literal sentinel and stripping it so that every later stage (the
// expression shim, the buffer subsystem, final emission) only ever sees
// the inner text plus the Literal flag, never the sentinel itself.
func NewStringScalar(raw string) Node {
	if strings.HasPrefix(raw, LiteralSentinel) {
		return LiteralString(strings.TrimPrefix(raw, LiteralSentinel))
	}

	return String(raw)
}

// LiteralString builds a string Node whose literal flag is set: it will
// never be submitted to the expression evaluator and is emitted verbatim
// with the `#!literal ` sentinel stripped (spec §4.3 point 1, §8 law 6).
func LiteralString(v string) Node { return Node{Kind: KindString, String: v, Literal: true} }

func Seq(items ...Node) Node { return Node{Kind: KindSequence, Sequence: items} }

// Map builds a Mapping Node from Entries, in the given order. It does not
// check for duplicate keys; callers that build a Mapping from user-facing
// merges should use AppendUnique instead.
func Map(entries ...Entry) Node { return Node{Kind: KindMapping, Mapping: entries} }

// IsNull reports whether n is the null scalar.
func (n Node) IsNull() bool { return n.Kind == KindNull }

// Get returns the value bound to key in a Mapping node and whether it was
// present. It is a no-op (returns Null, false) on any other Kind.
func (n Node) Get(key string) (Node, bool) {
	if n.Kind != KindMapping {
		return Null, false
	}

	for _, e := range n.Mapping {
		if e.Key == key {
			return e.Value, true
		}
	}

	return Null, false
}

// Len returns the number of child elements of a Sequence or Mapping, and 0
// for scalars.
func (n Node) Len() int {
	switch n.Kind {
	case KindSequence:
		return len(n.Sequence)
	case KindMapping:
		return len(n.Mapping)
	default:
		return 0
	}
}

// AppendUnique appends key:value to a Mapping's entries, returning
// ErrDupKey if key is already present. It is the single choke point the
// walker uses whenever two mapping fragments are merged (spec §4.1, §4.4),
// so every merge path enforces the same invariant.
func AppendUnique(entries []Entry, key string, value Node) ([]Entry, error) {
	for _, e := range entries {
		if e.Key == key {
			return nil, fmt.Errorf("%w: %q", ErrDupKey, key)
		}
	}

	return append(entries, Entry{Key: key, Value: value}), nil
}

// MergeMappings concatenates the entries of src into dst, key by key,
// failing with ErrDupKey on the first collision. Used by the walker to
// merge a construct's Mapping result into the surrounding mapping.
func MergeMappings(dst []Entry, src []Entry) ([]Entry, error) {
	var err error

	for _, e := range src {
		dst, err = AppendUnique(dst, e.Key, e.Value)
		if err != nil {
			return nil, err
		}
	}

	return dst, nil
}

// stripLiteral returns a copy of n with Literal cleared on every KindString
// node reachable from it, recursively. Final emission calls this once on
// the rendered tree (spec §3 invariant: "literal_flag is stripped during
// final emission; only the inner text remains").
func stripLiteral(n Node) Node {
	switch n.Kind {
	case KindString:
		n.Literal = false
		return n
	case KindSequence:
		out := make([]Node, len(n.Sequence))
		for i, v := range n.Sequence {
			out[i] = stripLiteral(v)
		}

		n.Sequence = out

		return n
	case KindMapping:
		out := make([]Entry, len(n.Mapping))
		for i, e := range n.Mapping {
			out[i] = Entry{Key: e.Key, Value: stripLiteral(e.Value)}
		}

		n.Mapping = out

		return n
	default:
		return n
	}
}

// Normalize strips literal flags throughout n and returns the pure data
// tree ready for serialization (spec §4.4 ".export": "normalize the
// result (strip literal flags, resolve anchors into trees of pure
// scalars/sequences/mappings)"). Alias resolution happens upstream, during
// parsing, since this package's Node has no notion of shared references
// once built.
func Normalize(n Node) Node {
	return stripLiteral(n)
}
