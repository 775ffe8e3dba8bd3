package protein

import "fmt"

// ValueKind tags the variant a Value holds. ValueNode covers every plain
// Node, whatever its Kind, so a Node is lifted into a Value by wrapping it;
// the frame-only tags follow.
type ValueKind int

const (
	ValueNode ValueKind = iota
	ValueHostCallable
	ValueHostFilter
	ValueClosure
	ValueSqlEngine
)

// CallableFunc is the signature every HostCallable and HostFilter exposes
// to the walker and to the expression engine. args are already-evaluated
// Nodes; the return Node is passed back to the caller as is.
type CallableFunc func(args []Node) (Node, error)

// Closure is a user-defined function created by `.function` (spec §3, §4.4).
// CapturedEnv is a shallow, flat snapshot of every binding visible at
// definition time: dynamic capture, not lexical — re-running `.function`
// after the enclosing frame changes produces a new Closure with a new
// snapshot, but an existing Closure's snapshot never changes underneath it.
type Closure struct {
	Name        string
	Params      []string
	Body        Node
	CapturedEnv map[string]Value
}

// SqlEngine is an opaque handle to a registered database connection,
// produced by `.def_sql` (spec §4.4, §6 "SQL protocol"). The core only
// ever stores and passes around the handle; internal/sqlengine supplies
// the concrete type that satisfies this interface.
type SqlEngine interface {
	Name() string
	Exec(stmt string, args []Node) error
	Query(stmt string, args []Node) ([]Node, error)
	Close() error
}

// Value is Node extended with the host-/closure-/engine-backed variants a
// Frame can bind a name to (spec §3). Only one of the payload fields is
// meaningful for a given ValueKind.
type Value struct {
	Kind ValueKind

	Node         Node
	HostCallable CallableFunc
	HostFilter   CallableFunc
	Closure      *Closure
	SqlEngine    SqlEngine
}

// FromNode lifts a plain Node into a Value.
func FromNode(n Node) Value { return Value{Kind: ValueNode, Node: n} }

// AsNode extracts the Node payload, if any. ok is false for
// HostCallable/HostFilter/Closure/SqlEngine values, which spec §3 requires
// the walker to prune or surface as an error before a tree reaches
// serialization.
func (v Value) AsNode() (Node, bool) {
	if v.Kind == ValueNode {
		return v.Node, true
	}

	return Null, false
}

// IsPrunable reports whether v must never reach serialized output (spec §3
// invariant: "A Node emitted after preprocessing contains no ...
// HostCallable/Closure/SqlEngine values").
func (v Value) IsPrunable() bool {
	return v.Kind != ValueNode
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNode:
		return fmt.Sprintf("Node(%s)", v.Node.Kind)
	case ValueHostCallable:
		return "HostCallable"
	case ValueHostFilter:
		return "HostFilter"
	case ValueClosure:
		name := "<anonymous>"
		if v.Closure != nil {
			name = v.Closure.Name
		}

		return fmt.Sprintf("Closure(%s)", name)
	case ValueSqlEngine:
		name := "<unknown>"
		if v.SqlEngine != nil {
			name = v.SqlEngine.Name()
		}

		return fmt.Sprintf("SqlEngine(%s)", name)
	default:
		return "Value(?)"
	}
}
