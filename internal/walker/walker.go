// Package walker implements the construct dispatcher & tree walker of
// spec §4.4 — the largest component of the interpreter core. It
// recognizes dotted keys, routes them to handlers, enforces the Collapse
// Rule, merges construct results back into their containing node, and
// manages frame lifetime around scoped constructs.
//
// Grounded on runtime/snapsqlgo.InstructionExecutor.Execute: a dispatch
// loop keyed by instruction opcode (LOOP_START, JUMP_IF_EXP, EMIT_EVAL,
// ...) generalized here from "walk a linear bytecode array with a program
// counter" to "walk a tree of Nodes recursively" keyed by dotted
// construct name, because Protein's source of truth is a YAML tree, not
// a compiled instruction stream — the dispatch-table idiom survives even
// though the bytecode does not.
package walker

import (
	"fmt"
	"strings"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/exprshim"
	"github.com/fralau/protein/internal/frame"
	"github.com/fralau/protein/internal/nodeyaml"
)

// ModuleLoader resolves `.import_module`/`.module` against a path,
// merging the module's variables/exports/filters into stack's current
// frame and engine's filter table. It is the "explicit ModuleLoader
// trait" called for in spec §9 design notes, since Go has no dynamic
// import equivalent to a host scripting runtime.
type ModuleLoader interface {
	Load(path string, stack *frame.Stack, engine *exprshim.Engine) error
}

// BufferRegistry backs `.open_buffer`/`.write_buffer`/`.save_buffer`/
// `.write` (spec §4.5).
type BufferRegistry interface {
	Open(name, language, initText string, indentWidth int) error
	Write(name, text string, indentDelta int) error
	Save(name, filename, baseDir string) error
	WriteOnce(filename, text, baseDir string) error
}

// Emitter serializes a normalized Node to bytes in the named format
// (spec §6 "File formats (emit)").
type Emitter interface {
	Emit(format string, n protein.Node, args map[string]protein.Node) ([]byte, error)
	InferFormat(filename string) string
}

// SqlRegistry backs `.def_sql`/`.exec_sql`/`.load_sql` (spec §6
// "SQL protocol"), kept opaque to the walker per spec §1.
type SqlRegistry interface {
	Register(name, url string, kwargs map[string]protein.Node) (protein.SqlEngine, error)
}

// Diagnostics receives `.print` output (spec §4.4).
type Diagnostics interface {
	Println(line string)
}

// Walker holds the collaborators and live state needed to render one
// input tree, and the few the recursive `.load` shares across a whole
// program (the frame stack, the expression engine, and the buffer
// registry are process-wide; BaseDir/File are per-document).
type Walker struct {
	Stack   *frame.Stack
	Expr    *exprshim.Engine
	Modules ModuleLoader
	Buffers BufferRegistry
	Emit    Emitter
	SQL     SqlRegistry
	Diag    Diagnostics

	// BaseDir is the directory `.load`/`.export`/`.write`/`.save_buffer`
	// resolve relative filenames against (spec §4.5, §6): the directory
	// containing the document currently being walked.
	BaseDir string
	// File names the document currently being walked. `.load` sets it
	// on the sub-walker, but no walker code reads it: errors returned by
	// the walker carry neither a file name nor a line position.
	File string

	// DryRun suppresses the disk-writing side effects of `.export`,
	// `.save_buffer`, and `.write` (spec.md SPEC_FULL §10's `--dry-run`
	// flag), reporting what would have been written to Diag instead. It
	// never gates `.exec_sql`/`.load_sql`/`.def_sql`, which spec.md
	// SPEC_FULL §10 deliberately scopes dry-run away from.
	DryRun bool
}

// Render walks a fully parsed input tree to completion: the public entry
// point described in spec §2 ("a top-level entry renders a parsed input
// tree"). The returned Node is the pure, un-normalized result tree;
// callers that serialize it directly (rather than through `.export`)
// should call protein.Normalize on it first.
func (w *Walker) Render(root protein.Node) (protein.Node, error) {
	return w.walk(root)
}

// walk is the recursive tree-walking primitive. Plain scalars pass
// through the expression shim; sequences are walked element-wise with no
// automatic collapse (collapse is specific to `.do`/`.foreach` result
// sequences, not to ordinary YAML lists); mappings go through
// walkMapping, which is where construct dispatch happens.
func (w *Walker) walk(n protein.Node) (protein.Node, error) {
	switch n.Kind {
	case protein.KindMapping:
		return w.walkMapping(n)
	case protein.KindSequence:
		out := make([]protein.Node, len(n.Sequence))

		for i, item := range n.Sequence {
			v, err := w.walk(item)
			if err != nil {
				return protein.Null, err
			}

			out[i] = v
		}

		return protein.Seq(out...), nil
	case protein.KindString:
		return w.Expr.Eval(n, w.Stack.MergedSnapshot())
	default:
		return n, nil
	}
}

// isConstruct reports whether key is a dotted construct name (spec
// §4.4: "Keys starting with `.` are constructs").
func isConstruct(key string) bool {
	return strings.HasPrefix(key, ".")
}

// walkMapping implements spec §4.4's scanning and merge rules: a sole
// dotted key's result replaces the mapping entirely; a mix of plain keys
// and dotted constructs merges each construct's Mapping (or drops its
// Null) into the surrounding result, preserving plain-key order and
// erroring on key collision. A plain key containing `{{` is evaluated as
// an expression and its result used as the key. When the mapping has no
// plain keys and exactly one construct yields a value that is neither
// Null nor a Mapping, that value replaces the mapping.
func (w *Walker) walkMapping(n protein.Node) (protein.Node, error) {
	if len(n.Mapping) == 0 {
		return n, nil
	}

	if len(n.Mapping) == 1 && isConstruct(n.Mapping[0].Key) {
		return w.dispatch(n.Mapping[0].Key, n.Mapping[0].Value)
	}

	var (
		result   []protein.Entry
		err      error
		sole     protein.Node
		soleKey  string
		haveSole bool
	)

	for _, e := range n.Mapping {
		if isConstruct(e.Key) {
			res, derr := w.dispatch(e.Key, e.Value)
			if derr != nil {
				return protein.Null, derr
			}

			if res.IsNull() {
				continue
			}

			if res.Kind != protein.KindMapping {
				if haveSole {
					return protein.Null, fmt.Errorf(
						"%w: construct %q in a mixed mapping must yield null or a mapping, got %s",
						protein.ErrType, e.Key, res.Kind)
				}

				sole, soleKey, haveSole = res, e.Key, true

				continue
			}

			result, err = protein.MergeMappings(result, res.Mapping)
			if err != nil {
				return protein.Null, err
			}

			continue
		}

		key := e.Key
		if strings.Contains(key, "{{") {
			k, kerr := w.walk(protein.String(key))
			if kerr != nil {
				return protein.Null, kerr
			}

			if k.Kind == protein.KindString {
				key = k.String
			} else if key, err = nodeyaml.FlowString(k); err != nil {
				return protein.Null, err
			}
		}

		walked, werr := w.walk(e.Value)
		if werr != nil {
			return protein.Null, werr
		}

		result, err = protein.AppendUnique(result, key, walked)
		if err != nil {
			return protein.Null, err
		}
	}

	if haveSole && len(result) > 0 {
		return protein.Null, fmt.Errorf(
			"%w: construct %q in a mixed mapping must yield null or a mapping, got %s",
			protein.ErrType, soleKey, sole.Kind)
	}

	if haveSole {
		return sole, nil
	}

	return protein.Map(result...), nil
}

// dispatch routes a single dotted key to its handler: first the builtin
// construct table, then a HostCallable bound under the same name (spec
// §9: "a HostCallable lookup occurs in the dispatcher after the built-in
// construct table").
func (w *Walker) dispatch(key string, value protein.Node) (protein.Node, error) {
	if h, ok := constructTable[key]; ok {
		return h(w, value)
	}

	name := strings.TrimPrefix(key, ".")

	v, err := w.Stack.Resolve(name)
	if err == nil && v.Kind == protein.ValueHostCallable {
		return w.invokeCallable(v.HostCallable, value)
	}

	return protein.Null, fmt.Errorf("%w: %q", protein.ErrUnknownConstruct, key)
}

// invokeCallable evaluates a HostCallable construct invocation: the
// argument node is flattened by positionalArgs, and the callable's
// return value is passed back unchanged. No separate return-type check
// is made, since a CallableFunc can only return a Node, and every Node
// kind is a scalar, a sequence or a mapping.
func (w *Walker) invokeCallable(fn protein.CallableFunc, argsValue protein.Node) (protein.Node, error) {
	walkedArgs, err := w.walk(argsValue)
	if err != nil {
		return protein.Null, err
	}

	args, err := positionalArgs(walkedArgs)
	if err != nil {
		return protein.Null, err
	}

	result, err := fn(args)
	if err != nil {
		return protein.Null, err
	}

	return result, nil
}

// positionalArgs flattens a HostCallable construct's argument node into a
// plain slice: a Sequence supplies positional args directly; a Mapping's
// values are passed in the order their keys appear, with the keys
// dropped, since HostCallable signatures (unlike Closures) carry no
// declared parameter names to bind named args against.
func positionalArgs(n protein.Node) ([]protein.Node, error) {
	switch n.Kind {
	case protein.KindNull:
		return nil, nil
	case protein.KindSequence:
		return n.Sequence, nil
	case protein.KindMapping:
		out := make([]protein.Node, len(n.Mapping))
		for i, e := range n.Mapping {
			out[i] = e.Value
		}

		return out, nil
	default:
		return []protein.Node{n}, nil
	}
}
