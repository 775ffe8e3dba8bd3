package exprshim

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/fralau/protein"
)

// Engine evaluates Protein expression strings. One Engine is shared for
// the lifetime of a render; Filters may grow as `.import_module` adds
// HostFilters, but variables are supplied fresh on every Eval call from
// the caller's merged_snapshot (spec §4.2/§4.3).
type Engine struct {
	Filters map[string]protein.CallableFunc
}

// NewEngine creates an engine with the builtin filter library wired in:
// ext.Strings() and ext.Encoders() contribute CEL member functions
// (upperAscii, lowerAscii, trim, base64.encode, ...) directly on the
// environment; Filters holds additionally-registered, module-exported
// HostFilters invoked as ordinary CEL function calls (`myfilter(value)`).
func NewEngine() *Engine {
	return &Engine{Filters: make(map[string]protein.CallableFunc)}
}

// RegisterFilter adds a HostFilter-backed function under name, callable
// from expressions as `name(value, ...)` (spec §6 "ModuleEnvironment":
// "@env.filter on a function (adds as filter only)").
func (e *Engine) RegisterFilter(name string, fn protein.CallableFunc) {
	e.Filters[name] = fn
}

// Eval evaluates a String-kind Node leaf against vars (typically
// Stack.MergedSnapshot()). A literal-flagged node is returned unchanged —
// spec §4.3 point 1. A non-string-kind node is returned unchanged too,
// since only string leaves are ever submitted to the expression engine.
// A reference to a name the environment does not declare fails with
// ErrUndefined; any other evaluation failure fails with ErrExpr.
func (e *Engine) Eval(n protein.Node, vars map[string]protein.Value) (protein.Node, error) {
	if n.Kind != protein.KindString || n.Literal {
		return n, nil
	}

	rendered, err := e.render(n.String, vars)
	if err != nil {
		if strings.Contains(err.Error(), "undeclared reference") {
			return protein.Null, fmt.Errorf("%w: %s", protein.ErrUndefined, err)
		}

		return protein.Null, fmt.Errorf("%w: %s", protein.ErrExpr, err)
	}

	return parseLiteral(rendered), nil
}

// render implements spec §4.3 step 2: the string is submitted to the
// template engine together with the variable environment; the engine
// returns a string. Every `{{ expr }}` span is CEL-evaluated and
// stringified; surrounding literal text passes through untouched.
func (e *Engine) render(text string, vars map[string]protein.Value) (string, error) {
	spans, err := scanSpans(text)
	if err != nil {
		return "", err
	}

	if len(spans) == 0 {
		return text, nil
	}

	env, err := e.buildEnv(vars)
	if err != nil {
		return "", err
	}

	activation, err := toActivation(vars)
	if err != nil {
		return "", err
	}

	var out []byte

	cursor := 0

	for _, sp := range spans {
		out = append(out, text[cursor:sp.start]...)

		val, err := e.evalSpan(env, activation, sp.expr)
		if err != nil {
			return "", err
		}

		rendered, err := stringify(val)
		if err != nil {
			return "", err
		}

		out = append(out, rendered...)
		cursor = sp.end
	}

	out = append(out, text[cursor:]...)

	return string(out), nil
}

func (e *Engine) evalSpan(env *cel.Env, activation map[string]any, expr string) (any, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	result, _, err := prg.Eval(activation)
	if err != nil {
		return nil, err
	}

	return result.Value(), nil
}

// buildEnv constructs a fresh CEL environment declaring one dynamically-
// typed variable per live binding plus the filter library, the same
// per-call construction runtime/snapsqlgo.InstructionExecutor uses because
// the set of live variables changes on every call.
func (e *Engine) buildEnv(vars map[string]protein.Value) (*cel.Env, error) {
	opts := []cel.EnvOption{ext.Strings(), ext.Encoders()}

	for name, v := range vars {
		switch v.Kind {
		case protein.ValueNode:
			opts = append(opts, cel.Variable(name, cel.DynType))
		case protein.ValueHostCallable:
			// A HostCallable is invocable from expressions as
			// `name(args...)` (spec §6 "ModuleEnvironment": "@env.export
			// on a function (adds callable to expressions AND as a
			// dotted construct)") — scenario S6's `servers('live')`. It
			// is registered as a CEL function, not a variable, since
			// expression text never references it bare.
			opts = append(opts, callableOption(name, v.HostCallable))
		}
		// HostFilter/Closure/SqlEngine bindings have no expression-level
		// calling convention of their own (filters are registered
		// separately below; closures are invoked only via `.call`;
		// SQL engines only via `.exec_sql`/`.load_sql` .engine), so they
		// are neither declared nor activated here.
	}

	for name, fn := range e.Filters {
		opts = append(opts, filterOption(name, fn))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("building expression environment: %w", err)
	}

	return env, nil
}

// filterOption registers fn as a CEL function taking one dynamically
// typed argument and returning a dynamically typed result, so module
// filters can be called as `filtername(value)` from an expression.
func filterOption(name string, fn protein.CallableFunc) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_unary", []*cel.Type{cel.DynType}, cel.DynType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				node := anyToNode(arg.Value())

				result, err := fn([]protein.Node{node})
				if err != nil {
					return types.NewErr("%s: %s", name, err)
				}

				return types.DefaultTypeAdapter.NativeToValue(nodeToAny(result))
			})))
}

// maxCallableArity bounds the number of CEL overloads registered per
// HostCallable name. Protein's builtin callables (get_env(name, default?),
// the module-exported functions in internal/module) never need more than
// a handful of positional arguments; a fixed, small set of arities avoids
// CEL's lack of variadic/optional-argument declarations.
const maxCallableArity = 3

// callableOption registers fn as a CEL function under name with one
// overload per arity from 0 to maxCallableArity, so a HostCallable can be
// invoked from expression text regardless of how many arguments the
// caller supplies (spec §6's `get_env(NAME, default?)` needs both a
// one-arg and a two-arg overload under the same name).
func callableOption(name string, fn protein.CallableFunc) cel.EnvOption {
	overloads := make([]cel.FunctionOpt, 0, maxCallableArity+1)

	for arity := 0; arity <= maxCallableArity; arity++ {
		argTypes := make([]*cel.Type, arity)
		for i := range argTypes {
			argTypes[i] = cel.DynType
		}

		overloads = append(overloads, cel.Overload(
			fmt.Sprintf("%s_arity%d", name, arity),
			argTypes, cel.DynType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				nodes := make([]protein.Node, len(args))
				for i, a := range args {
					nodes[i] = anyToNode(a.Value())
				}

				result, err := fn(nodes)
				if err != nil {
					return types.NewErr("%s: %s", name, err)
				}

				return types.DefaultTypeAdapter.NativeToValue(nodeToAny(result))
			}),
		))
	}

	return cel.Function(name, overloads...)
}

func toActivation(vars map[string]protein.Value) (map[string]any, error) {
	activation := make(map[string]any, len(vars))

	for name, v := range vars {
		n, ok := v.AsNode()
		if !ok {
			// HostCallable/Closure/SqlEngine values are not addressable
			// from expression text directly; they are invoked through
			// the construct dispatcher instead (spec §4.4). Skip them
			// here rather than erroring, since an unrelated expression
			// in the same frame must still evaluate.
			continue
		}

		activation[name] = nodeToAny(n)
	}

	return activation, nil
}

// nodeToAny converts a Node into the plain Go value CEL expects in an
// activation map.
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
		out := make(map[string]any, len(n.Mapping))
		for _, e := range n.Mapping {
			out[e.Key] = nodeToAny(e.Value)
		}

		return out
	default:
		return nil
	}
}
