package walker

import (
	"fmt"
	"strings"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/frame"
)

// handler is the signature every construct handler implements: it
// receives the walker and the construct's own value node (spec §4.4),
// and returns the Node it produces (possibly Null).
type handler func(w *Walker, value protein.Node) (protein.Node, error)

// constructTable is the dotted-name → handler dispatch table spec §9
// calls for ("model as a table mapping dotted-name → handler"),
// generalizing the opcode switch of
// runtime/snapsqlgo.InstructionExecutor.Execute.
var constructTable = map[string]handler{
	".define":        defineHandler,
	".context":       defineHandler,
	".local":         localHandler,
	".do":            doHandler,
	".if":            ifHandler,
	".switch":        switchHandler,
	".foreach":       foreachHandler,
	".function":      functionHandler,
	".call":          callHandler,
	".import_module": importModuleHandler,
	".module":        importModuleHandler,
	".load":          loadHandler,
	".export":        exportHandler,
	".print":         printHandler,
	".exit":          exitHandler,
	".def_sql":       defSQLHandler,
	".exec_sql":      execSQLHandler,
	".load_sql":      loadSQLHandler,
	".open_buffer":   openBufferHandler,
	".write_buffer":  writeBufferHandler,
	".save_buffer":   saveBufferHandler,
	".write":         writeHandler,
}

func mustMapping(value protein.Node, construct string) error {
	if value.Kind != protein.KindMapping {
		return fmt.Errorf("%w: %s expects a mapping value", protein.ErrType, construct)
	}

	return nil
}

func getString(value protein.Node, key, construct string, required bool) (string, bool, error) {
	v, ok := value.Get(key)
	if !ok {
		if required {
			return "", false, fmt.Errorf("%w: %s requires %s", protein.ErrArg, construct, key)
		}

		return "", false, nil
	}

	if v.Kind != protein.KindString {
		return "", false, fmt.Errorf("%w: %s %s must be a string", protein.ErrType, construct, key)
	}

	return v.String, true, nil
}

// defineHandler implements `.define`/`.context` (spec §4.4): each entry's
// value is walked and written to the current frame. Yields Null.
func defineHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".define"); err != nil {
		return protein.Null, err
	}

	for _, e := range value.Mapping {
		walked, err := w.walk(e.Value)
		if err != nil {
			return protein.Null, err
		}

		w.Stack.SetTop(e.Key, protein.FromNode(walked))
	}

	return protein.Null, nil
}

// localHandler implements `.local` (spec §4.4): a new frame is pushed;
// each entry in `.local`'s own mapping is both bound into that frame
// (as `.define` would) and kept as an output field, so later entries in
// the same block can reference earlier ones — "the form permits nested
// scoping without an explicit `.define`." Dotted entries nested directly
// inside `.local`'s value are dispatched and merged like any mixed
// mapping. The frame is popped before returning.
func localHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".local"); err != nil {
		return protein.Null, err
	}

	w.Stack.Push(frame.New())
	defer w.Stack.Pop()

	var (
		result []protein.Entry
		err    error
	)

	for _, e := range value.Mapping {
		if isConstruct(e.Key) {
			res, derr := w.dispatch(e.Key, e.Value)
			if derr != nil {
				return protein.Null, derr
			}

			if res.IsNull() {
				continue
			}

			if res.Kind != protein.KindMapping {
				return protein.Null, fmt.Errorf("%w: construct %q inside .local must yield null or a mapping", protein.ErrType, e.Key)
			}

			result, err = protein.MergeMappings(result, res.Mapping)
			if err != nil {
				return protein.Null, err
			}

			continue
		}

		walked, werr := w.walk(e.Value)
		if werr != nil {
			return protein.Null, werr
		}

		w.Stack.SetTop(e.Key, protein.FromNode(walked))

		result, err = protein.AppendUnique(result, e.Key, walked)
		if err != nil {
			return protein.Null, err
		}
	}

	return protein.Map(result...), nil
}

// doHandler implements `.do` (spec §4.4): a sequence body is walked
// element-wise and collapsed (spec §4.1); a mapping body is walked like
// any ordinary mapping, with its dotted children recursively processed.
func doHandler(w *Walker, value protein.Node) (protein.Node, error) {
	return w.runDo(value)
}

// runDo is shared by `.do` and each iteration of `.foreach`'s body.
func (w *Walker) runDo(value protein.Node) (protein.Node, error) {
	switch value.Kind {
	case protein.KindSequence:
		items := make([]protein.Node, len(value.Sequence))

		for i, el := range value.Sequence {
			v, err := w.walk(el)
			if err != nil {
				return protein.Null, err
			}

			items[i] = v
		}

		return Collapse(items)
	case protein.KindMapping:
		return w.walkMapping(value)
	case protein.KindNull:
		return protein.Null, nil
	default:
		return w.walk(value)
	}
}

// ifHandler implements `.if` (spec §4.4): `.cond` is evaluated and
// coerced with Truthy; the chosen branch is walked and returned.
func ifHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".if"); err != nil {
		return protein.Null, err
	}

	condNode, ok := value.Get(".cond")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .if requires .cond", protein.ErrArg)
	}

	cond, err := w.walk(condNode)
	if err != nil {
		return protein.Null, err
	}

	if Truthy(cond) {
		thenNode, ok := value.Get(".then")
		if !ok {
			return protein.Null, fmt.Errorf("%w: .if requires .then", protein.ErrArg)
		}

		return w.walk(thenNode)
	}

	elseNode, ok := value.Get(".else")
	if !ok {
		return protein.Null, nil
	}

	return w.walk(elseNode)
}

// switchHandler implements `.switch` (spec §4.4): `.expr` must evaluate
// to a string, used to look up `.cases`, falling back to `.default`.
func switchHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".switch"); err != nil {
		return protein.Null, err
	}

	exprNode, ok := value.Get(".expr")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .switch requires .expr", protein.ErrArg)
	}

	walked, err := w.walk(exprNode)
	if err != nil {
		return protein.Null, err
	}

	if walked.Kind != protein.KindString {
		return protein.Null, fmt.Errorf("%w: .switch .expr must evaluate to a string, got %s", protein.ErrType, walked.Kind)
	}

	casesNode, ok := value.Get(".cases")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .switch requires .cases", protein.ErrArg)
	}

	if casesNode.Kind != protein.KindMapping {
		return protein.Null, fmt.Errorf("%w: .switch .cases must be a mapping", protein.ErrType)
	}

	if chosen, ok := casesNode.Get(walked.String); ok {
		return w.walk(chosen)
	}

	if def, ok := value.Get(".default"); ok {
		return w.walk(def)
	}

	return protein.Null, nil
}

// foreachIterableExpr implements SPEC_FULL.md §9's resolution of
// `.values[1]`: a bare identifier ("xs") is treated as an implicit
// `{{ xs }}` expression, while a string already containing a template
// span is submitted unchanged. Only string, non-literal nodes are
// candidates; anything else (an already-built Sequence/Mapping, or a
// literal-flagged string) passes straight through to w.walk.
func foreachIterableExpr(n protein.Node) protein.Node {
	if n.Kind != protein.KindString || n.Literal {
		return n
	}

	if strings.Contains(n.String, "{{") {
		return n
	}

	return protein.String("{{ " + n.String + " }}")
}

// foreachHandler implements `.foreach` (spec §4.4, scenarios S2–S4): the
// iterable is evaluated and must be a sequence or a mapping (mappings
// iterate as (key, value) tuples, bound as a two-element sequence);
// each element gets its own pushed frame for the body; the per-iteration
// results are collected and reduced by ForeachCollapse.
func foreachHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".foreach"); err != nil {
		return protein.Null, err
	}

	valuesNode, ok := value.Get(".values")
	if !ok || valuesNode.Kind != protein.KindSequence || len(valuesNode.Sequence) != 2 {
		return protein.Null, fmt.Errorf("%w: .foreach requires .values: [name, iterable]", protein.ErrArg)
	}

	nameNode := valuesNode.Sequence[0]
	if nameNode.Kind != protein.KindString {
		return protein.Null, fmt.Errorf("%w: .foreach .values[0] must be a bare name", protein.ErrArg)
	}

	iterWalked, err := w.walk(foreachIterableExpr(valuesNode.Sequence[1]))
	if err != nil {
		return protein.Null, err
	}

	var elems []protein.Node

	switch iterWalked.Kind {
	case protein.KindSequence:
		elems = iterWalked.Sequence
	case protein.KindMapping:
		elems = make([]protein.Node, len(iterWalked.Mapping))
		for i, e := range iterWalked.Mapping {
			elems[i] = protein.Seq(protein.String(e.Key), e.Value)
		}
	default:
		return protein.Null, fmt.Errorf("%w: .foreach iterable must be a sequence or a mapping, got %s", protein.ErrType, iterWalked.Kind)
	}

	collectMappings := true

	if cmNode, ok := value.Get(".collect_mappings"); ok {
		cmWalked, werr := w.walk(cmNode)
		if werr != nil {
			return protein.Null, werr
		}

		collectMappings = Truthy(cmWalked)
	}

	doNode, ok := value.Get(".do")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .foreach requires .do", protein.ErrArg)
	}

	results := make([]protein.Node, 0, len(elems))

	for _, el := range elems {
		w.Stack.Push(frame.New())
		w.Stack.SetTop(nameNode.String, protein.FromNode(el))

		bodyResult, berr := w.runDo(doNode)

		w.Stack.Pop()

		if berr != nil {
			return protein.Null, berr
		}

		results = append(results, bodyResult)
	}

	return ForeachCollapse(results, collectMappings)
}

// functionHandler implements `.function` (spec §4.4, §3): it captures
// the unwalked body and a merged snapshot of every binding currently
// visible — the dynamic, shallow capture that makes scenario S5 ("a
// `.call` made after a later `.define` ... still sees the names as they
// were at capture time") hold.
func functionHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".function"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".function", true)
	if err != nil {
		return protein.Null, err
	}

	var params []string

	if argsNode, ok := value.Get(".args"); ok {
		if argsNode.Kind != protein.KindSequence {
			return protein.Null, fmt.Errorf("%w: .function .args must be a sequence of names", protein.ErrArg)
		}

		for _, a := range argsNode.Sequence {
			if a.Kind != protein.KindString {
				return protein.Null, fmt.Errorf("%w: .function .args entries must be names", protein.ErrArg)
			}

			params = append(params, a.String)
		}
	}

	doNode, ok := value.Get(".do")
	if !ok {
		return protein.Null, fmt.Errorf("%w: .function requires .do", protein.ErrArg)
	}

	closure := &protein.Closure{
		Name:        name,
		Params:      params,
		Body:        doNode,
		CapturedEnv: w.Stack.MergedSnapshot(),
	}

	w.Stack.SetTop(name, protein.Value{Kind: protein.ValueClosure, Closure: closure})

	return protein.Null, nil
}

// callHandler implements `.call` (spec §4.4, §3): arguments are walked
// and bound against the closure's parameters, then the body runs against
// an isolated stack seeded only with the closure's captured environment
// plus the parameter frame — "stack state at call time is not visible."
func callHandler(w *Walker, value protein.Node) (protein.Node, error) {
	if err := mustMapping(value, ".call"); err != nil {
		return protein.Null, err
	}

	name, _, err := getString(value, ".name", ".call", true)
	if err != nil {
		return protein.Null, err
	}

	v, rerr := w.Stack.Resolve(name)
	if rerr != nil {
		return protein.Null, rerr
	}

	if v.Kind != protein.ValueClosure || v.Closure == nil {
		return protein.Null, fmt.Errorf("%w: %q is not a function", protein.ErrType, name)
	}

	argsNode, _ := value.Get(".args")

	walkedArgs, werr := w.walk(argsNode)
	if werr != nil {
		return protein.Null, werr
	}

	bound, berr := BindArgs(v.Closure.Params, walkedArgs)
	if berr != nil {
		return protein.Null, berr
	}

	capturedFrame := frame.New()
	for k, cv := range v.Closure.CapturedEnv {
		capturedFrame.Set(k, cv)
	}

	calleeStack := frame.NewStack(capturedFrame)

	paramFrame := frame.New()
	for _, p := range v.Closure.Params {
		paramFrame.Set(p, protein.FromNode(bound[p]))
	}

	calleeStack.Push(paramFrame)

	saved := w.Stack
	w.Stack = calleeStack

	result, rerr := w.runDo(v.Closure.Body)

	w.Stack = saved

	if rerr != nil {
		return protein.Null, rerr
	}

	return result, nil
}
