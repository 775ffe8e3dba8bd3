package walker

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/exprshim"
	"github.com/fralau/protein/internal/frame"
)

func newWalker() *Walker {
	return &Walker{
		Stack: frame.NewStack(nil),
		Expr:  exprshim.NewEngine(),
	}
}

func render(t *testing.T, src protein.Node) protein.Node {
	t.Helper()

	w := newWalker()

	out, err := w.Render(src)
	assert.NoError(t, err)

	return out
}

// TestDefineThenInterpolate exercises scenario S1: a `.define` binds a
// name, a later plain string interpolates it.
func TestDefineThenInterpolate(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".define", Value: protein.Map(
			protein.Entry{Key: "name", Value: protein.String("Ada")},
		)},
		protein.Entry{Key: "greeting", Value: protein.String("hello {{ name }}")},
	)

	out := render(t, doc)

	greeting, ok := out.Get("greeting")
	assert.True(t, ok)
	assert.Equal(t, "hello Ada", greeting.String)
}

// TestForeachCollectsSequence checks that a `.foreach` over a sequence
// without single-key-mapping bodies stays a Sequence.
func TestForeachCollectsSequence(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".foreach", Value: protein.Map(
			protein.Entry{Key: ".values", Value: protein.Seq(
				protein.String("item"),
				protein.Seq(protein.Int(1), protein.Int(2), protein.Int(3)),
			)},
			protein.Entry{Key: ".do", Value: protein.String("{{ item }}")},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindSequence, out.Kind)
	assert.Equal(t, 3, len(out.Sequence))
	assert.Equal(t, int64(1), out.Sequence[0].Int)
}

// TestForeachBareIdentifierResolvesVariable exercises spec §9's
// documented contract: a bare identifier in `.values[1]` is treated as
// an implicit `{{ name }}` expression, not a literal string to iterate
// character-by-character.
func TestForeachBareIdentifierResolvesVariable(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".define", Value: protein.Map(
			protein.Entry{Key: "xs", Value: protein.Seq(protein.Int(1), protein.Int(2), protein.Int(3))},
		)},
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".foreach", Value: protein.Map(
				protein.Entry{Key: ".values", Value: protein.Seq(
					protein.String("item"),
					protein.String("xs"),
				)},
				protein.Entry{Key: ".do", Value: protein.String("{{ item }}")},
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, protein.KindSequence, result.Kind)
	assert.Equal(t, 3, len(result.Sequence))
	assert.Equal(t, int64(1), result.Sequence[0].Int)
	assert.Equal(t, int64(2), result.Sequence[1].Int)
	assert.Equal(t, int64(3), result.Sequence[2].Int)
}

// TestForeachCollectsMappings exercises scenarios S3/S4: single-key
// mapping bodies merge into one Mapping under the default
// collect_mappings behavior.
func TestForeachCollectsMappings(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".foreach", Value: protein.Map(
			protein.Entry{Key: ".values", Value: protein.Seq(
				protein.String("item"),
				protein.Seq(protein.String("a"), protein.String("b")),
			)},
			protein.Entry{Key: ".do", Value: protein.Seq(
				protein.Map(protein.Entry{Key: "{{ item }}", Value: protein.String("{{ item }}-value")}),
			)},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindMapping, out.Kind)

	v, ok := out.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a-value", v.String)

	v, ok = out.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b-value", v.String)
}

// TestForeachCollectMappingsFalseKeepsSequence pins the resolved Open
// Question: .collect_mappings: false scopes only the foreach-specific
// merge, never affecting the general Collapse Rule.
func TestForeachCollectMappingsFalseKeepsSequence(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".foreach", Value: protein.Map(
			protein.Entry{Key: ".values", Value: protein.Seq(
				protein.String("item"),
				protein.Seq(protein.String("a")),
			)},
			protein.Entry{Key: ".collect_mappings", Value: protein.Bool(false)},
			protein.Entry{Key: ".do", Value: protein.Seq(
				protein.Map(protein.Entry{Key: "{{ item }}", Value: protein.String("x")}),
			)},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindSequence, out.Kind)
	assert.Equal(t, 1, len(out.Sequence))
}

// TestForeachOverMapping pins the resolved Open Question: the loop
// variable binds to a [key, value] tuple when iterating a Mapping.
func TestForeachOverMapping(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".define", Value: protein.Map(
			protein.Entry{Key: "m", Value: protein.Map(
				protein.Entry{Key: "x", Value: protein.Int(1)},
			)},
		)},
		protein.Entry{Key: ".foreach", Value: protein.Map(
			protein.Entry{Key: ".values", Value: protein.Seq(
				protein.String("pair"),
				protein.String("{{ m }}"),
			)},
			protein.Entry{Key: ".collect_mappings", Value: protein.Bool(false)},
			protein.Entry{Key: ".do", Value: protein.String("{{ pair }}")},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindSequence, out.Kind)
	assert.Equal(t, 1, len(out.Sequence))
}

// TestClosureCapturesDynamicSnapshotAtDefineTime exercises scenario S5: a
// `.call` made after a later `.define` rebinds a name still sees the name
// as it was at `.function` capture time.
func TestClosureCapturesDynamicSnapshotAtDefineTime(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".define", Value: protein.Map(
			protein.Entry{Key: "who", Value: protein.String("first")},
		)},
		protein.Entry{Key: ".function", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("greet")},
			protein.Entry{Key: ".do", Value: protein.String("hi {{ who }}")},
		)},
		protein.Entry{Key: ".context", Value: protein.Map(
			protein.Entry{Key: "who", Value: protein.String("second")},
		)},
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".call", Value: protein.Map(
				protein.Entry{Key: ".name", Value: protein.String("greet")},
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, "hi first", result.String)
}

// TestCallWithPositionalArgs exercises .function/.call argument binding.
func TestCallWithPositionalArgs(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".function", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("add_label")},
			protein.Entry{Key: ".args", Value: protein.Seq(protein.String("label"))},
			protein.Entry{Key: ".do", Value: protein.String("tag:{{ label }}")},
		)},
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".call", Value: protein.Map(
				protein.Entry{Key: ".name", Value: protein.String("add_label")},
				protein.Entry{Key: ".args", Value: protein.Seq(protein.String("beta"))},
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, "tag:beta", result.String)
}

// TestCallDoesNotSeeCallerStack exercises the "stack state at call time is
// not visible" requirement: a name bound only in the caller's frame (not
// captured at .function time) is undefined inside the call.
func TestCallDoesNotSeeCallerStack(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".function", Value: protein.Map(
			protein.Entry{Key: ".name", Value: protein.String("f")},
			protein.Entry{Key: ".do", Value: protein.String("{{ caller_only }}")},
		)},
		protein.Entry{Key: ".local", Value: protein.Map(
			protein.Entry{Key: "caller_only", Value: protein.String("secret")},
			protein.Entry{Key: "result", Value: protein.Map(
				protein.Entry{Key: ".call", Value: protein.Map(
					protein.Entry{Key: ".name", Value: protein.String("f")},
				)},
			)},
		)},
	)

	w := newWalker()
	_, err := w.Render(doc)
	assert.Error(t, err)
}

// TestLocalBindsAndEmitsFields pins the resolved Open Question: .local's
// entries are both bound into the pushed frame and kept as output fields.
func TestLocalBindsAndEmitsFields(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".local", Value: protein.Map(
			protein.Entry{Key: "a", Value: protein.Int(1)},
			protein.Entry{Key: "b", Value: protein.String("{{ a + 1 }}")},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindMapping, out.Kind)

	a, ok := out.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), a.Int)

	b, ok := out.Get("b")
	assert.True(t, ok)
	assert.Equal(t, int64(2), b.Int)
}

// TestIfTruthyBranches exercises .if with the pinned truthiness rule.
func TestIfTruthyBranches(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".if", Value: protein.Map(
				protein.Entry{Key: ".cond", Value: protein.Int(0)},
				protein.Entry{Key: ".then", Value: protein.String("yes")},
				protein.Entry{Key: ".else", Value: protein.String("no")},
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, "no", result.String)
}

// TestIfWithoutElseYieldsNull exercises the edge case of a false
// condition with no `.else` branch.
func TestIfWithoutElseYieldsNull(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".if", Value: protein.Map(
			protein.Entry{Key: ".cond", Value: protein.Bool(false)},
			protein.Entry{Key: ".then", Value: protein.String("yes")},
		)},
	)

	out := render(t, doc)
	assert.True(t, out.IsNull())
}

// TestSwitchFallsBackToDefault exercises .switch's default-case fallback.
func TestSwitchFallsBackToDefault(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".switch", Value: protein.Map(
				protein.Entry{Key: ".expr", Value: protein.String("unmatched")},
				protein.Entry{Key: ".cases", Value: protein.Map(
					protein.Entry{Key: "a", Value: protein.String("A")},
				)},
				protein.Entry{Key: ".default", Value: protein.String("fallback")},
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, "fallback", result.String)
}

// TestCollapseSingleElementUnwraps exercises the Collapse Rule: [x] -> x.
func TestCollapseSingleElementUnwraps(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".do", Value: protein.Seq(protein.Int(42))},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, int64(42), result.Int)
}

// TestCollapseEmptyYieldsNull exercises the Collapse Rule: [] -> Null.
func TestCollapseEmptyYieldsNull(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".do", Value: protein.Seq()},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.True(t, result.IsNull())
}

// TestCollapseMergesSingleKeyMappings exercises the Collapse Rule's
// sequence-of-single-key-mappings merge case.
func TestCollapseMergesSingleKeyMappings(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".do", Value: protein.Seq(
				protein.Map(protein.Entry{Key: "a", Value: protein.Int(1)}),
				protein.Map(protein.Entry{Key: "b", Value: protein.Int(2)}),
			)},
		)},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, protein.KindMapping, result.Kind)

	a, ok := result.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), a.Int)
}

// TestCollapseDuplicateKeyErrors exercises the Collapse Rule's duplicate
// key error path.
func TestCollapseDuplicateKeyErrors(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.Map(
			protein.Entry{Key: ".do", Value: protein.Seq(
				protein.Map(protein.Entry{Key: "a", Value: protein.Int(1)}),
				protein.Map(protein.Entry{Key: "a", Value: protein.Int(2)}),
			)},
		)},
	)

	w := newWalker()
	_, err := w.Render(doc)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, protein.ErrDupKey))
}

// TestUnknownConstructErrors exercises the error taxonomy:
// ErrUnknownConstruct.
func TestUnknownConstructErrors(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: ".nonexistent", Value: protein.Null},
	)

	w := newWalker()
	_, err := w.Render(doc)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, protein.ErrUnknownConstruct))
}

// TestUndefinedNameErrors exercises the error taxonomy: ErrUndefined.
func TestUndefinedNameErrors(t *testing.T) {
	doc := protein.String("{{ nope }}")

	w := newWalker()
	_, err := w.Render(doc)
	assert.Error(t, err)
}

// TestLiteralStringNeverEvaluated exercises spec §4.3 point 1 /
// §8 law 6: literal-flagged strings bypass the expression engine and pass
// through unchanged.
func TestLiteralStringNeverEvaluated(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "result", Value: protein.LiteralString("{{ not evaluated }}")},
	)

	out := render(t, doc)

	result, ok := out.Get("result")
	assert.True(t, ok)
	assert.Equal(t, "{{ not evaluated }}", result.String)
	assert.True(t, result.Literal)
}

// TestMixedMappingMergesConstructResult exercises walkMapping's mixed
// plain-key/dotted-construct merge rule.
func TestMixedMappingMergesConstructResult(t *testing.T) {
	doc := protein.Map(
		protein.Entry{Key: "plain", Value: protein.Int(1)},
		protein.Entry{Key: ".define", Value: protein.Map(
			protein.Entry{Key: "unused", Value: protein.Int(9)},
		)},
	)

	out := render(t, doc)

	assert.Equal(t, protein.KindMapping, out.Kind)

	plain, ok := out.Get("plain")
	assert.True(t, ok)
	assert.Equal(t, int64(1), plain.Int)

	_, ok = out.Get("unused")
	assert.False(t, ok)
}

// TestArgBindingRejectsWrongArity exercises the error taxonomy: ErrArg via
// BindArgs.
func TestArgBindingRejectsWrongArity(t *testing.T) {
	_, err := BindArgs([]string{"a", "b"}, protein.Seq(protein.Int(1)))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, protein.ErrArg))
}

// TestArgBindingRejectsUndeclaredNamedArg exercises BindArgs's named-arg
// validation.
func TestArgBindingRejectsUndeclaredNamedArg(t *testing.T) {
	_, err := BindArgs([]string{"a"}, protein.Map(
		protein.Entry{Key: "a", Value: protein.Int(1)},
		protein.Entry{Key: "extra", Value: protein.Int(2)},
	))
	assert.Error(t, err)
}

// TestTruthyCoercion exercises the pinned truthiness rule directly.
func TestTruthyCoercion(t *testing.T) {
	assert.False(t, Truthy(protein.Null))
	assert.False(t, Truthy(protein.Int(0)))
	assert.True(t, Truthy(protein.Int(-1)))
	assert.False(t, Truthy(protein.String("")))
	assert.False(t, Truthy(protein.String("false")))
	assert.True(t, Truthy(protein.String("0")))
	assert.False(t, Truthy(protein.Seq()))
	assert.True(t, Truthy(protein.Seq(protein.Null)))
}
