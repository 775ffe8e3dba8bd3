package exprshim

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/fralau/protein"
)

func TestEvalLiteralPassesThroughUnevaluated(t *testing.T) {
	e := NewEngine()

	n, err := e.Eval(protein.LiteralString("{{ name }}"), nil)
	assert.NoError(t, err)
	assert.Equal(t, "{{ name }}", n.String)
	assert.True(t, n.Literal)
}

func TestEvalSimpleInterpolation(t *testing.T) {
	e := NewEngine()
	vars := map[string]protein.Value{
		"name": protein.FromNode(protein.String("Alice")),
	}

	n, err := e.Eval(protein.String("Hello, {{ name }}!"), vars)
	assert.NoError(t, err)
	assert.Equal(t, protein.KindString, n.Kind)
	assert.Equal(t, "Hello, Alice!", n.String)
}

func TestEvalWholeSpanRecoversComposite(t *testing.T) {
	e := NewEngine()
	vars := map[string]protein.Value{
		"servers": protein.FromNode(protein.Seq(
			protein.String("a"),
			protein.String("b"),
		)),
	}

	n, err := e.Eval(protein.String("{{ servers }}"), vars)
	assert.NoError(t, err)
	assert.Equal(t, protein.KindSequence, n.Kind)
	assert.Equal(t, 2, n.Len())
	assert.Equal(t, "a", n.Sequence[0].String)
	assert.Equal(t, "b", n.Sequence[1].String)
}

func TestEvalPlainTextWithoutBracesPassesThrough(t *testing.T) {
	e := NewEngine()

	n, err := e.Eval(protein.String("no expressions here"), nil)
	assert.NoError(t, err)
	assert.Equal(t, "no expressions here", n.String)
}

func TestEvalArithmeticExpression(t *testing.T) {
	e := NewEngine()
	vars := map[string]protein.Value{
		"count": protein.FromNode(protein.Int(2)),
	}

	n, err := e.Eval(protein.String("{{ count + 1 }}"), vars)
	assert.NoError(t, err)
	assert.Equal(t, protein.KindInt, n.Kind)
	assert.Equal(t, int64(3), n.Int)
}

// TestEvalHostCallableExpressionCall grounds spec scenario S6: a
// HostCallable bound in the variable environment must be invocable from
// expression text as `name(args...)`, returning a composite Node.
func TestEvalHostCallableExpressionCall(t *testing.T) {
	e := NewEngine()

	servers := func(args []protein.Node) (protein.Node, error) {
		assert.Equal(t, 1, len(args))
		assert.Equal(t, "live", args[0].String)

		return protein.Seq(
			protein.Seq(protein.String("apollo"), protein.String("192.168.1.10")),
			protein.Seq(protein.String("athena"), protein.String("192.168.1.40")),
		), nil
	}

	vars := map[string]protein.Value{
		"servers": {Kind: protein.ValueHostCallable, HostCallable: servers},
	}

	n, err := e.Eval(protein.String("{{ servers('live') }}"), vars)
	assert.NoError(t, err)
	assert.Equal(t, protein.KindSequence, n.Kind)
	assert.Equal(t, 2, n.Len())
	assert.Equal(t, "apollo", n.Sequence[0].Sequence[0].String)
}

func TestEvalRegisteredFilter(t *testing.T) {
	e := NewEngine()
	e.RegisterFilter("shout", func(args []protein.Node) (protein.Node, error) {
		return protein.String(args[0].String + "!"), nil
	})

	vars := map[string]protein.Value{
		"name": protein.FromNode(protein.String("bob")),
	}

	n, err := e.Eval(protein.String("{{ shout(name) }}"), vars)
	assert.NoError(t, err)
	assert.Equal(t, "bob!", n.String)
}
