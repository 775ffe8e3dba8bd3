package module

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fralau/protein"
)

// stringsModule exposes strings.* as HostFilters/HostCallables (spec.md
// SPEC_FULL §6 "Module loading": "strings (HostFilters wrapping
// strings.*)"). ext.Strings()/ext.Encoders() already wire a broader set
// of CEL-native string builtins directly into every expression (see
// exprshim.NewEngine); this module covers the handful spec examples
// reach for by their plain Python-library names (`upper`, `lower`,
// `title`) and the two-argument operations (`split`, `join`) a unary
// filter signature cannot express as a filter.
func stringsModule(env *Environment) {
	env.Filter("upper", unaryString(strings.ToUpper))
	env.Filter("lower", unaryString(strings.ToLower))
	env.Filter("trim", unaryString(strings.TrimSpace))
	env.Filter("title", unaryString(titleCase))
	env.Export("split", splitFn)
	env.Export("join", joinFn)
}

func unaryString(f func(string) string) protein.CallableFunc {
	return func(args []protein.Node) (protein.Node, error) {
		if len(args) != 1 || args[0].Kind != protein.KindString {
			return protein.Null, fmt.Errorf("expects a single string argument")
		}

		return protein.String(f(args[0].String)), nil
	}
}

// titleCase upper-cases the first rune of each whitespace-separated
// word, avoiding the Unicode-locale subtleties of the deprecated
// strings.Title.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}

		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}

	return strings.Join(words, " ")
}

func splitFn(args []protein.Node) (protein.Node, error) {
	if len(args) != 2 || args[0].Kind != protein.KindString || args[1].Kind != protein.KindString {
		return protein.Null, fmt.Errorf("split(text, sep) expects two string arguments")
	}

	parts := strings.Split(args[0].String, args[1].String)
	out := make([]protein.Node, len(parts))

	for i, p := range parts {
		out[i] = protein.String(p)
	}

	return protein.Seq(out...), nil
}

func joinFn(args []protein.Node) (protein.Node, error) {
	if len(args) != 2 || args[0].Kind != protein.KindSequence || args[1].Kind != protein.KindString {
		return protein.Null, fmt.Errorf("join(items, sep) expects a sequence and a string")
	}

	parts := make([]string, len(args[0].Sequence))

	for i, item := range args[0].Sequence {
		if item.Kind != protein.KindString {
			return protein.Null, fmt.Errorf("join: item %d is not a string", i)
		}

		parts[i] = item.String
	}

	return protein.String(strings.Join(parts, args[1].String)), nil
}
