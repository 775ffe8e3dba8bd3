package module

import (
	"fmt"
	"sort"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/nodeyaml"
)

// collectionsModule exposes HostCallables for sorting/grouping sequences
// (spec.md SPEC_FULL §6 "Module loading": "collections (HostCallables
// for sorting/grouping sequences)") — the kind of small standard-library
// surface a `.do`/`.foreach` body reaches for when shaping query results
// before `.export`.
func collectionsModule(env *Environment) {
	env.Export("sort", sortFn)
	env.Export("group_by", groupByFn)
	env.Export("unique", uniqueFn)
}

// sortKey renders a Node into a string that orders the way its YAML flow
// text would, which is good enough for the scalar keys sort/group_by/
// unique are meant to operate on (strings, numbers, bools).
func sortKey(n protein.Node) string {
	s, err := nodeyaml.FlowString(n)
	if err != nil {
		return ""
	}

	return s
}

func sortFn(args []protein.Node) (protein.Node, error) {
	if len(args) != 1 || args[0].Kind != protein.KindSequence {
		return protein.Null, fmt.Errorf("sort(items) expects a sequence")
	}

	items := append([]protein.Node(nil), args[0].Sequence...)

	sort.SliceStable(items, func(i, j int) bool {
		return sortKey(items[i]) < sortKey(items[j])
	})

	return protein.Seq(items...), nil
}

// groupByFn partitions args[0] (a sequence of mappings) by the string
// value of the args[1] field name, returning a Mapping from that value to
// the sequence of matching elements, in first-seen group order.
func groupByFn(args []protein.Node) (protein.Node, error) {
	if len(args) != 2 || args[0].Kind != protein.KindSequence || args[1].Kind != protein.KindString {
		return protein.Null, fmt.Errorf("group_by(items, field) expects a sequence and a field name")
	}

	field := args[1].String

	var order []string

	groups := make(map[string][]protein.Node)

	for _, item := range args[0].Sequence {
		v, ok := item.Get(field)
		if !ok {
			return protein.Null, fmt.Errorf("group_by: element missing field %q", field)
		}

		key := sortKey(v)
		if v.Kind == protein.KindString {
			key = v.String
		}

		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], item)
	}

	entries := make([]protein.Entry, len(order))
	for i, key := range order {
		entries[i] = protein.Entry{Key: key, Value: protein.Seq(groups[key]...)}
	}

	return protein.Map(entries...), nil
}

func uniqueFn(args []protein.Node) (protein.Node, error) {
	if len(args) != 1 || args[0].Kind != protein.KindSequence {
		return protein.Null, fmt.Errorf("unique(items) expects a sequence")
	}

	seen := make(map[string]bool, len(args[0].Sequence))

	var out []protein.Node

	for _, item := range args[0].Sequence {
		key := sortKey(item)
		if seen[key] {
			continue
		}

		seen[key] = true

		out = append(out, item)
	}

	return protein.Seq(out...), nil
}
