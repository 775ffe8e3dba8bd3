package walker

import "github.com/fralau/protein"

// Collapse implements the general Collapse Rule of spec §4.1, applied to
// the result sequence of a `.do` body (and, per iteration, the body of a
// `.foreach` — see ForeachCollapse below for the separate rule applied
// across iterations).
func Collapse(items []protein.Node) (protein.Node, error) {
	switch len(items) {
	case 0:
		return protein.Null, nil
	case 1:
		return items[0], nil
	}

	if merged, ok, err := mergeSingleKeyMappings(items); ok || err != nil {
		return merged, err
	}

	return protein.Seq(items...), nil
}

// ForeachCollapse implements the foreach-specific collapse of spec §4.1:
// unlike Collapse, it never reduces below a sequence — an empty or
// single-element result stays a Sequence unless every element is a
// single-key mapping with distinct keys and collectMappings is true, in
// which case they are merged into one Mapping (spec scenarios S2–S4).
// Repeated keys across elements are not an error here: the result is
// then the Sequence as is.
func ForeachCollapse(items []protein.Node, collectMappings bool) (protein.Node, error) {
	if len(items) == 0 || !collectMappings {
		return protein.Seq(items...), nil
	}

	if merged, ok, err := mergeSingleKeyMappings(items); ok && err == nil {
		return merged, nil
	}

	return protein.Seq(items...), nil
}

// mergeSingleKeyMappings merges items into one Mapping when every element
// is a Mapping of exactly one key, failing with ErrDupKey on a repeated
// key across elements (spec §4.1). ok is false when the precondition
// does not hold, in which case the caller falls back to returning the
// items as a Sequence.
func mergeSingleKeyMappings(items []protein.Node) (protein.Node, bool, error) {
	for _, it := range items {
		if it.Kind != protein.KindMapping || len(it.Mapping) != 1 {
			return protein.Null, false, nil
		}
	}

	var (
		merged []protein.Entry
		err    error
	)

	for _, it := range items {
		merged, err = protein.AppendUnique(merged, it.Mapping[0].Key, it.Mapping[0].Value)
		if err != nil {
			return protein.Null, true, err
		}
	}

	return protein.Map(merged...), true, nil
}
