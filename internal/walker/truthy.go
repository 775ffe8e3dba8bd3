package walker

import "github.com/fralau/protein"

// Truthy coerces a Node to bool for `.if`/`.switch`-adjacent decisions
// (spec §4.4: "non-empty collection, non-zero number, non-empty
// non-'false' string → true"). This pins the Open Question spec §9
// leaves unresolved ("the precise truthiness coercion inside `.if .cond`
// is implied but not specified"), following the same scalar-kind
// dispatch shape as langs/snapsqlgo.Truthy, simplified since Node has a
// closed, already-normalized set of kinds instead of arbitrary Go values.
func Truthy(n protein.Node) bool {
	switch n.Kind {
	case protein.KindNull:
		return false
	case protein.KindBool:
		return n.Bool
	case protein.KindInt:
		return n.Int != 0
	case protein.KindFloat:
		return n.Float != 0
	case protein.KindTimestamp:
		return !n.Timestamp.IsZero()
	case protein.KindString:
		return n.String != "" && n.String != "false"
	case protein.KindSequence:
		return len(n.Sequence) > 0
	case protein.KindMapping:
		return len(n.Mapping) > 0
	default:
		return false
	}
}
