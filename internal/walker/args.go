package walker

import (
	"fmt"

	"github.com/fralau/protein"
)

// BindArgs implements the argument-binding rule of spec §4.4: a Sequence
// binds positionally in declared order (length must match params
// exactly); a Mapping binds by name (every param present exactly once,
// no undeclared names); Null is treated as "no arguments supplied" and
// is only valid when params is empty; any other Kind is ErrArg.
func BindArgs(params []string, args protein.Node) (map[string]protein.Node, error) {
	switch args.Kind {
	case protein.KindNull:
		if len(params) != 0 {
			return nil, fmt.Errorf("%w: expected %d argument(s), got none", protein.ErrArg, len(params))
		}

		return map[string]protein.Node{}, nil
	case protein.KindSequence:
		return bindPositional(params, args.Sequence)
	case protein.KindMapping:
		return bindNamed(params, args.Mapping)
	default:
		return nil, fmt.Errorf("%w: .args must be a sequence or a mapping", protein.ErrArg)
	}
}

func bindPositional(params []string, values []protein.Node) (map[string]protein.Node, error) {
	if len(values) != len(params) {
		return nil, fmt.Errorf("%w: expected %d positional argument(s), got %d", protein.ErrArg, len(params), len(values))
	}

	bound := make(map[string]protein.Node, len(params))
	for i, p := range params {
		bound[p] = values[i]
	}

	return bound, nil
}

func bindNamed(params []string, entries []protein.Entry) (map[string]protein.Node, error) {
	byName := make(map[string]protein.Node, len(entries))
	for _, e := range entries {
		byName[e.Key] = e.Value
	}

	bound := make(map[string]protein.Node, len(params))

	for _, p := range params {
		v, ok := byName[p]
		if !ok {
			return nil, fmt.Errorf("%w: missing named argument %q", protein.ErrArg, p)
		}

		bound[p] = v
		delete(byName, p)
	}

	for extra := range byName {
		return nil, fmt.Errorf("%w: undeclared named argument %q", protein.ErrArg, extra)
	}

	return bound, nil
}
