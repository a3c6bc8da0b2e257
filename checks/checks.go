// Package checks implements defect checks as listeners of the symbolic
// execution engine.
package checks

import (
	"github.com/benbjohnson/symex"
)

// Check names.
const (
	NullDereferenceName  = "null-dereference"
	ConditionAlwaysName  = "condition-always-true-or-false"
	DivisionByZeroName   = "division-by-zero"
	UnclosedResourceName = "unclosed-resource"
)

// All returns a new instance of every check.
func All() []symex.Listener {
	return []symex.Listener{
		NewNullDereference(),
		NewConditionAlwaysTrueOrFalse(),
		NewDivisionByZero(),
		NewUnclosedResource(),
	}
}

// ByName returns new instances of the named checks. Unknown names are
// returned as the second value.
func ByName(names ...string) ([]symex.Listener, []string) {
	var a []symex.Listener
	var unknown []string
	for _, name := range names {
		switch name {
		case NullDereferenceName:
			a = append(a, NewNullDereference())
		case ConditionAlwaysName:
			a = append(a, NewConditionAlwaysTrueOrFalse())
		case DivisionByZeroName:
			a = append(a, NewDivisionByZero())
		case UnclosedResourceName:
			a = append(a, NewUnclosedResource())
		default:
			unknown = append(unknown, name)
		}
	}
	return a, unknown
}

// withStep returns flows with step appended to each of them, or a single
// flow made of step if there are none.
func withStep(flows []symex.Flow, step symex.Step) []symex.Flow {
	if len(flows) == 0 {
		return []symex.Flow{{Steps: []symex.Step{step}}}
	}
	other := make([]symex.Flow, len(flows))
	for i, f := range flows {
		steps := append([]symex.Step(nil), f.Steps...)
		if len(steps) == 0 || steps[len(steps)-1] != step {
			steps = append(steps, step)
		}
		other[i] = symex.Flow{Steps: steps}
	}
	return other
}
