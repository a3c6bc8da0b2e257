package symex

import (
	"fmt"
	"strings"
)

// MethodYield summarizes one class of paths through a method: the
// constraints its parameters had on those paths and how the method exited.
// Yields refer to parameters by index so they never hold symbolic values of
// the exploration that produced them.
type MethodYield struct {
	Params []ValueConstraints

	// Result holds the constraints of the returned value on normal exits.
	Result ValueConstraints

	// ResultParam is the index of the parameter returned as is, or -1.
	ResultParam int

	// Exceptional is set for yields leaving the method with an exception.
	// Thrown is nil when the exception type is unknown.
	Exceptional bool
	Thrown      Type

	// CauseParam is the index of the parameter whose null dereference raised
	// the exception, or -1. Flow explains the dereference inside the method.
	CauseParam int
	Flow       []Step

	// Unknown marks a behavior that could not be summarized precisely.
	Unknown bool
}

// UnknownYield returns the yield of a method whose behavior is unknown.
func UnknownYield() *MethodYield {
	return &MethodYield{ResultParam: -1, CauseParam: -1, Unknown: true}
}

// IsExceptional returns true if the yield describes an exceptional exit.
func (y *MethodYield) IsExceptional() bool { return y.Exceptional }

// String returns a compact description of the yield.
func (y *MethodYield) String() string {
	if y.Unknown {
		return "unknown"
	}

	var buf strings.Builder
	buf.WriteString("(")
	for i, p := range y.Params {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(p.String())
	}
	buf.WriteString(") -> ")

	switch {
	case y.Exceptional && y.Thrown != nil:
		fmt.Fprintf(&buf, "throws %s", y.Thrown.Name())
	case y.Exceptional:
		buf.WriteString("throws ?")
	case y.ResultParam >= 0:
		fmt.Fprintf(&buf, "#%d %s", y.ResultParam, y.Result)
	default:
		buf.WriteString(y.Result.String())
	}
	if y.CauseParam >= 0 {
		fmt.Fprintf(&buf, " cause=#%d", y.CauseParam)
	}
	return buf.String()
}

// key identifies yields with the same effect; flows are not part of it.
func (y *MethodYield) key() string {
	thrown := ""
	if y.Thrown != nil {
		thrown = y.Thrown.Name()
	}
	return fmt.Sprintf("%v|%v|%d|%v|%s|%d|%v", y.Params, y.Result, y.ResultParam, y.Exceptional, thrown, y.CauseParam, y.Unknown)
}

// newYield summarizes an exit state given the starting parameter values.
func newYield(params []*SymbolicValue, s *ProgramState, flows *FlowBuilder) *MethodYield {
	assert(s.exit != nil, "yield of running state %d", s.id)

	y := &MethodYield{
		Params:      make([]ValueConstraints, len(params)),
		ResultParam: -1,
		CauseParam:  -1,
	}
	for i, p := range params {
		y.Params[i] = s.store.ValueConstraints(p)
	}

	if s.exit.Exceptional {
		y.Exceptional = true
		y.Thrown = s.exit.Type
		if cause := s.exit.Cause; cause != nil {
			y.CauseParam = paramIndex(params, s.store, cause)
		}
		if y.CauseParam >= 0 {
			if a := flows.Flows(s, s.exit.Cause, DomainNullness); len(a) > 0 {
				y.Flow = a[0].Steps
			}
		}
		return y
	}

	if v := s.exit.Value; v != nil {
		y.Result = s.store.ValueConstraints(v)
		y.ResultParam = paramIndex(params, nil, v)
	}
	return y
}

// paramIndex returns the index of the parameter that is v or, if store is
// set, known to be the same value as v.
func paramIndex(params []*SymbolicValue, store *ConstraintStore, v *SymbolicValue) int {
	for i, p := range params {
		if p == v {
			return i
		}
	}
	if store != nil {
		if same := store.SameValue(v); same != nil {
			for i, p := range params {
				if p == same {
					return i
				}
			}
		}
	}
	return -1
}

// dedupeYields returns yields without duplicates, keeping the first flow.
func dedupeYields(yields []*MethodYield) []*MethodYield {
	seen := make(map[string]bool, len(yields))
	other := yields[:0:0]
	for _, y := range yields {
		if k := y.key(); !seen[k] {
			seen[k] = true
			other = append(other, y)
		}
	}
	return other
}
