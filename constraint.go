package symex

import (
	"fmt"
	"strings"
	"sync"
)

// Domain identifies a family of mutually exclusive constraints. A value
// carries at most one constraint per domain.
type Domain int

// Built-in domains.
const (
	DomainNullness = Domain(iota + 1)
	DomainBoolean
	DomainZeroness
	DomainSameValue
	domainCustomBegin
)

var domainRegistry struct {
	mu    sync.Mutex
	names []string
}

// RegisterDomain allocates a new constraint domain for check-specific
// constraints such as resource state.
func RegisterDomain(name string) Domain {
	domainRegistry.mu.Lock()
	defer domainRegistry.mu.Unlock()
	domainRegistry.names = append(domainRegistry.names, name)
	return domainCustomBegin + Domain(len(domainRegistry.names)-1)
}

// String returns the name of the domain.
func (d Domain) String() string {
	switch d {
	case DomainNullness:
		return "nullness"
	case DomainBoolean:
		return "boolean"
	case DomainZeroness:
		return "zeroness"
	case DomainSameValue:
		return "same-value"
	}

	domainRegistry.mu.Lock()
	defer domainRegistry.mu.Unlock()
	if i := int(d - domainCustomBegin); i >= 0 && i < len(domainRegistry.names) {
		return domainRegistry.names[i]
	}
	return fmt.Sprintf("Domain<%d>", d)
}

// isValueFact returns true for domains that describe the runtime value itself
// and therefore hold for every value known to be the same.
func (d Domain) isValueFact() bool {
	return d == DomainNullness || d == DomainBoolean || d == DomainZeroness
}

// Constraint is a fact about a symbolic value within a single domain.
// Implementations must be comparable with ==.
type Constraint interface {
	Domain() Domain
	String() string
}

// ObjectConstraint is a nullness constraint.
type ObjectConstraint int

// Nullness constraints.
const (
	NoObjectConstraint = ObjectConstraint(iota)
	Null
	NotNull
)

func (c ObjectConstraint) Domain() Domain { return DomainNullness }

func (c ObjectConstraint) String() string {
	switch c {
	case Null:
		return "null"
	case NotNull:
		return "not null"
	}
	return ""
}

// Inverse returns the opposite nullness.
func (c ObjectConstraint) Inverse() ObjectConstraint {
	switch c {
	case Null:
		return NotNull
	case NotNull:
		return Null
	}
	return NoObjectConstraint
}

// BooleanConstraint is a truth-value constraint.
type BooleanConstraint int

// Boolean constraints.
const (
	NoBooleanConstraint = BooleanConstraint(iota)
	True
	False
)

func (c BooleanConstraint) Domain() Domain { return DomainBoolean }

func (c BooleanConstraint) String() string {
	switch c {
	case True:
		return "true"
	case False:
		return "false"
	}
	return ""
}

// Inverse returns the opposite truth value.
func (c BooleanConstraint) Inverse() BooleanConstraint {
	switch c {
	case True:
		return False
	case False:
		return True
	}
	return NoBooleanConstraint
}

// ZeroConstraint is a numeric zero-ness constraint.
type ZeroConstraint int

// Zero-ness constraints.
const (
	NoZeroConstraint = ZeroConstraint(iota)
	Zero
	NonZero
)

func (c ZeroConstraint) Domain() Domain { return DomainZeroness }

func (c ZeroConstraint) String() string {
	switch c {
	case Zero:
		return "zero"
	case NonZero:
		return "non-zero"
	}
	return ""
}

// Inverse returns the opposite zero-ness.
func (c ZeroConstraint) Inverse() ZeroConstraint {
	switch c {
	case Zero:
		return NonZero
	case NonZero:
		return Zero
	}
	return NoZeroConstraint
}

// SameAs records that a value is known to equal another value.
type SameAs struct {
	Value *SymbolicValue
}

func (c SameAs) Domain() Domain { return DomainSameValue }

func (c SameAs) String() string { return fmt.Sprintf("same as %s", c.Value) }

// ValueConstraints is the built-in constraint triple of a value. It is the
// unit of method yields since it does not reference any symbolic value.
type ValueConstraints struct {
	Nullness ObjectConstraint  `yaml:"nullness,omitempty"`
	Boolean  BooleanConstraint `yaml:"boolean,omitempty"`
	Zero     ZeroConstraint    `yaml:"zero,omitempty"`
}

// IsEmpty returns true if no constraint is set.
func (vc ValueConstraints) IsEmpty() bool {
	return vc == ValueConstraints{}
}

// Constraints returns the set constraints, in domain order.
func (vc ValueConstraints) Constraints() []Constraint {
	var a []Constraint
	if vc.Nullness != NoObjectConstraint {
		a = append(a, vc.Nullness)
	}
	if vc.Boolean != NoBooleanConstraint {
		a = append(a, vc.Boolean)
	}
	if vc.Zero != NoZeroConstraint {
		a = append(a, vc.Zero)
	}
	return a
}

// Get returns the constraint of the given built-in domain, if any.
func (vc ValueConstraints) Get(d Domain) Constraint {
	switch d {
	case DomainNullness:
		if vc.Nullness != NoObjectConstraint {
			return vc.Nullness
		}
	case DomainBoolean:
		if vc.Boolean != NoBooleanConstraint {
			return vc.Boolean
		}
	case DomainZeroness:
		if vc.Zero != NoZeroConstraint {
			return vc.Zero
		}
	}
	return nil
}

func (vc ValueConstraints) String() string {
	a := vc.Constraints()
	if len(a) == 0 {
		return "{}"
	}
	names := make([]string, len(a))
	for i, c := range a {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// Learned is a constraint added to a value by a single transition.
type Learned struct {
	Value      *SymbolicValue
	Constraint Constraint
}

func (l Learned) String() string {
	return fmt.Sprintf("%s=%s", l.Value, l.Constraint)
}
