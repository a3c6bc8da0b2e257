package symex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/benbjohnson/immutable"
)

// ConstraintStore is a persistent mapping of symbolic values to their
// constraints. Every update returns a new store and leaves the receiver
// untouched, so stores may be shared freely between program states.
type ConstraintStore struct {
	m *immutable.SortedMap[*SymbolicValue, constraintSet]
}

// NewConstraintStore returns a store seeded with the constraints of the
// predefined values.
func NewConstraintStore() *ConstraintStore {
	m := immutable.NewSortedMap[*SymbolicValue, constraintSet](valueComparer{})
	m = m.Set(NullValue, constraintSet{Null})
	m = m.Set(TrueValue, constraintSet{NotNull, True})
	m = m.Set(FalseValue, constraintSet{NotNull, False})
	return &ConstraintStore{m: m}
}

// Len returns the number of constrained values.
func (s *ConstraintStore) Len() int { return s.m.Len() }

// Get returns the constraint of v in domain d or nil if none is known.
func (s *ConstraintStore) Get(v *SymbolicValue, d Domain) Constraint {
	set, _ := s.m.Get(v)
	return set.get(d)
}

// Nullness returns the nullness constraint of v.
func (s *ConstraintStore) Nullness(v *SymbolicValue) ObjectConstraint {
	c, _ := s.Get(v, DomainNullness).(ObjectConstraint)
	return c
}

// Boolean returns the boolean constraint of v.
func (s *ConstraintStore) Boolean(v *SymbolicValue) BooleanConstraint {
	c, _ := s.Get(v, DomainBoolean).(BooleanConstraint)
	return c
}

// Zeroness returns the zero-ness constraint of v.
func (s *ConstraintStore) Zeroness(v *SymbolicValue) ZeroConstraint {
	c, _ := s.Get(v, DomainZeroness).(ZeroConstraint)
	return c
}

// SameValue returns the value v is known to equal, if any.
func (s *ConstraintStore) SameValue(v *SymbolicValue) *SymbolicValue {
	if c, ok := s.Get(v, DomainSameValue).(SameAs); ok {
		return c.Value
	}
	return nil
}

// ValueConstraints returns the built-in constraints of v.
func (s *ConstraintStore) ValueConstraints(v *SymbolicValue) ValueConstraints {
	return ValueConstraints{
		Nullness: s.Nullness(v),
		Boolean:  s.Boolean(v),
		Zero:     s.Zeroness(v),
	}
}

// Constraints returns a copy of all constraints of v ordered by domain.
func (s *ConstraintStore) Constraints(v *SymbolicValue) []Constraint {
	set, _ := s.m.Get(v)
	return append([]Constraint(nil), set...)
}

// Values returns all constrained values ordered by identifier.
func (s *ConstraintStore) Values() []*SymbolicValue {
	a := make([]*SymbolicValue, 0, s.m.Len())
	itr := s.m.Iterator()
	for !itr.Done() {
		v, _, _ := itr.Next()
		a = append(a, v)
	}
	return a
}

// Learn returns a store where v additionally satisfies c along with every
// fact implied by it. It returns false if c contradicts what is known.
func (s *ConstraintStore) Learn(v *SymbolicValue, c Constraint) (*ConstraintStore, bool) {
	l := learner{store: s}
	if !l.learn(v, c) {
		return nil, false
	}
	return l.store, true
}

// Put returns a store where c replaces any constraint of v in the same
// domain. No contradiction check or propagation is performed; it models a
// state transition such as a resource being closed.
func (s *ConstraintStore) Put(v *SymbolicValue, c Constraint) *ConstraintStore {
	set, _ := s.m.Get(v)
	return &ConstraintStore{m: s.m.Set(v, set.with(c))}
}

// Remove returns a store without the constraint of v in domain d.
func (s *ConstraintStore) Remove(v *SymbolicValue, d Domain) *ConstraintStore {
	set, ok := s.m.Get(v)
	if !ok || set.get(d) == nil {
		return s
	}
	if set = set.without(d); len(set) == 0 {
		return &ConstraintStore{m: s.m.Delete(v)}
	}
	return &ConstraintStore{m: s.m.Set(v, set)}
}

// Equal returns true if both stores hold exactly the same constraints.
func (s *ConstraintStore) Equal(other *ConstraintStore) bool {
	if s == other {
		return true
	} else if s.m.Len() != other.m.Len() {
		return false
	}

	itr := s.m.Iterator()
	for !itr.Done() {
		v, set, _ := itr.Next()
		if otherSet, ok := other.m.Get(v); !ok || !set.equal(otherSet) {
			return false
		}
	}
	return true
}

// writeTo writes a canonical encoding of the store, used for fingerprints.
func (s *ConstraintStore) writeTo(w io.Writer) {
	var buf [8]byte
	itr := s.m.Iterator()
	for !itr.Done() {
		v, set, _ := itr.Next()
		binary.LittleEndian.PutUint64(buf[:], uint64(v.id))
		w.Write(buf[:])
		for _, c := range set {
			fmt.Fprintf(w, "%d:%s;", c.Domain(), c)
		}
	}
}

// String returns a debug representation of the store.
func (s *ConstraintStore) String() string {
	var buf bytes.Buffer
	buf.WriteString("{")
	itr := s.m.Iterator()
	for i := 0; !itr.Done(); i++ {
		v, set, _ := itr.Next()
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%v", v, set)
	}
	buf.WriteString("}")
	return buf.String()
}

// learner applies a constraint and its consequences to a store while
// recording every constraint it adds.
type learner struct {
	store   *ConstraintStore
	learned []Learned
}

func (l *learner) put(v *SymbolicValue, c Constraint) {
	l.store = l.store.Put(v, c)
	l.learned = append(l.learned, Learned{Value: v, Constraint: c})
}

// learn is the propagation function. It switches on the variant of v and the
// constraint being learned; it returns false on contradiction.
func (l *learner) learn(v *SymbolicValue, c Constraint) bool {
	if existing := l.store.Get(v, c.Domain()); existing != nil {
		if existing == c {
			return true
		}
		// A value may only point at one equal value; reconcile facts instead.
		if sa, ok := c.(SameAs); ok {
			return l.copyFacts(v, sa.Value) && l.copyFacts(sa.Value, v)
		}
		return false
	}
	l.put(v, c)

	switch c := c.(type) {
	case BooleanConstraint, ZeroConstraint:
		if !l.learn(v, NotNull) {
			return false
		}
	case SameAs:
		if !l.copyFacts(v, c.Value) || !l.copyFacts(c.Value, v) {
			return false
		}
	}

	if c.Domain().isValueFact() {
		if same := l.store.SameValue(v); same != nil {
			if !l.learn(same, c) {
				return false
			}
		}
	}

	b, ok := c.(BooleanConstraint)
	if !ok {
		return true
	}
	switch v.kind {
	case RelationalValue:
		return l.relation(v, b == True)
	case NotValue:
		return l.learn(v.left, b.Inverse())
	}
	return true
}

// copyFacts learns every value fact of from onto to.
func (l *learner) copyFacts(from, to *SymbolicValue) bool {
	for _, d := range []Domain{DomainNullness, DomainBoolean, DomainZeroness} {
		if c := l.store.Get(from, d); c != nil {
			if !l.learn(to, c) {
				return false
			}
		}
	}
	return true
}

// relation applies the truth value of a relational value to its operands.
func (l *learner) relation(v *SymbolicValue, holds bool) bool {
	op := v.op
	if !holds {
		op = op.Inverse()
	}

	switch op {
	case OpEQ:
		return l.equal(v.left, v.right)
	case OpNE:
		return l.differ(v.left, v.right)
	case OpLT:
		return v.left != v.right
	default:
		return true
	}
}

func (l *learner) equal(a, b *SymbolicValue) bool {
	if a == b {
		return true
	}
	if !a.IsPredefined() && !l.learn(a, SameAs{Value: b}) {
		return false
	}
	if !b.IsPredefined() && !l.learn(b, SameAs{Value: a}) {
		return false
	}
	return l.copyFacts(a, b) && l.copyFacts(b, a)
}

func (l *learner) differ(a, b *SymbolicValue) bool {
	if a == b || l.store.SameValue(a) == b || l.store.SameValue(b) == a {
		return false
	}

	switch na, nb := l.store.Nullness(a), l.store.Nullness(b); {
	case na == Null && nb == Null:
		return false
	case na == Null:
		if !l.learn(b, NotNull) {
			return false
		}
	case nb == Null:
		if !l.learn(a, NotNull) {
			return false
		}
	}

	ba, bb := l.store.Boolean(a), l.store.Boolean(b)
	if ba != NoBooleanConstraint && ba == bb {
		return false
	} else if ba != NoBooleanConstraint && !l.learn(b, ba.Inverse()) {
		return false
	} else if bb != NoBooleanConstraint && !l.learn(a, bb.Inverse()) {
		return false
	}

	za, zb := l.store.Zeroness(a), l.store.Zeroness(b)
	if za == Zero && zb == Zero {
		return false
	} else if za == Zero && !l.learn(b, NonZero) {
		return false
	} else if zb == Zero && !l.learn(a, NonZero) {
		return false
	}
	return true
}

// constraintSet is a small copy-on-write set ordered by domain.
type constraintSet []Constraint

func (set constraintSet) get(d Domain) Constraint {
	for _, c := range set {
		if c.Domain() == d {
			return c
		}
	}
	return nil
}

func (set constraintSet) with(c Constraint) constraintSet {
	other := make(constraintSet, 0, len(set)+1)
	inserted := false
	for _, existing := range set {
		switch {
		case existing.Domain() == c.Domain():
			other = append(other, c)
			inserted = true
			continue
		case !inserted && existing.Domain() > c.Domain():
			other = append(other, c)
			inserted = true
		}
		other = append(other, existing)
	}
	if !inserted {
		other = append(other, c)
	}
	return other
}

func (set constraintSet) without(d Domain) constraintSet {
	other := make(constraintSet, 0, len(set))
	for _, c := range set {
		if c.Domain() != d {
			other = append(other, c)
		}
	}
	return other
}

func (set constraintSet) equal(other constraintSet) bool {
	if len(set) != len(other) {
		return false
	}
	for i := range set {
		if set[i] != other[i] {
			return false
		}
	}
	return true
}

// valueComparer orders symbolic values by identifier.
type valueComparer struct{}

func (valueComparer) Compare(a, b *SymbolicValue) int {
	if a.id < b.id {
		return -1
	} else if a.id > b.id {
		return 1
	}
	return 0
}
