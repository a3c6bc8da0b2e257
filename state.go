package symex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/zeebo/blake3"
)

// ProgramState is an immutable snapshot of a path under exploration: the
// operand stack, the environment binding symbols to values and the
// constraint store. Every transition produces a new state linked to its
// parent, which is how flows are reconstructed.
type ProgramState struct {
	id     int
	parent *ProgramState

	// Transition that produced the state from its parent.
	node    *Node
	learned []Learned
	bound   []Binding
	yield   *MethodYield
	npe     *SymbolicValue

	stack *immutable.List[*SymbolicValue]
	env   *immutable.Map[Symbol, *SymbolicValue]
	store *ConstraintStore

	exit *Exit

	// Number of times the path entered each loop block, by block ID. Not
	// part of equality.
	visits *immutable.Map[int, int]

	fingerprint *[32]byte
}

// Binding is an environment update made by a transition.
type Binding struct {
	Symbol Symbol
	Value  *SymbolicValue
}

// Exit describes how a path left the method.
type Exit struct {
	// Value is the returned value or the thrown exception. It is nil for
	// returns without a value.
	Value *SymbolicValue

	// Type is the thrown type. It is nil for normal returns and for
	// exceptions of unknown type.
	Type        Type
	Exceptional bool

	// Cause is the value whose null dereference raised the exception.
	Cause *SymbolicValue

	Node *Node
}

func (e *Exit) equal(other *Exit) bool {
	if e == nil || other == nil {
		return e == other
	}
	return *e == *other
}

// ExecutionStatus represents the current status of a state.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionStatusRunning  = ExecutionStatus("running")  // has future states
	ExecutionStatusReturned = ExecutionStatus("returned") // normal method exit
	ExecutionStatusThrown   = ExecutionStatus("thrown")   // exceptional method exit
)

// NewProgramState returns an empty root state.
func NewProgramState() *ProgramState {
	return &ProgramState{
		stack:  immutable.NewList[*SymbolicValue](),
		env:    immutable.NewMap[Symbol, *SymbolicValue](symbolHasher{}),
		store:  NewConstraintStore(),
		visits: immutable.NewMap[int, int](nil),
	}
}

// ID returns an autoincrementing ID assigned by the walker.
func (s *ProgramState) ID() int { return s.id }

// Parent returns the state this state was derived from.
func (s *ProgramState) Parent() *ProgramState { return s.parent }

// Node returns the node whose evaluation produced the state, if any.
func (s *ProgramState) Node() *Node { return s.node }

// Learned returns the constraints added by the transition producing s.
func (s *ProgramState) Learned() []Learned { return s.learned }

// Bindings returns the environment updates of the transition producing s.
func (s *ProgramState) Bindings() []Binding { return s.bound }

// Yield returns the method yield applied by the transition producing s.
func (s *ProgramState) Yield() *MethodYield { return s.yield }

// AssumedNull returns the dereferenced value assumed to be null by the
// transition producing s, if it routed a null pointer exception.
func (s *ProgramState) AssumedNull() *SymbolicValue { return s.npe }

// Store returns the constraint store.
func (s *ProgramState) Store() *ConstraintStore { return s.store }

// Exit returns how the path left the method or nil if it is still running.
func (s *ProgramState) Exit() *Exit { return s.exit }

// VisitCount returns the number of times the path entered blk.
func (s *ProgramState) VisitCount(blk *Block) int {
	n, _ := s.visits.Get(blk.ID)
	return n
}

// Status returns the current status of the state.
func (s *ProgramState) Status() ExecutionStatus {
	switch {
	case s.exit == nil:
		return ExecutionStatusRunning
	case s.exit.Exceptional:
		return ExecutionStatusThrown
	default:
		return ExecutionStatusReturned
	}
}

// StackLen returns the depth of the operand stack.
func (s *ProgramState) StackLen() int { return s.stack.Len() }

// Peek returns the value i positions below the top of the stack.
func (s *ProgramState) Peek(i int) *SymbolicValue {
	assert(i >= 0 && i < s.stack.Len(), "peek(%d) on stack of depth %d", i, s.stack.Len())
	return s.stack.Get(s.stack.Len() - 1 - i)
}

// Value returns the value bound to sym or nil if unbound.
func (s *ProgramState) Value(sym Symbol) *SymbolicValue {
	v, _ := s.env.Get(sym)
	return v
}

// Bound returns the environment entries ordered by symbol name.
func (s *ProgramState) Bound() []Binding {
	a := make([]Binding, 0, s.env.Len())
	itr := s.env.Iterator()
	for !itr.Done() {
		sym, v, _ := itr.Next()
		a = append(a, Binding{Symbol: sym, Value: v})
	}
	sort.SliceStable(a, func(i, j int) bool {
		if a[i].Symbol.Name() != a[j].Symbol.Name() {
			return a[i].Symbol.Name() < a[j].Symbol.Name()
		}
		return a[i].Value.id < a[j].Value.id
	})
	return a
}

// SymbolsOf returns the symbols bound to v ordered by name.
func (s *ProgramState) SymbolsOf(v *SymbolicValue) []Symbol {
	var a []Symbol
	for _, b := range s.Bound() {
		if b.Value == v {
			a = append(a, b.Symbol)
		}
	}
	return a
}

// Constraint returns the constraint of v in domain d.
func (s *ProgramState) Constraint(v *SymbolicValue, d Domain) Constraint {
	return s.store.Get(v, d)
}

// WithConstraint returns a copy of s where v also satisfies c. It returns
// false if c contradicts the state. The copy replaces s as the result of the
// same transition.
func (s *ProgramState) WithConstraint(v *SymbolicValue, c Constraint) (*ProgramState, bool) {
	other := s.clone()
	if !other.learn(v, c) {
		return nil, false
	}
	return other, true
}

// WithPut returns a copy of s where c replaces the constraint of v in the
// same domain.
func (s *ProgramState) WithPut(v *SymbolicValue, c Constraint) *ProgramState {
	other := s.clone()
	other.store = other.store.Put(v, c)
	other.learned = append(other.learned, Learned{Value: v, Constraint: c})
	return other
}

// Equal returns true if both states have the same stack, environment,
// constraints and exit.
func (s *ProgramState) Equal(other *ProgramState) bool {
	if s == other {
		return true
	} else if s.stack.Len() != other.stack.Len() || s.env.Len() != other.env.Len() {
		return false
	}

	for i := 0; i < s.stack.Len(); i++ {
		if s.stack.Get(i) != other.stack.Get(i) {
			return false
		}
	}

	itr := s.env.Iterator()
	for !itr.Done() {
		sym, v, _ := itr.Next()
		if w, ok := other.env.Get(sym); !ok || v != w {
			return false
		}
	}
	return s.exit.equal(other.exit) && s.store.Equal(other.store)
}

// Fingerprint returns a hash of the state consistent with Equal.
func (s *ProgramState) Fingerprint() [32]byte {
	if s.fingerprint != nil {
		return *s.fingerprint
	}

	h := blake3.New()
	var buf [8]byte
	writeInt := func(i int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		h.Write(buf[:])
	}

	writeInt(s.stack.Len())
	for i := 0; i < s.stack.Len(); i++ {
		writeInt(s.stack.Get(i).id)
	}
	writeInt(s.env.Len())
	for _, b := range s.Bound() {
		h.WriteString(b.Symbol.Name())
		writeInt(b.Value.id)
	}
	s.store.writeTo(h)
	if s.exit != nil {
		fmt.Fprintf(h, "exit:%v", s.exit.Exceptional)
		if s.exit.Value != nil {
			writeInt(s.exit.Value.id)
		}
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	s.fingerprint = &sum
	return sum
}

// Dump returns the contents of the state as a string.
func (s *ProgramState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "PROGRAM STATE")
	fmt.Fprintln(&buf, "=============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.Status())
	if s.node != nil {
		fmt.Fprintf(&buf, "node=%s\n", s.node)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STACK")
	for i := 0; i < s.stack.Len(); i++ {
		fmt.Fprintf(&buf, "%d. %s\n", i, s.Peek(i))
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== ENV")
	for _, b := range s.Bound() {
		fmt.Fprintf(&buf, "%s=%s\n", b.Symbol.Name(), b.Value)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for _, v := range s.store.Values() {
		fmt.Fprintf(&buf, "%s: %v\n", v, s.store.Constraints(v))
	}
	return buf.String()
}

// derive returns a new child state for the evaluation of node. The child is
// private to the walker until it is enqueued.
func (s *ProgramState) derive(node *Node) *ProgramState {
	return &ProgramState{
		parent: s,
		node:   node,
		stack:  s.stack,
		env:    s.env,
		store:  s.store,
		visits: s.visits,
	}
}

// clone returns a copy of s sharing its parent and transition.
func (s *ProgramState) clone() *ProgramState {
	other := *s
	other.learned = append([]Learned(nil), s.learned...)
	other.bound = append([]Binding(nil), s.bound...)
	other.fingerprint = nil
	return &other
}

func (s *ProgramState) push(v *SymbolicValue) {
	assert(v != nil, "push of nil value")
	s.stack = s.stack.Append(v)
}

// pop removes and returns the top n values, deepest first.
func (s *ProgramState) pop(n int) []*SymbolicValue {
	assert(n <= s.stack.Len(), "pop(%d) on stack of depth %d", n, s.stack.Len())
	if n == 0 {
		return nil
	}
	values := make([]*SymbolicValue, n)
	for i := 0; i < n; i++ {
		values[i] = s.stack.Get(s.stack.Len() - n + i)
	}
	s.stack = s.stack.Slice(0, s.stack.Len()-n)
	return values
}

func (s *ProgramState) pop1() *SymbolicValue {
	return s.pop(1)[0]
}

func (s *ProgramState) clearStack() {
	s.stack = immutable.NewList[*SymbolicValue]()
}

func (s *ProgramState) visit(blk *Block) {
	s.visits = s.visits.Set(blk.ID, s.VisitCount(blk)+1)
}

func (s *ProgramState) bind(sym Symbol, v *SymbolicValue) {
	s.env = s.env.Set(sym, v)
	s.bound = append(s.bound, Binding{Symbol: sym, Value: v})
}

// learn adds c to v and records everything learned. It returns false on
// contradiction, in which case the state must be discarded.
func (s *ProgramState) learn(v *SymbolicValue, c Constraint) bool {
	l := learner{store: s.store}
	if !l.learn(v, c) {
		return false
	}
	s.store = l.store
	s.learned = append(s.learned, l.learned...)
	return true
}

// learnAll adds every constraint of vc to v.
func (s *ProgramState) learnAll(v *SymbolicValue, vc ValueConstraints) bool {
	for _, c := range vc.Constraints() {
		if !s.learn(v, c) {
			return false
		}
	}
	return true
}

// symbolHasher hashes symbols by name and compares them by identity.
type symbolHasher struct{}

func (symbolHasher) Hash(sym Symbol) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sym.Name()))
	return h.Sum32()
}

func (symbolHasher) Equal(a, b Symbol) bool {
	return a == b
}
