package symex

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ItemStatus is the lifecycle of a work item inside the walker.
type ItemStatus int

// Item statuses.
const (
	StatusReady        = ItemStatus(iota) // dequeued, not yet evaluated
	StatusTransitioned                    // node evaluated, successors produced
	StatusEnqueued                        // successor added to the worklist
	StatusMerged                          // successor equal to a visited state
	StatusDropped                         // successor exceeded the loop visit budget
	StatusDone                            // successor left the method
)

var itemStatuses = [...]string{
	StatusReady:        "ready",
	StatusTransitioned: "transitioned",
	StatusEnqueued:     "enqueued",
	StatusMerged:       "merged",
	StatusDropped:      "dropped",
	StatusDone:         "done",
}

func (s ItemStatus) String() string {
	if s >= 0 && int(s) < len(itemStatuses) {
		return itemStatuses[s]
	}
	return fmt.Sprintf("ItemStatus<%d>", s)
}

// ConditionOutcome records which ways a branch condition evaluated.
type ConditionOutcome struct {
	Block *Block
	True  bool
	False bool

	// Constant is set when the condition is a literal written in source,
	// such as while (true).
	Constant bool
}

// ExplorationResult summarizes the exploration of a single method.
type ExplorationResult struct {
	Method Method

	Steps          int // dequeued work items
	States         int // states created
	Enqueued       int
	Merged         int
	Dropped        int
	Refuted        int // states discarded by refiners
	StartingStates int

	// Aborted is set when a budget stopped the exploration early.
	Aborted bool

	// Imprecise is set when the body contains nodes that cannot be modeled.
	Imprecise bool

	// Exits holds the states that left the method, in the order reached.
	Exits []*ProgramState

	// Conditions maps each evaluated branch node to its outcomes.
	Conditions map[*Node]*ConditionOutcome

	// Yields is only computed for behavior explorations.
	Yields []*MethodYield
}

// walker explores the body of a single method. A walker is not safe for
// concurrent use; nested explorations use their own walker.
type walker struct {
	engine   *Engine
	method   Method
	behavior bool

	config    *Config
	types     TypeModel
	logger    *zap.Logger
	listeners []Listener
	check     *CheckContext

	factory  *ValueFactory
	searcher Searcher

	states     []*ProgramState // arena, indexed by ID-1
	visited    map[visitKey][]*ProgramState
	alternates map[*ProgramState][]*ProgramState
	params     []*SymbolicValue

	unknownException bool
	result           *ExplorationResult
}

type visitKey struct {
	block       *Block
	fingerprint [32]byte
}

func newWalker(e *Engine, m Method, behavior bool) *walker {
	searcher, err := NewSearcher(e.config.Searcher, e.config.Seed)
	assert(err == nil, "searcher: %v", err)

	w := &walker{
		engine:     e,
		method:     m,
		behavior:   behavior,
		config:     e.config,
		types:      e.types,
		logger:     e.logger.With(methodField(m)),
		factory:    NewValueFactory(),
		searcher:   searcher,
		visited:    make(map[visitKey][]*ProgramState),
		alternates: make(map[*ProgramState][]*ProgramState),
		result: &ExplorationResult{
			Method:     m,
			Conditions: make(map[*Node]*ConditionOutcome),
		},
	}
	if !behavior {
		w.listeners = e.listeners
	}
	w.check = &CheckContext{engine: e, walker: w}
	return w
}

// Run explores the method until the worklist drains or a budget is hit.
// Violated invariants are recovered and returned wrapping ErrInvariant.
func (w *walker) Run(ctx context.Context) (result *ExplorationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %s: %v", ErrInvariant, w.method.Signature(), r)
		}
	}()

	g := w.method.Body()
	if g == nil {
		return nil, fmt.Errorf("%s: no body", w.method.Signature())
	}

	for _, l := range w.listeners {
		if l, ok := l.(MethodListener); ok {
			l.OnMethodEntry(w.check)
		}
	}

	starts := w.startingStates()
	w.result.StartingStates = len(starts)
	var items []*WorkItem
	for _, s := range starts {
		item := &WorkItem{Point: ProgramPoint{Block: g.Entry}, State: s}
		if w.enqueue(item) == StatusEnqueued {
			items = append(items, item)
		}
	}
	w.schedule(items)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := w.ExecuteNext(ctx); errors.Is(err, ErrNoStateAvailable) {
			break
		} else if errors.Is(err, ErrBudgetExceeded) {
			w.logger.Debug("budget", zap.Int("steps", w.result.Steps), zap.Int("states", w.result.States))
			w.result.Aborted = true
			break
		} else if err != nil {
			return nil, err
		}
	}

	if w.behavior {
		w.result.Yields = w.yields()
	}
	for _, l := range w.listeners {
		if l, ok := l.(MethodListener); ok {
			l.OnMethodExplored(w.check, w.result)
		}
	}
	return w.result, nil
}

// ExecuteNext evaluates the next work item and returns the successors it
// added to the worklist. It returns ErrNoStateAvailable once the worklist
// is drained and ErrBudgetExceeded when a budget is exhausted.
func (w *walker) ExecuteNext(ctx context.Context) ([]*WorkItem, error) {
	if w.result.Steps >= w.config.MaxSteps || w.result.States >= w.config.MaxStates {
		return nil, ErrBudgetExceeded
	}

	item := w.searcher.SelectItem()
	if item == nil {
		return nil, ErrNoStateAvailable
	}
	w.result.Steps++

	node := item.Point.Node()
	if node != nil {
		for _, l := range w.listeners {
			l.OnNodeEntry(w.check, node, item.State)
		}
	}

	var added []*WorkItem
	for _, next := range w.transition(ctx, item, node) {
		if node != nil && !w.refine(node, next) {
			continue
		}
		if node != nil {
			for _, l := range w.listeners {
				l.OnNodeExit(w.check, node, next.State)
			}
		}
		if w.enqueue(next) == StatusEnqueued {
			added = append(added, next)
		}
	}
	w.schedule(added)
	return added, nil
}

// schedule hands the enqueued successors of one step to the searcher.
func (w *walker) schedule(items []*WorkItem) {
	if s, ok := w.searcher.(BatchSearcher); ok {
		s.AddItems(items)
		return
	}
	for _, item := range items {
		w.searcher.AddItem(item)
	}
}

func (w *walker) refine(node *Node, item *WorkItem) bool {
	for _, l := range w.listeners {
		r, ok := l.(StateRefiner)
		if !ok {
			continue
		}
		s, ok := r.Refine(w.check, node, item.State)
		if !ok {
			w.result.Refuted++
			return false
		}
		item.State = s
	}
	return true
}

// enqueue registers the state of item and marks it for the worklist unless
// it left the method, duplicates a visited state or exceeds the visit budget.
func (w *walker) enqueue(item *WorkItem) ItemStatus {
	s := item.State
	w.states = append(w.states, s)
	s.id = len(w.states)
	w.result.States++

	if s.exit != nil {
		w.logger.Debug("exit", zap.Int("state", s.id), zap.String("status", string(s.Status())))
		w.result.Exits = append(w.result.Exits, s)
		return StatusDone
	}

	if blk := item.Point.Block; item.Point.Index == 0 {
		key := visitKey{block: blk, fingerprint: s.Fingerprint()}
		for _, other := range w.visited[key] {
			if other.Equal(s) {
				w.logger.Debug("merge", zap.Int("state", s.id), zap.Int("into", other.id), zap.Stringer("block", blk))
				w.alternates[other] = append(w.alternates[other], s)
				w.result.Merged++
				return StatusMerged
			}
		}

		if blk.InLoop() {
			if s.VisitCount(blk) >= w.config.MaxVisitsPerNode {
				w.logger.Debug("drop", zap.Int("state", s.id), zap.Stringer("block", blk))
				w.result.Dropped++
				return StatusDropped
			}
			s.visit(blk)
		}
		w.visited[key] = append(w.visited[key], s)
	}

	w.result.Enqueued++
	return StatusEnqueued
}

// transition evaluates node in the state of item and returns the successor
// items. A nil node is the fallthrough at the end of a block.
func (w *walker) transition(ctx context.Context, item *WorkItem, node *Node) []*WorkItem {
	point := item.Point
	if node == nil {
		return w.executeFallthrough(item)
	}

	s := item.State.derive(node)
	switch node.Kind {
	case NodeLiteral:
		if !w.executeLiteral(s, node) {
			return nil
		}
	case NodeLoad:
		v := s.Value(node.Symbol)
		if v == nil {
			v = w.factory.NewValue()
			s.env = s.env.Set(node.Symbol, v)
		}
		s.push(v)
	case NodeStore:
		s.bind(node.Symbol, s.pop1())
	case NodeNew:
		s.pop(node.Args)
		v := w.factory.NewValue()
		s.learn(v, NotNull)
		s.push(v)
	case NodeBinary:
		if !w.executeBinary(s, node) {
			return nil
		}
	case NodeUnary:
		if !w.executeUnary(s, node) {
			return nil
		}
	case NodeInvoke:
		return w.executeInvoke(ctx, point, s, node)
	case NodeField:
		return w.executeField(point, s, node)
	case NodePop:
		s.pop1()
	case NodeUnmodeled:
		s.pop(node.Args)
		s.push(w.factory.NewValue())
		w.result.Imprecise = true
	case NodeBranch:
		return w.executeBranch(point, s, node)
	case NodeJump:
		return []*WorkItem{{Point: ProgramPoint{Block: point.Block.Successors[0]}, State: s}}
	case NodeReturn:
		var v *SymbolicValue
		if !node.Void {
			v = s.pop1()
		}
		s.exit = &Exit{Value: v, Node: node}
		return []*WorkItem{{Point: point, State: s}}
	case NodeThrow:
		return w.executeThrow(point, s, node)
	default:
		panic(fmt.Sprintf("unexpected node kind: %s", node.Kind))
	}
	return []*WorkItem{{Point: point.Next(), State: s}}
}

func (w *walker) executeFallthrough(item *WorkItem) []*WorkItem {
	s := item.State.derive(nil)
	if succs := item.Point.Block.Successors; len(succs) > 0 {
		return []*WorkItem{{Point: ProgramPoint{Block: succs[0]}, State: s}}
	}
	s.exit = &Exit{}
	return []*WorkItem{{Point: item.Point, State: s}}
}

func (w *walker) executeLiteral(s *ProgramState, node *Node) bool {
	switch node.Literal {
	case LiteralNull:
		s.push(NullValue)
		return true
	case LiteralTrue:
		s.push(TrueValue)
		return true
	case LiteralFalse:
		s.push(FalseValue)
		return true
	}

	v := w.factory.NewValue()
	ok := true
	switch node.Literal {
	case LiteralBoolean, LiteralNumber, LiteralObject:
		ok = s.learn(v, NotNull)
	case LiteralZero:
		ok = s.learn(v, Zero)
	case LiteralNonZero:
		ok = s.learn(v, NonZero)
	}
	s.push(v)
	return ok
}

func (w *walker) executeBinary(s *ProgramState, node *Node) bool {
	operands := s.pop(2)
	l, r := operands[0], operands[1]

	if node.Op.IsRelational() {
		s.push(w.factory.Relational(node.Op, l, r))
		return true
	}

	switch node.Op {
	case OpAdd, OpSub, OpOr, OpXor, OpShl, OpShr:
		if s.store.Zeroness(r) == Zero {
			s.push(l)
			return true
		}
		if s.store.Zeroness(l) == Zero {
			switch node.Op {
			case OpAdd, OpOr, OpXor:
				s.push(r)
				return true
			}
		}
	case OpMul, OpAnd:
		if s.store.Zeroness(l) == Zero || s.store.Zeroness(r) == Zero {
			v := w.factory.NewValue()
			s.push(v)
			return s.learn(v, Zero)
		}
	}
	s.push(w.factory.NewValue())
	return true
}

func (w *walker) executeUnary(s *ProgramState, node *Node) bool {
	v := s.pop1()
	switch node.Op {
	case OpNot:
		s.push(w.factory.Not(v))
		return true
	case OpNeg:
		neg := w.factory.NewValue()
		s.push(neg)
		if c := s.store.Zeroness(v); c != NoZeroConstraint {
			return s.learn(neg, c)
		}
		return true
	}
	panic(fmt.Sprintf("unexpected unary operator: %s", node.Op))
}

func (w *walker) executeBranch(point ProgramPoint, s *ProgramState, node *Node) []*WorkItem {
	cond := s.pop1()

	outcome := w.result.Conditions[node]
	if outcome == nil {
		outcome = &ConditionOutcome{Block: point.Block, Constant: literalCondition(point.Block)}
		w.result.Conditions[node] = outcome
	}

	var items []*WorkItem
	t := s.clone()
	if t.learn(cond, True) {
		outcome.True = true
		items = append(items, &WorkItem{Point: ProgramPoint{Block: point.Block.Successors[0]}, State: t})
	}
	if s.learn(cond, False) {
		outcome.False = true
		items = append(items, &WorkItem{Point: ProgramPoint{Block: point.Block.Successors[1]}, State: s})
	}
	if len(items) == 2 {
		w.logger.Debug("fork", zap.Stringer("node", node), zap.Stringer("point", point))
	}
	return items
}

// literalCondition returns true if the branch ending blk tests a literal.
func literalCondition(blk *Block) bool {
	n := len(blk.Elements)
	return n > 0 && blk.Elements[n-1].Kind == NodeLiteral
}

func (w *walker) executeField(point ProgramPoint, s *ProgramState, node *Node) []*WorkItem {
	obj := s.pop1()
	s, items := w.dereference(point, s, obj)
	if s == nil {
		return items
	}

	v := w.factory.NewValue()
	s.push(v)
	if node.NonNullResult && !s.learn(v, NotNull) {
		return items
	}
	return append(items, &WorkItem{Point: point.Next(), State: s})
}

func (w *walker) executeThrow(point ProgramPoint, s *ProgramState, node *Node) []*WorkItem {
	exc := s.pop1()
	s, items := w.dereference(point, s, exc)
	if s == nil {
		return items
	}
	return append(items, w.throw(point, s, node.Type, exc, nil))
}

func (w *walker) executeInvoke(ctx context.Context, point ProgramPoint, s *ProgramState, node *Node) []*WorkItem {
	args := s.pop(node.Args)

	var items []*WorkItem
	if node.Receiver {
		recv := s.pop1()
		if s, items = w.dereference(point, s, recv); s == nil {
			return items
		}
	}

	var yields []*MethodYield
	if node.Callee != nil {
		yields = w.engine.yields(ctx, node.Callee)
	}
	if !applicable(yields, len(args)) {
		return append(items, w.invokeUnknown(point, s, node)...)
	}

	for _, y := range yields {
		if next := w.applyYield(point, s, node, y, args); next != nil {
			items = append(items, next)
			for _, l := range w.listeners {
				if l, ok := l.(YieldListener); ok {
					l.OnYieldApplied(w.check, node, y, next.State)
				}
			}
		}
	}
	return items
}

// applicable returns true if yields describe a callee precisely enough to
// be applied to a call with n arguments.
func applicable(yields []*MethodYield, n int) bool {
	if len(yields) == 0 {
		return false
	}
	for _, y := range yields {
		if y.Unknown || len(y.Params) != n {
			return false
		}
	}
	return true
}

// applyYield returns the successor of applying y to the arguments of an
// invoke or nil if y is incompatible with them.
func (w *walker) applyYield(point ProgramPoint, s *ProgramState, node *Node, y *MethodYield, args []*SymbolicValue) *WorkItem {
	s = s.clone()
	for i, arg := range args {
		if !s.learnAll(arg, y.Params[i]) {
			return nil
		}
	}
	s.yield = y

	if y.Exceptional {
		exc := w.factory.NewValue()
		s.learn(exc, NotNull)

		var cause *SymbolicValue
		if y.CauseParam >= 0 && y.CauseParam < len(args) {
			cause = args[y.CauseParam]
		}
		return w.throw(point, s, y.Thrown, exc, cause)
	}

	if !node.Void {
		var v *SymbolicValue
		if y.ResultParam >= 0 && y.ResultParam < len(args) {
			v = args[y.ResultParam]
		} else {
			v = w.factory.NewValue()
		}
		if !s.learnAll(v, y.Result) {
			return nil
		}
		s.push(v)
	}
	return &WorkItem{Point: point.Next(), State: s}
}

// invokeUnknown returns the successors of an invoke whose callee behavior is
// unknown: a fresh result constrained only by the declared return nullness
// and an exceptional route for each declared exception type.
func (w *walker) invokeUnknown(point ProgramPoint, s *ProgramState, node *Node) []*WorkItem {
	var items []*WorkItem
	if node.Callee != nil {
		for _, t := range node.Callee.Thrown() {
			other := s.clone()
			exc := w.factory.NewValue()
			other.learn(exc, NotNull)
			items = append(items, w.throw(point, other, t, exc, nil))
		}
	}

	if node.Void {
		return append(items, &WorkItem{Point: point.Next(), State: s})
	}

	v := w.factory.NewValue()
	s.push(v)

	nullness := NullnessUnknown
	if node.Callee != nil {
		nullness = node.Callee.ReturnNullness()
	}
	switch nullness {
	case Nullable:
		null := s.clone()
		if null.learn(v, Null) {
			items = append(items, &WorkItem{Point: point.Next(), State: null})
		}
		s.learn(v, NotNull)
	case NonNull:
		s.learn(v, NotNull)
	}
	return append(items, &WorkItem{Point: point.Next(), State: s})
}

// dereference evaluates the dereference of v in s. It returns the state
// continuing past the dereference, or nil if v is known to be null, along
// with the items routing a null pointer exception.
func (w *walker) dereference(point ProgramPoint, s *ProgramState, v *SymbolicValue) (*ProgramState, []*WorkItem) {
	switch s.store.Nullness(v) {
	case Null:
		s.npe = v
		return nil, []*WorkItem{w.throwNPE(point, s, v)}
	case NotNull:
		return s, nil
	}

	var items []*WorkItem
	if w.forkNPE(point, s, v) {
		npe := s.clone()
		if npe.learn(v, Null) {
			npe.npe = v
			items = append(items, w.throwNPE(point, npe, v))
		}
	}
	if !s.learn(v, NotNull) {
		return nil, items
	}
	return s, items
}

// forkNPE returns true if a dereference of the unconstrained value v should
// also be explored as a null pointer exception: v is a parameter of a method
// whose behavior is being computed, or an enclosing handler catches it.
func (w *walker) forkNPE(point ProgramPoint, s *ProgramState, v *SymbolicValue) bool {
	if w.behavior && paramIndex(w.params, s.store, v) >= 0 {
		return true
	}
	t := w.engine.npe
	for _, h := range point.Block.Handlers {
		if t != nil && h.Catches(w.types, t) {
			return true
		}
	}
	return false
}

func (w *walker) throwNPE(point ProgramPoint, s *ProgramState, cause *SymbolicValue) *WorkItem {
	exc := w.factory.NewValue()
	s.learn(exc, NotNull)
	return w.throw(point, s, w.engine.npe, exc, cause)
}

// throw routes exc of type t to the first enclosing handler catching it or
// out of the method. A nil type is an exception of unknown type.
func (w *walker) throw(point ProgramPoint, s *ProgramState, t Type, exc, cause *SymbolicValue) *WorkItem {
	for _, h := range point.Block.Handlers {
		if h.Catches(w.types, t) {
			s.clearStack()
			s.push(exc)
			return &WorkItem{Point: ProgramPoint{Block: h.Block}, State: s}
		}
	}

	if t == nil {
		w.unknownException = true
	}
	s.exit = &Exit{Value: exc, Type: t, Exceptional: true, Cause: cause, Node: point.Node()}
	return &WorkItem{Point: point, State: s}
}

// startingStates returns the initial states of the method: one per
// combination of nullable parameter nullness, or a single state without
// assumptions when there would be more than MaxStartingStates.
func (w *walker) startingStates() []*ProgramState {
	params := w.method.Params()
	base := NewProgramState()
	w.params = make([]*SymbolicValue, len(params))

	var nullable []*SymbolicValue
	for i, p := range params {
		v := w.factory.NewValue()
		w.params[i] = v
		base.env = base.env.Set(p.Symbol, v)

		switch p.Nullness {
		case NonNull:
			base.learn(v, NotNull)
		case Nullable:
			nullable = append(nullable, v)
		}
	}
	base.learned = nil

	if len(nullable) == 0 {
		return []*ProgramState{base}
	} else if len(nullable) >= 31 || 1<<len(nullable) > w.config.MaxStartingStates {
		w.logger.Debug("starting states capped", zap.Int("nullable", len(nullable)))
		return []*ProgramState{base}
	}

	states := make([]*ProgramState, 0, 1<<len(nullable))
	for mask := 0; mask < 1<<len(nullable); mask++ {
		s := base.clone()
		ok := true
		for i, v := range nullable {
			c := NotNull
			if mask&(1<<i) != 0 {
				c = Null
			}
			if ok = s.learn(v, c); !ok {
				break
			}
		}
		if ok {
			states = append(states, s)
		}
	}
	return states
}

// yields summarizes the exits of a behavior exploration.
func (w *walker) yields() []*MethodYield {
	switch {
	case w.result.Aborted, w.result.Imprecise, w.unknownException:
		return []*MethodYield{UnknownYield()}
	}

	flows := NewFlowBuilder(w.alternates, w.config.MaxFlows)
	yields := make([]*MethodYield, 0, len(w.result.Exits))
	for _, s := range w.result.Exits {
		yields = append(yields, newYield(w.params, s, flows))
	}
	yields = dedupeYields(yields)

	if len(yields) > w.config.MaxYields {
		w.logger.Debug("yields capped", zap.Int("n", len(yields)))
		return []*MethodYield{UnknownYield()}
	}
	return yields
}
