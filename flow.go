package symex

import (
	"fmt"
	"strings"
)

// Step is a single fact of a flow.
type Step struct {
	Location Location `yaml:"location"`
	Message  string   `yaml:"message"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s: %s", s.Location, s.Message)
}

// Flow is an ordered chain of steps, oldest first, explaining how a value
// came to have a constraint. Its ID is assigned when it is reported.
type Flow struct {
	ID    int    `yaml:"id"`
	Steps []Step `yaml:"steps"`
}

func (f Flow) key() string {
	var buf strings.Builder
	for _, s := range f.Steps {
		fmt.Fprintf(&buf, "%s|%s\n", s.Location, s.Message)
	}
	return buf.String()
}

// String returns the flow in the "\t- pos: message" layout used in reports.
func (f Flow) String() string {
	var buf strings.Builder
	for _, s := range f.Steps {
		fmt.Fprintf(&buf, "\t- %s\n", s)
	}
	return buf.String()
}

// FlowBuilder reconstructs flows by walking a state's ancestors. When
// several equal states were merged during exploration, each merged
// predecessor chain yields its own flow.
type FlowBuilder struct {
	alternates map[*ProgramState][]*ProgramState
	maxFlows   int
	maxStates  int
}

// NewFlowBuilder returns a builder following the merged predecessors in
// alternates. A nil map only follows parent links.
func NewFlowBuilder(alternates map[*ProgramState][]*ProgramState, maxFlows int) *FlowBuilder {
	return &FlowBuilder{alternates: alternates, maxFlows: maxFlows, maxStates: 10000}
}

// Flows returns the distinct flows explaining the constraint of v in domain
// d at state s. Flows without any step are omitted.
func (b *FlowBuilder) Flows(s *ProgramState, v *SymbolicValue, d Domain) []Flow {
	fw := flowWalk{
		builder: b,
		value:   v,
		domain:  d,
		seen:    make(map[string]bool),
		onPath:  make(map[*ProgramState]bool),
		tracked: make(map[Symbol]bool),
	}
	fw.walk(s, nil)
	return fw.flows
}

type flowWalk struct {
	builder *FlowBuilder
	value   *SymbolicValue
	domain  Domain
	flows   []Flow
	seen    map[string]bool
	onPath  map[*ProgramState]bool
	tracked map[Symbol]bool
	visited int
}

// walk follows the ancestors of s, accumulating steps newest first. Merged
// alternates of each state on the chain are explored as separate flows.
func (fw *flowWalk) walk(s *ProgramState, acc []Step) {
	var path []*ProgramState
	defer func() {
		for _, p := range path {
			delete(fw.onPath, p)
		}
	}()

	for ; s != nil; s = s.parent {
		if len(fw.flows) >= fw.builder.maxFlows || fw.visited >= fw.builder.maxStates {
			return
		} else if fw.onPath[s] {
			break
		}
		fw.visited++
		fw.onPath[s] = true
		path = append(path, s)

		for _, alt := range fw.builder.alternates[s] {
			if !fw.onPath[alt] {
				fw.walk(alt, append([]Step(nil), acc...))
			}
		}

		acc = append(acc, fw.steps(s)...)
		if fw.introduced(s) {
			break
		}
	}
	fw.emit(acc)
}

func (fw *flowWalk) emit(acc []Step) {
	if len(acc) == 0 || len(fw.flows) >= fw.builder.maxFlows {
		return
	}

	var flow Flow
	seen := make(map[Step]bool)
	for i := len(acc) - 1; i >= 0; i-- {
		if !seen[acc[i]] {
			seen[acc[i]] = true
			flow.Steps = append(flow.Steps, acc[i])
		}
	}

	if key := flow.key(); !fw.seen[key] {
		fw.seen[key] = true
		fw.flows = append(fw.flows, flow)
	}
}

// introduced returns true if the transition producing s added the
// constraint being explained.
func (fw *flowWalk) introduced(s *ProgramState) bool {
	if s.parent == nil {
		return true
	}
	return s.store.Get(fw.value, fw.domain) != nil && s.parent.store.Get(fw.value, fw.domain) == nil
}

// steps returns the steps of the transition producing s, newest first.
func (fw *flowWalk) steps(s *ProgramState) []Step {
	n := s.node
	if n == nil {
		return nil
	}
	v := fw.value

	var steps []Step
	if n.Kind == NodeLoad && s.parent != nil && s.parent.Value(n.Symbol) == v {
		fw.tracked[n.Symbol] = true
	}

	// Facts contributed by a callee.
	if y := s.yield; y != nil && s.parent != nil {
		for i := 0; i < n.Args && i < len(y.Params); i++ {
			if argumentOf(s.parent, n, i) != v {
				continue
			}
			if y.CauseParam == i {
				for j := len(y.Flow) - 1; j >= 0; j-- {
					steps = append(steps, y.Flow[j])
				}
			}
			if y.CauseParam == i || y.Params[i].Get(fw.domain) != nil {
				steps = append(steps, Step{
					Location: n.Loc,
					Message:  fmt.Sprintf("'%s' is passed to '%s()'.", argumentName(s.parent, n, i), calleeName(n)),
				})
			}
		}
	}

	if s.npe == v {
		steps = append(steps, Step{Location: n.Loc, Message: fmt.Sprintf("'%s' is dereferenced.", fw.name(s, v, n.ReceiverText))})
	}

	for _, l := range s.learned {
		if l.Value != v || l.Constraint.Domain() != fw.domain || s.npe == v {
			continue
		}
		switch {
		case n.Kind == NodeInvoke && s.StackLen() > 0 && !n.Void && s.Peek(0) == v && !fw.isArgument(s, n):
			steps = append(steps, Step{Location: n.Loc, Message: fmt.Sprintf("'%s()' can return %s.", calleeName(n), l.Constraint)})
		case n.Kind == NodeInvoke && s.yield != nil:
			// Described by the "passed to" step.
		default:
			steps = append(steps, Step{Location: n.Loc, Message: fmt.Sprintf("Implies '%s' is %s.", fw.name(s, v, n.Text), l.Constraint)})
		}
		break
	}

	if c := s.store.Get(v, fw.domain); c != nil {
		for _, b := range s.bound {
			if b.Value != v || (v.IsPredefined() && !fw.tracked[b.Symbol]) {
				continue
			}
			steps = append(steps, Step{Location: n.Loc, Message: fmt.Sprintf("Implies '%s' is %s.", b.Symbol.Name(), c)})
		}
	}
	return steps
}

func (fw *flowWalk) isArgument(s *ProgramState, n *Node) bool {
	if s.parent == nil {
		return false
	}
	for i := 0; i < n.Args; i++ {
		if argumentOf(s.parent, n, i) == fw.value {
			return true
		}
	}
	return false
}

// name returns the name used for v in messages: a tracked symbol bound to
// v, any symbol bound to v or the fallback text.
func (fw *flowWalk) name(s *ProgramState, v *SymbolicValue, fallback string) string {
	syms := s.SymbolsOf(v)
	for _, sym := range syms {
		if fw.tracked[sym] {
			return sym.Name()
		}
	}
	if fallback != "" {
		return fallback
	} else if len(syms) > 0 {
		return syms[0].Name()
	}
	return v.String()
}

// argumentOf returns the i-th argument of an invoke node evaluated in s,
// the state before the invocation.
func argumentOf(s *ProgramState, n *Node, i int) *SymbolicValue {
	if s.StackLen() < n.Args {
		return nil
	}
	return s.Peek(n.Args - 1 - i)
}

// receiverOf returns the receiver of an invoke node evaluated in s.
func receiverOf(s *ProgramState, n *Node) *SymbolicValue {
	if !n.Receiver || s.StackLen() <= n.Args {
		return nil
	}
	return s.Peek(n.Args)
}

func argumentName(s *ProgramState, n *Node, i int) string {
	if i < len(n.ArgText) && n.ArgText[i] != "" {
		return n.ArgText[i]
	}
	if v := argumentOf(s, n, i); v != nil {
		if syms := s.SymbolsOf(v); len(syms) > 0 {
			return syms[0].Name()
		}
	}
	return fmt.Sprintf("argument #%d", i+1)
}

func calleeName(n *Node) string {
	if n.Callee != nil {
		return n.Callee.Name()
	}
	return n.Text
}
