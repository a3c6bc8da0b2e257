package symex

import (
	"go.uber.org/zap"
)

// Listener receives walker events. Checks implement Listener to inspect
// states and report issues; the engine itself never reports.
type Listener interface {
	// OnNodeEntry is called before node is evaluated in state.
	OnNodeEntry(ctx *CheckContext, node *Node, state *ProgramState)

	// OnNodeExit is called for every state produced by evaluating node.
	OnNodeExit(ctx *CheckContext, node *Node, state *ProgramState)

	// OnMethodYieldComputed is called for each yield of a newly computed
	// method behavior.
	OnMethodYieldComputed(ctx *CheckContext, y *MethodYield)
}

// MethodListener is implemented by listeners that need per-method events.
type MethodListener interface {
	OnMethodEntry(ctx *CheckContext)
	OnMethodExplored(ctx *CheckContext, result *ExplorationResult)
}

// YieldListener is implemented by listeners notified when a callee yield is
// applied at an invoke node.
type YieldListener interface {
	OnYieldApplied(ctx *CheckContext, node *Node, y *MethodYield, state *ProgramState)
}

// StateRefiner is implemented by listeners that attach constraints of their
// own domains to the states produced by a node. Returning false discards
// the state.
type StateRefiner interface {
	Refine(ctx *CheckContext, node *Node, state *ProgramState) (*ProgramState, bool)
}

// NopListener implements Listener with no-ops. Embed it to implement only
// some of the events.
type NopListener struct{}

func (NopListener) OnNodeEntry(ctx *CheckContext, node *Node, state *ProgramState) {}
func (NopListener) OnNodeExit(ctx *CheckContext, node *Node, state *ProgramState)  {}
func (NopListener) OnMethodYieldComputed(ctx *CheckContext, y *MethodYield)         {}

// CheckContext is passed to listeners. It exposes the method being explored
// and the means to explain and report issues.
type CheckContext struct {
	engine *Engine
	walker *walker
}

// Method returns the method being explored.
func (c *CheckContext) Method() Method { return c.walker.method }

// Types returns the type model of the analysis.
func (c *CheckContext) Types() TypeModel { return c.engine.types }

// Config returns the engine configuration.
func (c *CheckContext) Config() *Config { return c.engine.config }

// Logger returns the engine logger annotated with the method.
func (c *CheckContext) Logger() *zap.Logger { return c.walker.logger }

// Reporting returns true if issues reported through the context are kept.
// Nested explorations computing behaviors do not report.
func (c *CheckContext) Reporting() bool {
	return !c.walker.behavior && c.engine.reporter != nil
}

// Flows returns the flows explaining the constraint of v in domain d at s.
func (c *CheckContext) Flows(s *ProgramState, v *SymbolicValue, d Domain) []Flow {
	return NewFlowBuilder(c.walker.alternates, c.engine.config.MaxFlows).Flows(s, v, d)
}

// Report records an issue at loc. Flows reported for the same check,
// location and message are merged into a single issue.
func (c *CheckContext) Report(check string, loc Location, message string, flows []Flow) {
	if !c.Reporting() {
		return
	}
	c.walker.logger.Debug("issue", zap.String("check", check), zap.Stringer("loc", loc), zap.String("message", message))
	c.engine.reporter.Report(Issue{Check: check, Location: loc, Message: message, Flows: flows})
}
