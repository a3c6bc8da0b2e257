package checks

import (
	"github.com/benbjohnson/symex"
)

// ResourceDomain holds the state of closeable objects.
var ResourceDomain = symex.RegisterDomain("resource")

// ResourceConstraint is the state of a resource allocated at Opened.
type ResourceConstraint struct {
	Opened symex.Location
	Closed bool
}

func (c ResourceConstraint) Domain() symex.Domain { return ResourceDomain }

func (c ResourceConstraint) String() string {
	if c.Closed {
		return "closed"
	}
	return "open"
}

// closeableTypes are the supertypes of resources.
var closeableTypes = []string{"java.io.Closeable", "java.lang.AutoCloseable"}

// UnclosedResource reports resources that are still open when a method
// returns normally. A resource passed to another method, stored in a field
// or returned is no longer owned by the method.
type UnclosedResource struct {
	symex.NopListener
}

var (
	_ symex.StateRefiner   = (*UnclosedResource)(nil)
	_ symex.MethodListener = (*UnclosedResource)(nil)
)

// NewUnclosedResource returns a new instance of UnclosedResource.
func NewUnclosedResource() *UnclosedResource {
	return &UnclosedResource{}
}

// Refine tracks the resource state of the values touched by node.
func (c *UnclosedResource) Refine(ctx *symex.CheckContext, node *symex.Node, s *symex.ProgramState) (*symex.ProgramState, bool) {
	parent := s.Parent()
	if parent == nil {
		return s, true
	}

	switch node.Kind {
	case symex.NodeNew:
		if s.Exit() == nil && s.StackLen() > 0 && closeable(ctx.Types(), node.Type) {
			s = s.WithPut(s.Peek(0), ResourceConstraint{Opened: node.Loc})
		}

	case symex.NodeInvoke:
		if node.Receiver && node.Callee != nil && node.Callee.Name() == "close" && parent.StackLen() > node.Args {
			s = release(s, parent.Peek(node.Args))
		}
		for i := 0; i < node.Args && i < parent.StackLen(); i++ {
			s = release(s, parent.Peek(i))
		}

	case symex.NodeStore:
		if f, ok := node.Symbol.(interface{ IsField() bool }); ok && f.IsField() && parent.StackLen() > 0 {
			s = release(s, parent.Peek(0))
		}

	case symex.NodeReturn:
		if !node.Void && parent.StackLen() > 0 {
			s = release(s, parent.Peek(0))
		}
	}
	return s, true
}

// release marks v closed if it is an open resource.
func release(s *symex.ProgramState, v *symex.SymbolicValue) *symex.ProgramState {
	if c, ok := s.Constraint(v, ResourceDomain).(ResourceConstraint); ok && !c.Closed {
		return s.WithPut(v, ResourceConstraint{Opened: c.Opened, Closed: true})
	}
	return s
}

func (c *UnclosedResource) OnMethodEntry(ctx *symex.CheckContext) {}

// OnMethodExplored reports the resources open on a normal exit.
func (c *UnclosedResource) OnMethodExplored(ctx *symex.CheckContext, result *symex.ExplorationResult) {
	for _, s := range result.Exits {
		if s.Exit().Exceptional {
			continue
		}
		for _, v := range s.Store().Values() {
			if rc, ok := s.Constraint(v, ResourceDomain).(ResourceConstraint); ok && !rc.Closed {
				ctx.Report(UnclosedResourceName, rc.Opened, "Use try-with-resources or close this resource in a \"finally\" clause.", nil)
			}
		}
	}
}

func closeable(types symex.TypeModel, t symex.Type) bool {
	if t == nil {
		return false
	}
	for _, name := range closeableTypes {
		if super := types.Lookup(name); super != nil && types.IsSubtypeOf(t, super) {
			return true
		}
	}
	return false
}
