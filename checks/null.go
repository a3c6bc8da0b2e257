package checks

import (
	"fmt"

	"github.com/benbjohnson/symex"
)

// NullDereference reports dereferences of values known to be null, both
// directly and inside callees receiving a null argument.
type NullDereference struct {
	symex.NopListener
}

// NewNullDereference returns a new instance of NullDereference.
func NewNullDereference() *NullDereference {
	return &NullDereference{}
}

// OnNodeExit reports the states routing a null pointer exception for a
// value that was null before node.
func (c *NullDereference) OnNodeExit(ctx *symex.CheckContext, node *symex.Node, s *symex.ProgramState) {
	parent := s.Parent()
	if parent == nil {
		return
	}

	if v := s.AssumedNull(); v != nil && parent.Store().Nullness(v) == symex.Null {
		name := symbolName(parent, v, node.ReceiverText)
		ctx.Report(NullDereferenceName, node.Loc, message(name), ctx.Flows(s, v, symex.DomainNullness))
		return
	}

	y := s.Yield()
	if y == nil || !y.Exceptional || y.CauseParam < 0 || y.CauseParam >= node.Args {
		return
	}
	arg := parent.Peek(node.Args - 1 - y.CauseParam)
	if parent.Store().Nullness(arg) != symex.Null {
		return
	}

	loc := node.Loc
	if len(y.Flow) > 0 {
		loc = y.Flow[len(y.Flow)-1].Location
	}
	name := ""
	if y.CauseParam < len(node.ArgText) {
		name = node.ArgText[y.CauseParam]
	}
	ctx.Report(NullDereferenceName, loc, message(symbolName(parent, arg, name)), ctx.Flows(s, arg, symex.DomainNullness))
}

func message(name string) string {
	return fmt.Sprintf("A \"NullPointerException\" could be thrown; '%s' is nullable here.", name)
}

// symbolName returns the name of a symbol bound to v in s, or fallback.
func symbolName(s *symex.ProgramState, v *symex.SymbolicValue, fallback string) string {
	if fallback != "" {
		return fallback
	} else if syms := s.SymbolsOf(v); len(syms) > 0 {
		return syms[0].Name()
	}
	return v.String()
}
