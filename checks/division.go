package checks

import (
	"fmt"

	"github.com/benbjohnson/symex"
)

// DivisionByZero reports divisions and remainders by a value known to be
// zero.
type DivisionByZero struct {
	symex.NopListener
}

// NewDivisionByZero returns a new instance of DivisionByZero.
func NewDivisionByZero() *DivisionByZero {
	return &DivisionByZero{}
}

func (c *DivisionByZero) OnNodeEntry(ctx *symex.CheckContext, node *symex.Node, s *symex.ProgramState) {
	if node.Kind != symex.NodeBinary || (node.Op != symex.OpDiv && node.Op != symex.OpRem) || s.StackLen() < 2 {
		return
	}
	divisor := s.Peek(0)
	if s.Store().Zeroness(divisor) != symex.Zero {
		return
	}

	name := ""
	if len(node.ArgText) > 1 {
		name = node.ArgText[1]
	}
	name = symbolName(s, divisor, name)
	flows := withStep(ctx.Flows(s, divisor, symex.DomainZeroness), symex.Step{
		Location: node.Loc,
		Message:  "Division by zero.",
	})
	ctx.Report(DivisionByZeroName, node.Loc, fmt.Sprintf("Make sure '%s' can't be zero before doing this division.", name), flows)
}
