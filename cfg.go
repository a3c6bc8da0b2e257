package symex

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/benbjohnson/symex/internal/graphutil"
)

// ErrInvalidGraph is returned when a control flow graph is malformed.
var ErrInvalidGraph = errors.New("invalid control flow graph")

// NodeKind identifies the operation performed by a CFG node.
type NodeKind int

// Node kinds. Element nodes operate on the value stack of a state.
// Terminator nodes end a block.
const (
	NodeInvalid = NodeKind(iota)

	element_kind_begin
	NodeLiteral   // push a literal
	NodeLoad      // push the value of Symbol
	NodeStore     // pop a value into Symbol
	NodeNew       // pop Args, push a new object
	NodeBinary    // pop two operands, push the result of Op
	NodeUnary     // pop one operand, push the result of Op
	NodeInvoke    // pop Args and the optional receiver, push the result unless Void
	NodeField     // pop and dereference an object, push the value of field Symbol
	NodePop       // discard the top of the stack
	NodeUnmodeled // pop Args, push an unknown value
	element_kind_end

	terminator_kind_begin
	NodeBranch // pop a condition, continue to Successors[0] if true or Successors[1] if false
	NodeJump   // continue to Successors[0]
	NodeReturn // pop the return value unless Void, exit the method
	NodeThrow  // pop an exception and route it to the handlers of the block
	terminator_kind_end
)

var nodeKinds = [...]string{
	NodeInvalid:   "invalid",
	NodeLiteral:   "literal",
	NodeLoad:      "load",
	NodeStore:     "store",
	NodeNew:       "new",
	NodeBinary:    "binary",
	NodeUnary:     "unary",
	NodeInvoke:    "invoke",
	NodeField:     "field",
	NodePop:       "pop",
	NodeUnmodeled: "unmodeled",
	NodeBranch:    "branch",
	NodeJump:      "jump",
	NodeReturn:    "return",
	NodeThrow:     "throw",
}

func (k NodeKind) String() string {
	if k >= 0 && k < NodeKind(len(nodeKinds)) && nodeKinds[k] != "" {
		return nodeKinds[k]
	}
	return fmt.Sprintf("NodeKind<%d>", k)
}

// ParseNodeKind returns the kind with the given name.
func ParseNodeKind(s string) (NodeKind, bool) {
	for i, name := range nodeKinds {
		if name != "" && name == s && NodeKind(i) != NodeInvalid {
			return NodeKind(i), true
		}
	}
	return NodeInvalid, false
}

// IsTerminator returns true if the kind ends a block.
func (k NodeKind) IsTerminator() bool {
	return k > terminator_kind_begin && k < terminator_kind_end
}

// LiteralKind describes what is known about a literal.
type LiteralKind int

// Literal kinds.
const (
	LiteralUnknown = LiteralKind(iota) // unconstrained value
	LiteralNull
	LiteralTrue
	LiteralFalse
	LiteralBoolean // some boolean
	LiteralZero
	LiteralNonZero
	LiteralNumber // some number
	LiteralObject // non-null constant such as a string
)

var literalKinds = [...]string{
	LiteralUnknown: "unknown",
	LiteralNull:    "null",
	LiteralTrue:    "true",
	LiteralFalse:   "false",
	LiteralBoolean: "boolean",
	LiteralZero:    "zero",
	LiteralNonZero: "nonzero",
	LiteralNumber:  "number",
	LiteralObject:  "object",
}

func (k LiteralKind) String() string {
	if k >= 0 && k < LiteralKind(len(literalKinds)) {
		return literalKinds[k]
	}
	return fmt.Sprintf("LiteralKind<%d>", k)
}

// ParseLiteralKind returns the literal kind with the given name.
func ParseLiteralKind(s string) (LiteralKind, bool) {
	for i, name := range literalKinds {
		if name == s {
			return LiteralKind(i), true
		}
	}
	return LiteralUnknown, false
}

// Node is a single CFG node. Which fields are meaningful depends on Kind.
type Node struct {
	Kind NodeKind
	Loc  Location

	// Text is the source text of the expression, used in messages.
	Text string

	Symbol  Symbol      // load, store, field
	Literal LiteralKind // literal
	Op      Operator    // binary, unary
	Type    Type        // new: allocated type; throw: thrown type, nil if unknown

	Callee       Method   // invoke
	Args         int      // invoke, new, unmodeled: number of popped arguments
	Receiver     bool     // invoke: a receiver is below the arguments
	ReceiverText string   // invoke, field: source text of the dereferenced object
	ArgText      []string // invoke: source text of each argument

	// Void is set on invokes without a result and returns without a value.
	Void bool

	// NonNullResult is set on field nodes whose result is never null, such
	// as field addresses.
	NonNullResult bool

	// Synthetic is set on branches introduced by lowering rather than by a
	// condition written in source.
	Synthetic bool
}

// String returns a short description of the node.
func (n *Node) String() string {
	var buf strings.Builder
	buf.WriteString(n.Kind.String())
	switch n.Kind {
	case NodeLiteral:
		fmt.Fprintf(&buf, " %s", n.Literal)
	case NodeLoad, NodeStore, NodeField:
		if n.Symbol != nil {
			fmt.Fprintf(&buf, " %s", n.Symbol.Name())
		}
	case NodeBinary, NodeUnary:
		fmt.Fprintf(&buf, " %s", n.Op)
	case NodeInvoke:
		if n.Callee != nil {
			fmt.Fprintf(&buf, " %s", n.Callee.Signature())
		}
		fmt.Fprintf(&buf, " args=%d", n.Args)
		if n.Receiver {
			buf.WriteString(" recv")
		}
	case NodeNew:
		if n.Type != nil {
			fmt.Fprintf(&buf, " %s", n.Type.Name())
		}
		fmt.Fprintf(&buf, " args=%d", n.Args)
	case NodeThrow:
		if n.Type != nil {
			fmt.Fprintf(&buf, " %s", n.Type.Name())
		}
	}
	if n.Text != "" {
		fmt.Fprintf(&buf, " %q", n.Text)
	}
	return buf.String()
}

// Handler is an exception handler enclosing a block. An empty type list
// catches every exception.
type Handler struct {
	Block *Block
	Types []Type
}

// Catches returns true if the handler catches exceptions of type t. An
// unknown exception type is only caught by catch-all handlers.
func (h Handler) Catches(types TypeModel, t Type) bool {
	if len(h.Types) == 0 {
		return true
	} else if t == nil {
		return false
	}
	for _, caught := range h.Types {
		if types.IsSubtypeOf(t, caught) {
			return true
		}
	}
	return false
}

// Block is a basic block: a sequence of element nodes followed by an
// optional terminator. A block without terminator falls through to its only
// successor or, if it has none, returns from the method.
type Block struct {
	ID           int
	Elements     []*Node
	Terminator   *Node
	Successors   []*Block
	Predecessors []*Block

	// Handlers enclosing the block, in declaration order.
	Handlers []Handler

	loop bool
}

// InLoop returns true if the block lies on a cycle of the graph.
func (b *Block) InLoop() bool { return b.loop }

// Add appends element nodes to the block.
func (b *Block) Add(nodes ...*Node) *Block {
	b.Elements = append(b.Elements, nodes...)
	return b
}

// Jump terminates the block with an unconditional jump.
func (b *Block) Jump(to *Block) {
	b.Terminator = &Node{Kind: NodeJump}
	b.Successors = []*Block{to}
}

// Branch terminates the block with a conditional branch.
func (b *Block) Branch(n *Node, ifTrue, ifFalse *Block) {
	assert(n.Kind == NodeBranch, "branch terminator has kind %s", n.Kind)
	b.Terminator = n
	b.Successors = []*Block{ifTrue, ifFalse}
}

// Return terminates the block with a return.
func (b *Block) Return(n *Node) {
	assert(n.Kind == NodeReturn, "return terminator has kind %s", n.Kind)
	b.Terminator = n
	b.Successors = nil
}

// Throw terminates the block with a throw.
func (b *Block) Throw(n *Node) {
	assert(n.Kind == NodeThrow, "throw terminator has kind %s", n.Kind)
	b.Terminator = n
	b.Successors = nil
}

// Catch appends an exception handler to the block.
func (b *Block) Catch(handler *Block, types ...Type) {
	b.Handlers = append(b.Handlers, Handler{Block: handler, Types: types})
}

func (b *Block) String() string {
	return fmt.Sprintf("B%d", b.ID)
}

// Graph is the control flow graph of a method body. Graphs are created with
// a GraphBuilder and must not be modified once built.
type Graph struct {
	Entry  *Block
	Blocks []*Block
}

// Dump writes a listing of the graph to w.
func (g *Graph) Dump(w io.Writer) {
	for _, b := range g.Blocks {
		fmt.Fprintf(w, "%s:", b)
		if len(b.Predecessors) > 0 {
			fmt.Fprintf(w, " preds=%v", b.Predecessors)
		}
		if b.loop {
			fmt.Fprint(w, " loop")
		}
		fmt.Fprintln(w)
		for _, n := range b.Elements {
			fmt.Fprintf(w, "\t%s\n", n)
		}
		if b.Terminator != nil {
			fmt.Fprintf(w, "\t%s", b.Terminator)
		} else {
			fmt.Fprint(w, "\tfallthrough")
		}
		if len(b.Successors) > 0 {
			fmt.Fprintf(w, " -> %v", b.Successors)
		}
		fmt.Fprintln(w)
		for _, h := range b.Handlers {
			names := make([]string, len(h.Types))
			for i, t := range h.Types {
				names[i] = t.Name()
			}
			fmt.Fprintf(w, "\tcatch [%s] -> %s\n", strings.Join(names, " | "), h.Block)
		}
	}
}

// GraphBuilder creates the blocks of a graph.
type GraphBuilder struct {
	blocks []*Block
}

// NewGraphBuilder returns a new instance of GraphBuilder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{}
}

// NewBlock allocates a new, empty block.
func (b *GraphBuilder) NewBlock() *Block {
	blk := &Block{ID: len(b.blocks)}
	b.blocks = append(b.blocks, blk)
	return blk
}

// Build validates the blocks and returns the graph rooted at entry. Blocks
// unreachable from entry are discarded and the remaining blocks renumbered.
func (b *GraphBuilder) Build(entry *Block) (*Graph, error) {
	for _, blk := range b.blocks {
		if err := validateBlock(blk); err != nil {
			return nil, err
		}
	}

	dg := graphutil.NewDigraph(len(b.blocks))
	for _, blk := range b.blocks {
		for _, succ := range blk.Successors {
			dg.AddEdge(blk.ID, succ.ID)
		}
		for _, h := range blk.Handlers {
			dg.AddEdge(blk.ID, h.Block.ID)
		}
	}
	cyclic := graphutil.CyclicNodes(dg)

	g := &Graph{}
	for _, id := range dg.Reachable(entry.ID) {
		blk := b.blocks[id]
		blk.loop = cyclic[id]
		blk.Predecessors = nil
		g.Blocks = append(g.Blocks, blk)
	}
	for i, blk := range g.Blocks {
		blk.ID = i
		for _, succ := range blk.Successors {
			succ.Predecessors = append(succ.Predecessors, blk)
		}
	}
	g.Entry = entry
	b.blocks = nil
	return g, nil
}

func validateBlock(blk *Block) error {
	for _, n := range blk.Elements {
		if n.Kind <= element_kind_begin || n.Kind >= element_kind_end {
			return fmt.Errorf("%w: %s: %s node in block body", ErrInvalidGraph, blk, n.Kind)
		}
	}

	if blk.Terminator == nil {
		if len(blk.Successors) > 1 {
			return fmt.Errorf("%w: %s: fallthrough with %d successors", ErrInvalidGraph, blk, len(blk.Successors))
		}
		return nil
	}

	var exp int
	switch blk.Terminator.Kind {
	case NodeBranch:
		exp = 2
	case NodeJump:
		exp = 1
	case NodeReturn, NodeThrow:
		exp = 0
	default:
		return fmt.Errorf("%w: %s: %s node as terminator", ErrInvalidGraph, blk, blk.Terminator.Kind)
	}
	if len(blk.Successors) != exp {
		return fmt.Errorf("%w: %s: %s with %d successors", ErrInvalidGraph, blk, blk.Terminator.Kind, len(blk.Successors))
	}
	return nil
}

// ProgramPoint is a position within a block. An index equal to the number
// of elements designates the terminator.
type ProgramPoint struct {
	Block *Block
	Index int
}

// Node returns the node at the point or nil for a fallthrough.
func (p ProgramPoint) Node() *Node {
	if p.Index < len(p.Block.Elements) {
		return p.Block.Elements[p.Index]
	}
	return p.Block.Terminator
}

// Next returns the following point in the same block.
func (p ProgramPoint) Next() ProgramPoint {
	return ProgramPoint{Block: p.Block, Index: p.Index + 1}
}

func (p ProgramPoint) String() string {
	return fmt.Sprintf("%s.%d", p.Block, p.Index)
}
