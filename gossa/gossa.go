// Package gossa lowers Go functions in SSA form into engine control flow
// graphs.
//
// Every SSA register becomes a variable named after the source identifier
// it is bound to, when debug information is available. Phi nodes are
// lowered onto dedicated edge blocks. Loads through pointers, field and
// element addresses of pointers, calls of function values and interface
// method calls are dereferences, and a panic is a throw of the "panic"
// type. Deferred calls and goroutines are not modeled.
package gossa

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"sort"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Exception type names used by lowered programs.
const (
	// PanicType is the type thrown by explicit panics.
	PanicType = "panic"

	// NilDereferenceType is the type thrown by nil dereferences. Engines
	// analyzing Go code should set Config.NullPointerException to it.
	NilDereferenceType = "runtime.Error"
)

// Functions returns the source functions of pkgs, including methods and
// function literals, ordered by name. Synthetic wrappers are excluded.
func Functions(prog *ssa.Program, pkgs []*ssa.Package) []*ssa.Function {
	include := make(map[*ssa.Package]bool, len(pkgs))
	for _, pkg := range pkgs {
		if pkg != nil {
			include[pkg] = true
		}
	}

	var a []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Synthetic != "" || len(fn.Blocks) == 0 || !include[fn.Package()] {
			continue
		}
		a = append(a, fn)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].String() < a[j].String() })
	return a
}

// Lower returns a program holding one method per function of fns. Calls to
// functions outside of fns are lowered as calls to methods without a body.
func Lower(prog *ssa.Program, fns []*ssa.Function) (*program.Program, error) {
	c := &compiler{
		ssa:      prog,
		prog:     program.New(),
		methods:  make(map[*ssa.Function]*function),
		external: make(map[string]*program.Method),
	}

	// Declare every method first so calls can refer to them.
	for _, fn := range fns {
		f := c.declare(fn)
		if err := c.prog.Add(f.method); err != nil {
			return nil, err
		}
	}

	for _, fn := range fns {
		if err := c.lower(c.methods[fn]); err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
	}
	return c.prog, nil
}

type compiler struct {
	ssa      *ssa.Program
	prog     *program.Program
	methods  map[*ssa.Function]*function
	external map[string]*program.Method
}

// function is a method being lowered along with its register symbols.
type function struct {
	fn      *ssa.Function
	method  *program.Method
	symbols map[ssa.Value]*program.Variable
	names   map[ssa.Value]string
	deref   *program.Variable
}

func (c *compiler) declare(fn *ssa.Function) *function {
	f := &function{
		fn:      fn,
		symbols: make(map[ssa.Value]*program.Variable),
		names:   make(map[ssa.Value]string),
		deref:   program.NewField("*"),
	}

	// Source names of values come from debug references to identifiers.
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			if ref, ok := instr.(*ssa.DebugRef); ok && !ref.IsAddr {
				if ident, ok := ref.Expr.(*ast.Ident); ok {
					if _, ok := f.names[ref.X]; !ok {
						f.names[ref.X] = ident.Name
					}
				}
			}
		}
	}

	f.method = &program.Method{
		Owner: owner(fn),
		Ident: fn.Name(),
		Sig:   fn.String(),
		Void:  fn.Signature.Results().Len() == 0,
		Loc:   c.loc(fn.Pos()),
	}
	for _, p := range fn.Params {
		f.method.Parameters = append(f.method.Parameters, symex.Param{Symbol: f.symbol(p)})
	}
	c.methods[fn] = f
	return f
}

// owner returns the receiver type name of a method or the package path.
func owner(fn *ssa.Function) string {
	if recv := fn.Signature.Recv(); recv != nil {
		t := recv.Type()
		if ptr, ok := t.(*types.Pointer); ok {
			t = ptr.Elem()
		}
		if named, ok := t.(*types.Named); ok {
			return named.Obj().Name()
		}
	}
	if fn.Pkg != nil {
		return fn.Pkg.Pkg.Path()
	}
	return ""
}

// symbol returns the variable holding the value of v.
func (f *function) symbol(v ssa.Value) *program.Variable {
	if sym := f.symbols[v]; sym != nil {
		return sym
	}
	sym := program.NewVariable(f.name(v))
	f.symbols[v] = sym
	return sym
}

// name returns the source name of v or its register name.
func (f *function) name(v ssa.Value) string {
	if name, ok := f.names[v]; ok {
		return name
	}
	switch v := v.(type) {
	case *ssa.Const:
		if v.IsNil() {
			return "nil"
		}
	}
	return v.Name()
}

// stub returns the bodiless method standing for an unknown callee.
func (c *compiler) stub(sig, name string, arity int, void bool) *program.Method {
	if m := c.external[sig]; m != nil {
		return m
	}
	m := &program.Method{Ident: name, Sig: sig, Void: void}
	for i := 0; i < arity; i++ {
		m.Parameters = append(m.Parameters, symex.Param{Symbol: program.NewVariable(fmt.Sprintf("p%d", i))})
	}
	c.external[sig] = m
	return m
}

func (c *compiler) loc(pos token.Pos) symex.Location {
	if !pos.IsValid() {
		return symex.Location{}
	}
	p := c.ssa.Fset.Position(pos)
	return symex.Location{File: p.Filename, Line: p.Line, Column: p.Column}
}

// lowerer converts the blocks of a single function.
type lowerer struct {
	*compiler
	*function

	b      *symex.GraphBuilder
	blocks map[*ssa.BasicBlock]*symex.Block
	cur    *symex.Block
	edges  map[[2]*ssa.BasicBlock]int
}

func (c *compiler) lower(f *function) error {
	l := &lowerer{
		compiler: c,
		function: f,
		b:        symex.NewGraphBuilder(),
		blocks:   make(map[*ssa.BasicBlock]*symex.Block),
		edges:    make(map[[2]*ssa.BasicBlock]int),
	}
	for _, blk := range f.fn.Blocks {
		l.blocks[blk] = l.b.NewBlock()
	}

	for _, blk := range f.fn.Blocks {
		l.cur = l.blocks[blk]
		for _, instr := range blk.Instrs {
			l.instr(blk, instr)
		}
	}

	g, err := l.b.Build(l.blocks[f.fn.Blocks[0]])
	if err != nil {
		return err
	}
	f.method.Graph = g
	return nil
}

func (l *lowerer) emit(n *symex.Node) {
	l.cur.Add(n)
}

// push emits the nodes pushing the value of v.
func (l *lowerer) push(v ssa.Value) {
	switch v := v.(type) {
	case *ssa.Const:
		l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: literalKind(v), Text: l.name(v)})
	case *ssa.Function, *ssa.Global, *ssa.Builtin:
		l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralObject, Text: v.Name()})
	default:
		l.emit(&symex.Node{Kind: symex.NodeLoad, Symbol: l.symbol(v), Text: l.name(v)})
	}
}

// store emits the node binding the top of the stack to register v.
func (l *lowerer) store(v ssa.Value, pos token.Pos) {
	l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(pos), Symbol: l.symbol(v)})
}

// fresh emits the nodes replacing the values of args with a value of kind.
func (l *lowerer) fresh(v ssa.Value, kind symex.LiteralKind, args ...ssa.Value) {
	for _, arg := range args {
		l.push(arg)
		l.emit(&symex.Node{Kind: symex.NodePop})
	}
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: kind, Loc: l.loc(v.Pos())})
	l.store(v, v.Pos())
}

func literalKind(c *ssa.Const) symex.LiteralKind {
	switch {
	case c.IsNil():
		return symex.LiteralNull
	case c.Value == nil:
		return symex.LiteralUnknown
	}

	switch c.Value.Kind() {
	case constant.Bool:
		if constant.BoolVal(c.Value) {
			return symex.LiteralTrue
		}
		return symex.LiteralFalse
	case constant.Int, constant.Float, constant.Complex:
		if constant.Sign(c.Value) == 0 {
			return symex.LiteralZero
		}
		return symex.LiteralNonZero
	case constant.String:
		return symex.LiteralObject
	}
	return symex.LiteralUnknown
}

func (l *lowerer) instr(blk *ssa.BasicBlock, instr ssa.Instruction) {
	switch instr := instr.(type) {
	case *ssa.DebugRef, *ssa.Phi, *ssa.RunDefers, *ssa.MapUpdate, *ssa.Send:
		// Phis are assigned on incoming edges.
	case *ssa.Alloc:
		l.emit(&symex.Node{Kind: symex.NodeNew, Loc: l.loc(instr.Pos()), Type: l.prog.Types.Declare(instr.Type().String())})
		l.store(instr, instr.Pos())
	case *ssa.BinOp:
		l.binOp(instr)
	case *ssa.UnOp:
		l.unOp(instr)
	case *ssa.Call:
		l.call(instr.Common(), instr, instr.Pos())
	case *ssa.Go:
		l.discard(instr.Common())
	case *ssa.Defer:
		l.discard(instr.Common())
	case *ssa.ChangeType:
		l.alias(instr, instr.X)
	case *ssa.ChangeInterface:
		l.alias(instr, instr.X)
	case *ssa.Convert:
		l.alias(instr, instr.X)
	case *ssa.MakeInterface:
		l.fresh(instr, symex.LiteralObject, instr.X)
	case *ssa.MakeClosure:
		l.fresh(instr, symex.LiteralObject, instr.Bindings...)
	case *ssa.MakeSlice:
		l.fresh(instr, symex.LiteralObject, instr.Len, instr.Cap)
	case *ssa.MakeMap:
		if instr.Reserve != nil {
			l.fresh(instr, symex.LiteralObject, instr.Reserve)
		} else {
			l.fresh(instr, symex.LiteralObject)
		}
	case *ssa.MakeChan:
		l.fresh(instr, symex.LiteralObject, instr.Size)
	case *ssa.FieldAddr:
		l.deref(instr, instr.X, l.fieldName(instr.X.Type(), instr.Field))
	case *ssa.IndexAddr:
		if isPointer(instr.X.Type()) {
			l.deref(instr, instr.X, "[]")
			break
		}
		l.fresh(instr, symex.LiteralObject, instr.X, instr.Index)
	case *ssa.Field:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	case *ssa.Index:
		l.fresh(instr, symex.LiteralUnknown, instr.X, instr.Index)
	case *ssa.Lookup:
		l.fresh(instr, symex.LiteralUnknown, instr.X, instr.Index)
	case *ssa.Extract:
		l.fresh(instr, symex.LiteralUnknown, instr.Tuple)
	case *ssa.TypeAssert:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	case *ssa.Slice:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	case *ssa.SliceToArrayPointer:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	case *ssa.Range:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	case *ssa.Next:
		l.fresh(instr, symex.LiteralUnknown, instr.Iter)
	case *ssa.Select:
		l.fresh(instr, symex.LiteralUnknown)
	case *ssa.Store:
		l.push(instr.Addr)
		l.emit(&symex.Node{Kind: symex.NodeField, Loc: l.loc(instr.Pos()), Symbol: l.function.deref, ReceiverText: l.name(instr.Addr)})
		l.emit(&symex.Node{Kind: symex.NodePop})
	case *ssa.If:
		l.push(instr.Cond)
		t, f := l.edge(blk, blk.Succs[0]), l.edge(blk, blk.Succs[1])
		l.cur.Branch(&symex.Node{Kind: symex.NodeBranch, Loc: l.loc(instr.Cond.Pos()), Text: l.text(instr.Cond)}, t, f)
	case *ssa.Jump:
		l.cur.Jump(l.edge(blk, blk.Succs[0]))
	case *ssa.Return:
		l.ret(instr)
	case *ssa.Panic:
		l.push(instr.X)
		l.cur.Throw(&symex.Node{Kind: symex.NodeThrow, Loc: l.loc(instr.Pos()), Type: l.prog.Types.Lookup(PanicType)})
	default:
		// Remaining instructions produce no value used by the engine.
		if v, ok := instr.(ssa.Value); ok {
			l.fresh(v, symex.LiteralUnknown)
		}
	}
}

// alias binds the register v to the value of x.
func (l *lowerer) alias(v, x ssa.Value) {
	l.push(x)
	l.store(v, v.Pos())
}

// deref emits the dereference of x and binds the address of field to v.
func (l *lowerer) deref(v, x ssa.Value, field string) {
	l.push(x)
	l.emit(&symex.Node{
		Kind:          symex.NodeField,
		Loc:           l.loc(v.Pos()),
		Symbol:        program.NewField(field),
		ReceiverText:  l.name(x),
		NonNullResult: true,
	})
	l.store(v, v.Pos())
}

func (l *lowerer) fieldName(t types.Type, i int) string {
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	if s, ok := t.Underlying().(*types.Struct); ok && i < s.NumFields() {
		return s.Field(i).Name()
	}
	return fmt.Sprintf("field%d", i)
}

func isPointer(t types.Type) bool {
	_, ok := t.Underlying().(*types.Pointer)
	return ok
}

var binaryOps = map[token.Token]symex.Operator{
	token.EQL: symex.OpEQ,
	token.NEQ: symex.OpNE,
	token.LSS: symex.OpLT,
	token.LEQ: symex.OpLE,
	token.GTR: symex.OpGT,
	token.GEQ: symex.OpGE,
	token.ADD: symex.OpAdd,
	token.SUB: symex.OpSub,
	token.MUL: symex.OpMul,
	token.QUO: symex.OpDiv,
	token.REM: symex.OpRem,
	token.AND: symex.OpAnd,
	token.OR:  symex.OpOr,
	token.XOR: symex.OpXor,
	token.SHL: symex.OpShl,
	token.SHR: symex.OpShr,
}

func (l *lowerer) binOp(instr *ssa.BinOp) {
	op, ok := binaryOps[instr.Op]
	if !ok {
		l.fresh(instr, symex.LiteralNumber, instr.X, instr.Y)
		return
	}

	l.push(instr.X)
	l.push(instr.Y)
	l.emit(&symex.Node{
		Kind:    symex.NodeBinary,
		Loc:     l.loc(instr.Pos()),
		Op:      op,
		Text:    l.text(instr),
		ArgText: []string{l.name(instr.X), l.name(instr.Y)},
	})
	l.store(instr, instr.Pos())
}

func (l *lowerer) unOp(instr *ssa.UnOp) {
	switch instr.Op {
	case token.NOT:
		l.unary(instr, symex.OpNot)
	case token.SUB:
		l.unary(instr, symex.OpNeg)
	case token.MUL:
		l.push(instr.X)
		l.emit(&symex.Node{Kind: symex.NodeField, Loc: l.loc(instr.Pos()), Symbol: l.function.deref, ReceiverText: l.name(instr.X)})
		l.store(instr, instr.Pos())
	case token.XOR:
		l.fresh(instr, symex.LiteralNumber, instr.X)
	default:
		l.fresh(instr, symex.LiteralUnknown, instr.X)
	}
}

func (l *lowerer) unary(instr *ssa.UnOp, op symex.Operator) {
	l.push(instr.X)
	l.emit(&symex.Node{Kind: symex.NodeUnary, Loc: l.loc(instr.Pos()), Op: op, Text: l.text(instr)})
	l.store(instr, instr.Pos())
}

// call emits an invocation. The register v receives the result, if any.
func (l *lowerer) call(common *ssa.CallCommon, v ssa.Value, pos token.Pos) {
	void := common.Signature().Results().Len() == 0

	if b, ok := common.Value.(*ssa.Builtin); ok {
		for _, arg := range common.Args {
			l.push(arg)
			l.emit(&symex.Node{Kind: symex.NodePop})
		}
		if !void {
			kind := symex.LiteralUnknown
			switch b.Name() {
			case "len", "cap", "copy":
				kind = symex.LiteralNumber
			}
			l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: kind, Loc: l.loc(pos)})
			l.store(v, pos)
		}
		return
	}

	n := &symex.Node{Kind: symex.NodeInvoke, Loc: l.loc(pos), Args: len(common.Args), Void: void}
	switch {
	case common.IsInvoke():
		n.Receiver, n.ReceiverText = true, l.name(common.Value)
		n.Callee = l.stub(common.Method.FullName(), common.Method.Name(), len(common.Args), void)
		l.push(common.Value)
	case common.StaticCallee() != nil:
		callee := common.StaticCallee()
		if f := l.methods[callee]; f != nil {
			n.Callee = f.method
		} else {
			n.Callee = l.stub(callee.String(), callee.Name(), len(common.Args), void)
		}
	default:
		// Calls of function values dereference the function.
		n.Receiver, n.ReceiverText = true, l.name(common.Value)
		n.Text = l.name(common.Value)
		l.push(common.Value)
	}

	for _, arg := range common.Args {
		l.push(arg)
		n.ArgText = append(n.ArgText, l.name(arg))
	}
	l.emit(n)
	if !void {
		l.store(v, pos)
	}
}

// discard evaluates the operands of a call that is not modeled.
func (l *lowerer) discard(common *ssa.CallCommon) {
	values := append([]ssa.Value{common.Value}, common.Args...)
	for _, v := range values {
		l.push(v)
		l.emit(&symex.Node{Kind: symex.NodePop})
	}
}

func (l *lowerer) ret(instr *ssa.Return) {
	n := &symex.Node{Kind: symex.NodeReturn, Loc: l.loc(instr.Pos())}
	switch len(instr.Results) {
	case 0:
		n.Void = true
	case 1:
		l.push(instr.Results[0])
	default:
		// Multiple results are returned as a single unknown tuple.
		for _, v := range instr.Results {
			l.push(v)
			l.emit(&symex.Node{Kind: symex.NodePop})
		}
		l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralUnknown})
	}
	l.cur.Return(n)
}

// edge returns the block to continue to when leaving from for to. If to
// has phis, an edge block assigning them is inserted.
func (l *lowerer) edge(from, to *ssa.BasicBlock) *symex.Block {
	var phis []*ssa.Phi
	for _, instr := range to.Instrs {
		if phi, ok := instr.(*ssa.Phi); ok {
			phis = append(phis, phi)
		}
	}
	if len(phis) == 0 {
		return l.blocks[to]
	}

	// Branches of an If may both target the same block.
	key := [2]*ssa.BasicBlock{from, to}
	nth := l.edges[key]
	l.edges[key]++
	index := -1
	for i, pred := range to.Preds {
		if pred == from {
			if nth == 0 {
				index = i
				break
			}
			nth--
		}
	}
	if index < 0 {
		panic(fmt.Sprintf("%s is not a predecessor of %s", from, to))
	}

	blk := l.b.NewBlock()
	for _, phi := range phis {
		v := phi.Edges[index]
		l.pushTo(blk, v)
	}
	for i := len(phis) - 1; i >= 0; i-- {
		blk.Add(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(phis[i].Pos()), Symbol: l.symbol(phis[i])})
	}
	blk.Jump(l.blocks[to])
	return blk
}

// pushTo emits the push of v into blk rather than the current block.
func (l *lowerer) pushTo(blk *symex.Block, v ssa.Value) {
	cur := l.cur
	l.cur = blk
	l.push(v)
	l.cur = cur
}

// text returns the source-like text of v used in messages.
func (l *lowerer) text(v ssa.Value) string {
	switch v := v.(type) {
	case *ssa.BinOp:
		return fmt.Sprintf("%s %s %s", l.name(v.X), v.Op, l.name(v.Y))
	case *ssa.UnOp:
		return fmt.Sprintf("%s%s", v.Op, l.name(v.X))
	}
	return l.name(v)
}
