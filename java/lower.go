package java

import (
	"fmt"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	sitter "github.com/smacker/go-tree-sitter"
)

// lowerer builds the control flow graph of a single method body.
type lowerer struct {
	*unit
	cls    *class
	method *program.Method

	b   *symex.GraphBuilder
	cur *symex.Block // nil after a jump until the next statement

	scopes   []map[string]*local
	targets  []*target
	handlers []symex.Handler // innermost first
	label    string          // pending statement label
	err      error
}

// local is a local variable with its declared type.
type local struct {
	v   *program.Variable
	typ string
}

// target is the destination of break and continue statements.
type target struct {
	label string
	brk   *symex.Block
	cont  *symex.Block // nil for switch statements and labeled blocks
	block bool         // labeled block, only left by labeled breaks
}

func (u *unit) lowerMethod(cls *class, md *methodDecl) (*symex.Graph, error) {
	body := md.node.ChildByFieldName("body")
	if body == nil || md.method.IsNative {
		return nil, nil
	}

	l := &lowerer{unit: u, cls: cls, method: md.method, b: symex.NewGraphBuilder()}
	l.push()
	for i, p := range md.method.Parameters {
		l.declare(p.Symbol.(*program.Variable), u.text(md.params[i].ChildByFieldName("type")))
	}

	entry := l.b.NewBlock()
	l.cur = entry
	l.block(body)
	if l.err != nil {
		return nil, l.err
	}
	if l.cur != nil && md.method.Void {
		l.cur.Return(&symex.Node{Kind: symex.NodeReturn, Loc: l.endLoc(body), Void: true})
	}
	return l.b.Build(entry)
}

func (l *lowerer) endLoc(n *sitter.Node) symex.Location {
	p := n.EndPoint()
	return symex.Location{File: l.filename, Line: int(p.Row) + 1, Column: int(p.Column)}
}

func (l *lowerer) fail(n *sitter.Node, format string, args ...any) {
	if l.err == nil {
		l.err = fmt.Errorf("%s: %s", l.loc(n), fmt.Sprintf(format, args...))
	}
}

func (l *lowerer) push() { l.scopes = append(l.scopes, make(map[string]*local)) }
func (l *lowerer) pop()  { l.scopes = l.scopes[:len(l.scopes)-1] }

func (l *lowerer) declare(v *program.Variable, typ string) {
	l.scopes[len(l.scopes)-1][v.Name()] = &local{v: v, typ: typ}
}

// lookup returns the local variable or field named name.
func (l *lowerer) lookup(name string) (*local, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if v := l.scopes[i][name]; v != nil {
			return v, true
		}
	}
	if f := l.cls.fields[name]; f != nil {
		return &local{v: f}, true
	}
	return nil, false
}

// newBlock allocates a block enclosed by the current handlers.
func (l *lowerer) newBlock() *symex.Block {
	blk := l.b.NewBlock()
	blk.Handlers = append([]symex.Handler(nil), l.handlers...)
	return blk
}

// ensure returns the current block, starting an unreachable one after a
// jump. Unreachable blocks are discarded when the graph is built.
func (l *lowerer) ensure() *symex.Block {
	if l.cur == nil {
		l.cur = l.newBlock()
	}
	return l.cur
}

func (l *lowerer) emit(n *symex.Node) {
	l.ensure().Add(n)
}

func (l *lowerer) jump(to *symex.Block) {
	if l.cur != nil {
		l.cur.Jump(to)
	}
	l.cur = nil
}

// start continues lowering in blk.
func (l *lowerer) start(blk *symex.Block) {
	l.jump(blk)
	l.cur = blk
}

func (l *lowerer) block(n *sitter.Node) {
	l.push()
	defer l.pop()
	for i := 0; i < int(n.NamedChildCount()); i++ {
		l.stmt(n.NamedChild(i))
	}
}

func (l *lowerer) stmt(n *sitter.Node) {
	if l.err != nil {
		return
	}

	label := l.label
	l.label = ""

	switch n.Type() {
	case "block":
		l.block(n)
	case "local_variable_declaration":
		l.localDecl(n)
	case "expression_statement":
		if n.NamedChildCount() > 0 {
			l.effect(n.NamedChild(0))
		}
	case "if_statement":
		l.ifStmt(n)
	case "while_statement":
		l.whileStmt(n, label)
	case "do_statement":
		l.doStmt(n, label)
	case "for_statement":
		l.forStmt(n, label)
	case "enhanced_for_statement":
		l.foreachStmt(n, label)
	case "return_statement":
		l.returnStmt(n)
	case "throw_statement":
		l.throwStmt(n)
	case "break_statement":
		l.breakStmt(n, false)
	case "continue_statement":
		l.breakStmt(n, true)
	case "try_statement":
		l.tryStmt(n, nil)
	case "try_with_resources_statement":
		l.tryStmt(n, n.ChildByFieldName("resources"))
	case "labeled_statement":
		l.labeledStmt(n)
	case "switch_expression", "switch_statement":
		l.switchStmt(n, label)
	case "synchronized_statement":
		l.synchronizedStmt(n)
	case "assert_statement":
		l.assertStmt(n)
	case "explicit_constructor_invocation":
		args := n.ChildByFieldName("arguments")
		l.args(args)
		l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: l.loc(n), Text: l.text(n), Args: int(args.NamedChildCount())})
		l.emit(&symex.Node{Kind: symex.NodePop})
	case "line_comment", "block_comment", "local_class_declaration", "class_declaration", "empty_statement", ";":
	default:
		if n.IsNamed() {
			l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: l.loc(n), Text: l.text(n)})
			l.emit(&symex.Node{Kind: symex.NodePop})
		}
	}
}

func (l *lowerer) localDecl(n *sitter.Node) {
	typ := l.text(n.ChildByFieldName("type"))
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		v := program.NewVariable(l.text(d.ChildByFieldName("name")))
		if value := d.ChildByFieldName("value"); value != nil {
			l.expr(value)
			l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(d), Symbol: v, Text: l.text(d)})
		}
		l.declare(v, typ)
	}
}

func (l *lowerer) ifStmt(n *sitter.Node) {
	then, join := l.newBlock(), l.newBlock()
	els := join
	alt := n.ChildByFieldName("alternative")
	if alt != nil {
		els = l.newBlock()
	}

	l.cond(n.ChildByFieldName("condition"), then, els)
	l.cur = then
	l.stmt(n.ChildByFieldName("consequence"))
	l.jump(join)
	if alt != nil {
		l.cur = els
		l.stmt(alt)
		l.jump(join)
	}
	l.cur = join
}

func (l *lowerer) whileStmt(n *sitter.Node, label string) {
	head, body, exit := l.newBlock(), l.newBlock(), l.newBlock()
	l.start(head)
	l.cond(n.ChildByFieldName("condition"), body, exit)

	l.loop(label, exit, head, func() {
		l.cur = body
		l.stmt(n.ChildByFieldName("body"))
		l.jump(head)
	})
	l.cur = exit
}

func (l *lowerer) doStmt(n *sitter.Node, label string) {
	body, test, exit := l.newBlock(), l.newBlock(), l.newBlock()
	l.start(body)
	l.loop(label, exit, test, func() {
		l.stmt(n.ChildByFieldName("body"))
		l.start(test)
	})
	l.cur = test
	l.cond(n.ChildByFieldName("condition"), body, exit)
	l.cur = exit
}

func (l *lowerer) forStmt(n *sitter.Node, label string) {
	l.push()
	defer l.pop()

	// Initializers and updates are told apart by the semicolons around the
	// condition. A local declaration carries its own semicolon.
	var inits, updates []*sitter.Node
	var section int
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch {
		case child.Type() == ";":
			section++
		case child.Type() == ")":
			section = 3
		case !child.IsNamed() || child.Type() == "line_comment" || child.Type() == "block_comment":
		case section == 0:
			inits = append(inits, child)
			if child.Type() == "local_variable_declaration" {
				section++
			}
		case section == 2:
			updates = append(updates, child)
		}
	}
	for _, init := range inits {
		if init.Type() == "local_variable_declaration" {
			l.localDecl(init)
		} else {
			l.effect(init)
		}
	}

	head, body, update, exit := l.newBlock(), l.newBlock(), l.newBlock(), l.newBlock()
	l.start(head)
	if c := n.ChildByFieldName("condition"); c != nil {
		l.cond(c, body, exit)
	} else {
		l.jump(body)
	}

	l.loop(label, exit, update, func() {
		l.cur = body
		l.stmt(n.ChildByFieldName("body"))
		l.start(update)
		for _, u := range updates {
			l.effect(u)
		}
		l.jump(head)
	})
	l.cur = exit
}

func (l *lowerer) foreachStmt(n *sitter.Node, label string) {
	l.push()
	defer l.pop()

	value := n.ChildByFieldName("value")
	l.expr(value)
	l.emit(&symex.Node{Kind: symex.NodeField, Loc: l.loc(value), Text: l.text(value), ReceiverText: l.text(value), NonNullResult: true})
	l.emit(&symex.Node{Kind: symex.NodePop})

	head, body, exit := l.newBlock(), l.newBlock(), l.newBlock()
	l.start(head)
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralBoolean})
	l.cur.Branch(&symex.Node{Kind: symex.NodeBranch, Loc: l.loc(n), Synthetic: true}, body, exit)

	v := program.NewVariable(l.text(n.ChildByFieldName("name")))
	l.declare(v, l.text(n.ChildByFieldName("type")))
	l.loop(label, exit, head, func() {
		l.cur = body
		l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralUnknown})
		l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(n), Symbol: v})
		l.stmt(n.ChildByFieldName("body"))
		l.jump(head)
	})
	l.cur = exit
}

func (l *lowerer) loop(label string, brk, cont *symex.Block, fn func()) {
	l.targets = append(l.targets, &target{label: label, brk: brk, cont: cont})
	fn()
	l.targets = l.targets[:len(l.targets)-1]
}

func (l *lowerer) labeledStmt(n *sitter.Node) {
	var label string
	var body *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "identifier" && label == "" {
			label = l.text(child)
		} else {
			body = child
		}
	}
	if body == nil {
		return
	}

	switch body.Type() {
	case "while_statement", "do_statement", "for_statement", "enhanced_for_statement", "switch_expression", "switch_statement":
		l.label = label
		l.stmt(body)
	default:
		exit := l.newBlock()
		l.targets = append(l.targets, &target{label: label, brk: exit, block: true})
		l.stmt(body)
		l.targets = l.targets[:len(l.targets)-1]
		l.start(exit)
	}
}

func (l *lowerer) breakStmt(n *sitter.Node, cont bool) {
	var label string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "identifier" {
			label = l.text(child)
		}
	}

	for i := len(l.targets) - 1; i >= 0; i-- {
		t := l.targets[i]
		if label != "" && t.label != label {
			continue
		} else if cont && t.cont == nil {
			continue
		} else if label == "" && t.block {
			continue
		}
		if cont {
			l.jump(t.cont)
		} else {
			l.jump(t.brk)
		}
		return
	}
	l.fail(n, "%s outside of loop", n.Type())
}

func (l *lowerer) returnStmt(n *sitter.Node) {
	ret := &symex.Node{Kind: symex.NodeReturn, Loc: l.loc(n), Text: l.text(n), Void: true}
	if n.NamedChildCount() > 0 {
		l.expr(n.NamedChild(0))
		ret.Void = false
	}
	l.ensure().Return(ret)
	l.cur = nil
}

func (l *lowerer) throwStmt(n *sitter.Node) {
	e := n.NamedChild(0)
	l.expr(e)
	l.ensure().Throw(&symex.Node{Kind: symex.NodeThrow, Loc: l.loc(n), Text: l.text(e), Type: l.staticType(e)})
	l.cur = nil
}

// staticType returns the type of a thrown expression when it is evident
// from the source, or nil.
func (l *lowerer) staticType(e *sitter.Node) symex.Type {
	switch e.Type() {
	case "parenthesized_expression":
		return l.staticType(e.NamedChild(0))
	case "object_creation_expression":
		return l.prog.Types.Declare(l.resolve(l.text(e.ChildByFieldName("type"))))
	case "cast_expression":
		return l.prog.Types.Declare(l.resolve(l.text(e.ChildByFieldName("type"))))
	case "identifier":
		if v, ok := l.lookup(l.text(e)); ok && v.typ != "" {
			return l.prog.Types.Declare(l.resolve(v.typ))
		}
	}
	return nil
}

// tryStmt lowers try statements. Finally blocks are inlined on the normal
// completion of the body and of each catch clause.
func (l *lowerer) tryStmt(n *sitter.Node, resources *sitter.Node) {
	var catches []*sitter.Node
	var finally *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		switch child := n.NamedChild(i); child.Type() {
		case "catch_clause":
			catches = append(catches, child)
		case "finally_clause":
			finally = child
		}
	}

	join := l.newBlock()
	outer := l.handlers

	// Handlers run outside of the try but inside enclosing ones.
	var handlers []symex.Handler
	blocks := make([]*symex.Block, len(catches))
	for i, c := range catches {
		blocks[i] = l.newBlock()
		handlers = append(handlers, symex.Handler{Block: blocks[i], Types: l.catchTypes(c)})
	}

	l.handlers = append(handlers, outer...)
	body := l.newBlock()
	l.start(body)
	l.push()
	if resources != nil {
		l.resources(resources)
	}
	l.block(n.ChildByFieldName("body"))
	l.pop()
	l.handlers = outer
	if finally != nil {
		l.finally(finally)
	}
	l.jump(join)

	for i, c := range catches {
		l.cur = blocks[i]
		l.push()
		param := c.ChildByFieldName("parameter")
		if param == nil {
			param = c.NamedChild(0)
		}
		v := program.NewVariable(l.text(param.ChildByFieldName("name")))
		l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(param), Symbol: v})
		if types := handlers[i].Types; len(types) == 1 {
			l.declare(v, types[0].Name())
		} else {
			l.declare(v, "")
		}
		l.block(c.ChildByFieldName("body"))
		l.pop()
		if finally != nil {
			l.finally(finally)
		}
		l.jump(join)
	}
	l.cur = join
}

func (l *lowerer) finally(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "block" {
			l.ensure()
			l.block(child)
		}
	}
}

func (l *lowerer) catchTypes(c *sitter.Node) []symex.Type {
	var types []symex.Type
	for i := 0; i < int(c.NamedChildCount()); i++ {
		param := c.NamedChild(i)
		if param.Type() != "catch_formal_parameter" {
			continue
		}
		for j := 0; j < int(param.NamedChildCount()); j++ {
			if ct := param.NamedChild(j); ct.Type() == "catch_type" {
				for _, name := range l.typeNames(ct) {
					types = append(types, l.prog.Types.Declare(name))
				}
			}
		}
	}
	return types
}

// resources declares the resources of a try-with-resources statement. Each
// resource is handed to the statement, which closes it on every path.
func (l *lowerer) resources(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		r := n.NamedChild(i)
		if r.Type() != "resource" {
			continue
		}

		var v *program.Variable
		if value := r.ChildByFieldName("value"); value != nil {
			v = program.NewVariable(l.text(r.ChildByFieldName("name")))
			l.expr(value)
			l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(r), Symbol: v, Text: l.text(r)})
			l.declare(v, l.text(r.ChildByFieldName("type")))
		} else if local, ok := l.lookup(l.text(r)); ok {
			v = local.v
		} else {
			continue
		}

		l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: l.loc(r), Symbol: v})
		l.emit(&symex.Node{
			Kind:    symex.NodeInvoke,
			Loc:     l.loc(r),
			Text:    l.text(r),
			Callee:  l.callee("", "<resource>", 1),
			Args:    1,
			ArgText: []string{v.Name()},
			Void:    true,
		})
	}
}

// switchStmt lowers a switch as a chain of unknown tests. Case bodies fall
// through to the next one unless they break.
func (l *lowerer) switchStmt(n *sitter.Node, label string) {
	l.expr(n.ChildByFieldName("condition"))
	l.emit(&symex.Node{Kind: symex.NodePop})

	body := n.ChildByFieldName("body")
	var groups []*sitter.Node
	dflt := -1
	if body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			g := body.NamedChild(i)
			if g.Type() != "switch_block_statement_group" && g.Type() != "switch_rule" {
				continue
			}
			for j := 0; j < int(g.NamedChildCount()); j++ {
				if c := g.NamedChild(j); c.Type() == "switch_label" && l.text(c) == "default" {
					dflt = len(groups)
				}
			}
			groups = append(groups, g)
		}
	}

	exit := l.newBlock()
	bodies := make([]*symex.Block, len(groups))
	for i := range groups {
		bodies[i] = l.newBlock()
	}

	for i := range groups {
		if i == dflt {
			continue
		}
		next := l.newBlock()
		l.emit(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralBoolean})
		l.ensure().Branch(&symex.Node{Kind: symex.NodeBranch, Loc: l.loc(groups[i]), Synthetic: true}, bodies[i], next)
		l.cur = next
	}
	if dflt >= 0 {
		l.jump(bodies[dflt])
	} else {
		l.jump(exit)
	}

	l.loop(label, exit, nil, func() {
		for i, g := range groups {
			l.start(bodies[i])
			l.push()
			for j := 0; j < int(g.NamedChildCount()); j++ {
				child := g.NamedChild(j)
				switch child.Type() {
				case "switch_label":
				case "expression_statement", "block", "throw_statement":
					l.stmt(child)
				default:
					if g.Type() == "switch_rule" {
						l.effect(child)
					} else {
						l.stmt(child)
					}
				}
			}
			l.pop()
			if g.Type() == "switch_rule" {
				l.jump(exit)
			}
		}
	})
	l.start(exit)
}

func (l *lowerer) synchronizedStmt(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		switch child := n.NamedChild(i); child.Type() {
		case "parenthesized_expression":
			l.expr(child)
			l.emit(&symex.Node{Kind: symex.NodeField, Loc: l.loc(child), ReceiverText: l.text(child.NamedChild(0)), NonNullResult: true})
			l.emit(&symex.Node{Kind: symex.NodePop})
		case "block":
			l.block(child)
		}
	}
}

func (l *lowerer) assertStmt(n *sitter.Node) {
	ok, fail := l.newBlock(), l.newBlock()
	l.cond(n.NamedChild(0), ok, fail)

	l.cur = fail
	typ := l.prog.Types.Declare("java.lang.AssertionError", "java.lang.Error")
	l.emit(&symex.Node{Kind: symex.NodeNew, Loc: l.loc(n), Type: typ})
	l.cur.Throw(&symex.Node{Kind: symex.NodeThrow, Loc: l.loc(n), Type: typ})
	l.cur = ok
}
