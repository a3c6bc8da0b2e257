package java

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	sitter "github.com/smacker/go-tree-sitter"
)

var binaryOps = map[string]symex.Operator{
	"==":  symex.OpEQ,
	"!=":  symex.OpNE,
	"<":   symex.OpLT,
	">=":  symex.OpGE,
	">":   symex.OpGT,
	"<=":  symex.OpLE,
	"+":   symex.OpAdd,
	"-":   symex.OpSub,
	"*":   symex.OpMul,
	"/":   symex.OpDiv,
	"%":   symex.OpRem,
	"&":   symex.OpAnd,
	"|":   symex.OpOr,
	"^":   symex.OpXor,
	"<<":  symex.OpShl,
	">>":  symex.OpShr,
	">>>": symex.OpShr,
}

func (l *lowerer) op(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	return ""
}

// effect lowers an expression evaluated for its side effects only.
func (l *lowerer) effect(n *sitter.Node) {
	switch n.Type() {
	case "parenthesized_expression":
		l.effect(n.NamedChild(0))
	case "assignment_expression":
		l.assign(n)
	case "update_expression":
		l.update(n, false)
	case "method_invocation":
		if !l.invoke(n) {
			return
		}
		l.emit(&symex.Node{Kind: symex.NodePop})
	default:
		l.expr(n)
		l.emit(&symex.Node{Kind: symex.NodePop})
	}
}

// expr lowers an expression that pushes exactly one value.
func (l *lowerer) expr(n *sitter.Node) {
	loc := l.loc(n)
	switch n.Type() {
	case "parenthesized_expression":
		l.expr(n.NamedChild(0))

	case "null_literal":
		l.literal(n, symex.LiteralNull)
	case "true":
		l.literal(n, symex.LiteralTrue)
	case "false":
		l.literal(n, symex.LiteralFalse)
	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal", "binary_integer_literal":
		l.literal(n, intLiteral(l.text(n)))
	case "decimal_floating_point_literal", "hex_floating_point_literal":
		l.literal(n, floatLiteral(l.text(n)))
	case "string_literal", "character_literal", "text_block", "class_literal", "this", "super":
		l.literal(n, symex.LiteralObject)

	case "identifier":
		name := l.text(n)
		if v, ok := l.lookup(name); ok {
			l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: loc, Symbol: v.v, Text: name})
		} else {
			// Class names used as qualifiers.
			l.literal(n, symex.LiteralObject)
		}

	case "field_access":
		l.fieldAccess(n)

	case "array_access":
		l.expr(n.ChildByFieldName("array"))
		l.expr(n.ChildByFieldName("index"))
		l.emit(&symex.Node{Kind: symex.NodePop})
		l.emit(&symex.Node{Kind: symex.NodeField, Loc: loc, Text: l.text(n), ReceiverText: l.text(n.ChildByFieldName("array"))})

	case "assignment_expression":
		v := l.assign(n)
		if v != nil {
			l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: loc, Symbol: v})
		} else {
			l.literal(n, symex.LiteralUnknown)
		}

	case "update_expression":
		l.update(n, true)

	case "method_invocation":
		if !l.invoke(n) {
			l.literal(n, symex.LiteralUnknown)
		}

	case "object_creation_expression":
		args := n.ChildByFieldName("arguments")
		l.args(args)
		l.emit(&symex.Node{
			Kind: symex.NodeNew,
			Loc:  loc,
			Text: l.text(n),
			Type: l.prog.Types.Declare(l.resolve(l.text(n.ChildByFieldName("type")))),
			Args: namedCount(args),
		})

	case "array_creation_expression", "array_initializer":
		l.emit(&symex.Node{Kind: symex.NodeNew, Loc: loc, Text: l.text(n)})

	case "binary_expression":
		l.binary(n)

	case "unary_expression":
		l.unary(n)

	case "ternary_expression":
		then, els, join := l.newBlock(), l.newBlock(), l.newBlock()
		l.cond(n.ChildByFieldName("condition"), then, els)
		l.cur = then
		l.expr(n.ChildByFieldName("consequence"))
		l.jump(join)
		l.cur = els
		l.expr(n.ChildByFieldName("alternative"))
		l.jump(join)
		l.cur = join

	case "cast_expression":
		l.expr(n.ChildByFieldName("value"))

	case "instanceof_expression":
		l.expr(n.ChildByFieldName("left"))
		l.emit(&symex.Node{Kind: symex.NodePop})
		l.literal(n, symex.LiteralBoolean)

	case "switch_expression":
		l.switchStmt(n, "")
		l.literal(n, symex.LiteralUnknown)

	default:
		// Lambdas, method references and anything else the engine cannot
		// reason about.
		l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: loc, Text: l.text(n)})
	}
}

func (l *lowerer) literal(n *sitter.Node, kind symex.LiteralKind) {
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Loc: l.loc(n), Text: l.text(n), Literal: kind})
}

func intLiteral(s string) symex.LiteralKind {
	s = strings.TrimRight(strings.ReplaceAll(s, "_", ""), "lL")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		if strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B") {
			v, err = strconv.ParseInt(s[2:], 2, 64)
		}
		if err != nil {
			return symex.LiteralNumber
		}
	}
	if v == 0 {
		return symex.LiteralZero
	}
	return symex.LiteralNonZero
}

func floatLiteral(s string) symex.LiteralKind {
	s = strings.TrimRight(strings.ReplaceAll(s, "_", ""), "fFdD")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return symex.LiteralNumber
	} else if v == 0 {
		return symex.LiteralZero
	}
	return symex.LiteralNonZero
}

func namedCount(n *sitter.Node) int {
	if n == nil {
		return 0
	}
	var count int
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if t := n.NamedChild(i).Type(); t != "line_comment" && t != "block_comment" {
			count++
		}
	}
	return count
}

// args pushes the arguments of an argument list and returns their text.
func (l *lowerer) args(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var text []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		arg := n.NamedChild(i)
		if t := arg.Type(); t == "line_comment" || t == "block_comment" {
			continue
		}
		l.expr(arg)
		text = append(text, l.text(arg))
	}
	return text
}

// fieldAccess lowers a read of obj.field. Fields of this are tracked in the
// environment, fields of other objects are fresh values after a dereference.
func (l *lowerer) fieldAccess(n *sitter.Node) {
	obj, field := n.ChildByFieldName("object"), l.text(n.ChildByFieldName("field"))
	if obj.Type() == "this" {
		if f := l.cls.fields[field]; f != nil {
			l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: l.loc(n), Symbol: f, Text: l.text(n)})
			return
		}
	}
	if l.isClassName(obj) {
		l.literal(n, symex.LiteralUnknown)
		return
	}

	l.expr(obj)
	l.emit(&symex.Node{
		Kind:         symex.NodeField,
		Loc:          l.loc(n.ChildByFieldName("field")),
		Text:         l.text(n),
		Symbol:       program.NewField(field),
		ReceiverText: l.text(obj),
	})
}

// isClassName returns true if n names a type rather than a value, such as
// the qualifier of a static call.
func (l *lowerer) isClassName(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier":
		name := l.text(n)
		if _, ok := l.lookup(name); ok {
			return false
		}
		r := []rune(name)
		return len(r) > 0 && unicode.IsUpper(r[0])
	case "field_access", "scoped_identifier":
		// Qualified names such as java.util.Objects.
		text := l.text(n)
		for _, part := range strings.Split(text, ".") {
			if _, ok := l.lookup(part); ok {
				return false
			}
		}
		last := text[strings.LastIndex(text, ".")+1:]
		r := []rune(last)
		return len(r) > 0 && unicode.IsUpper(r[0]) && !strings.ContainsAny(text, "()")
	}
	return false
}

// invoke lowers a method call and returns true if it pushes a result.
func (l *lowerer) invoke(n *sitter.Node) bool {
	name := l.text(n.ChildByFieldName("name"))
	obj := n.ChildByFieldName("object")
	argList := n.ChildByFieldName("arguments")
	arity := namedCount(argList)

	owner := ""
	receiver := false
	switch {
	case obj == nil, obj.Type() == "this", obj.Type() == "super":
		owner = l.cls.name
	case l.isClassName(obj):
		owner = l.text(obj)
		owner = owner[strings.LastIndex(owner, ".")+1:]
	default:
		receiver = true
		l.expr(obj)
	}

	argText := l.args(argList)
	if reflective[name] {
		args := arity
		if receiver {
			args++
		}
		l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: l.loc(n), Text: l.text(n), Args: args})
		return true
	}

	callee := l.callee(owner, name, arity)
	void := false
	if m, ok := callee.(*program.Method); ok {
		void = m.Void
	}
	node := &symex.Node{
		Kind:     symex.NodeInvoke,
		Loc:      l.loc(n),
		Text:     l.text(n),
		Callee:   callee,
		Args:     arity,
		Receiver: receiver,
		ArgText:  argText,
		Void:     void,
	}
	if receiver {
		node.ReceiverText = l.text(obj)
		node.Loc = l.loc(n.ChildByFieldName("name"))
	}
	l.emit(node)
	return !void
}

// assign lowers an assignment and returns the assigned local or field, or
// nil if the target is not tracked.
func (l *lowerer) assign(n *sitter.Node) *program.Variable {
	left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
	op := l.op(n)

	v := l.target(left)
	if v == nil {
		// Dereference the target object, then evaluate and drop the value.
		if left.Type() == "field_access" || left.Type() == "array_access" {
			l.expr(left)
			l.emit(&symex.Node{Kind: symex.NodePop})
		}
		l.expr(right)
		l.emit(&symex.Node{Kind: symex.NodePop})
		return nil
	}

	if op != "=" && op != "" {
		l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: l.loc(left), Symbol: v, Text: l.text(left)})
		l.expr(right)
		if bop, ok := binaryOps[strings.TrimSuffix(op, "=")]; ok {
			l.emit(&symex.Node{Kind: symex.NodeBinary, Loc: l.loc(n), Op: bop, Text: l.text(n), ArgText: []string{l.text(left), l.text(right)}})
		} else {
			l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: l.loc(n), Text: l.text(n), Args: 2})
		}
	} else {
		l.expr(right)
	}
	l.emit(&symex.Node{Kind: symex.NodeStore, Loc: l.loc(n), Symbol: v, Text: l.text(n)})
	return v
}

// target returns the variable assigned by an lvalue, or nil.
func (l *lowerer) target(n *sitter.Node) *program.Variable {
	switch n.Type() {
	case "parenthesized_expression":
		return l.target(n.NamedChild(0))
	case "identifier":
		if v, ok := l.lookup(l.text(n)); ok {
			return v.v
		}
	case "field_access":
		if n.ChildByFieldName("object").Type() == "this" {
			return l.cls.fields[l.text(n.ChildByFieldName("field"))]
		}
	}
	return nil
}

// update lowers ++ and -- on a variable.
func (l *lowerer) update(n *sitter.Node, value bool) {
	var operand *sitter.Node
	op := symex.OpAdd
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch {
		case child.IsNamed():
			operand = child
		case child.Type() == "--":
			op = symex.OpSub
		}
	}

	v := l.target(operand)
	if v == nil {
		l.expr(operand)
		if !value {
			l.emit(&symex.Node{Kind: symex.NodePop})
		}
		return
	}

	loc := l.loc(n)
	l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: loc, Symbol: v, Text: l.text(operand)})
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Loc: loc, Literal: symex.LiteralNonZero})
	l.emit(&symex.Node{Kind: symex.NodeBinary, Loc: loc, Op: op, Text: l.text(n)})
	l.emit(&symex.Node{Kind: symex.NodeStore, Loc: loc, Symbol: v, Text: l.text(n)})
	if value {
		l.emit(&symex.Node{Kind: symex.NodeLoad, Loc: loc, Symbol: v})
	}
}

func (l *lowerer) binary(n *sitter.Node) {
	op := l.op(n)
	if op == "&&" || op == "||" {
		l.boolean(n)
		return
	}

	left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
	l.expr(left)
	l.expr(right)

	bop, ok := binaryOps[op]
	if !ok {
		l.emit(&symex.Node{Kind: symex.NodeUnmodeled, Loc: l.loc(n), Text: l.text(n), Args: 2})
		return
	}
	l.emit(&symex.Node{
		Kind:    symex.NodeBinary,
		Loc:     l.loc(n),
		Op:      bop,
		Text:    l.text(n),
		ArgText: []string{l.text(left), l.text(right)},
	})
}

func (l *lowerer) unary(n *sitter.Node) {
	operand := n.ChildByFieldName("operand")
	switch l.op(n) {
	case "!":
		l.expr(operand)
		l.emit(&symex.Node{Kind: symex.NodeUnary, Loc: l.loc(n), Op: symex.OpNot, Text: l.text(n)})
	case "-":
		l.expr(operand)
		l.emit(&symex.Node{Kind: symex.NodeUnary, Loc: l.loc(n), Op: symex.OpNeg, Text: l.text(n)})
	case "+":
		l.expr(operand)
	default:
		l.expr(operand)
		l.emit(&symex.Node{Kind: symex.NodePop})
		l.literal(n, symex.LiteralNumber)
	}
}

// boolean lowers a short-circuit operator used as a value.
func (l *lowerer) boolean(n *sitter.Node) {
	then, els, join := l.newBlock(), l.newBlock(), l.newBlock()
	l.cond(n, then, els)
	l.cur = then
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Loc: l.loc(n), Literal: symex.LiteralTrue})
	l.jump(join)
	l.cur = els
	l.emit(&symex.Node{Kind: symex.NodeLiteral, Loc: l.loc(n), Literal: symex.LiteralFalse})
	l.jump(join)
	l.cur = join
}

// cond lowers a condition into branches to then and els. Short-circuit
// operators and negations become control flow.
func (l *lowerer) cond(n *sitter.Node, then, els *symex.Block) {
	switch n.Type() {
	case "parenthesized_expression":
		l.cond(n.NamedChild(0), then, els)
		return
	case "unary_expression":
		if l.op(n) == "!" {
			l.cond(n.ChildByFieldName("operand"), els, then)
			return
		}
	case "binary_expression":
		switch l.op(n) {
		case "&&":
			mid := l.newBlock()
			l.cond(n.ChildByFieldName("left"), mid, els)
			l.cur = mid
			l.cond(n.ChildByFieldName("right"), then, els)
			return
		case "||":
			mid := l.newBlock()
			l.cond(n.ChildByFieldName("left"), then, mid)
			l.cur = mid
			l.cond(n.ChildByFieldName("right"), then, els)
			return
		}
	}

	l.expr(n)
	l.ensure().Branch(&symex.Node{Kind: symex.NodeBranch, Loc: l.loc(n), Text: l.text(n)}, then, els)
	l.cur = nil
}
