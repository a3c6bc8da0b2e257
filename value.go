package symex

import (
	"fmt"
)

// Operator represents the operation performed by a node or a relational value.
type Operator int

// Operators.
const (
	relational_op_begin = Operator(iota)
	OpEQ
	OpNE
	OpLT
	OpGE
	OpGT
	OpLE
	relational_op_end

	arithmetic_op_begin
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	arithmetic_op_end

	unary_op_begin
	OpNot
	OpNeg
	unary_op_end
)

var operators = [...]string{
	OpEQ:  "==",
	OpNE:  "!=",
	OpLT:  "<",
	OpGE:  ">=",
	OpGT:  ">",
	OpLE:  "<=",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpRem: "%",
	OpAnd: "&",
	OpOr:  "|",
	OpXor: "^",
	OpShl: "<<",
	OpShr: ">>",
	OpNot: "!",
	OpNeg: "neg",
}

// String returns the string representation of the operator.
func (op Operator) String() string {
	if op >= 0 && op < Operator(len(operators)) && operators[op] != "" {
		return operators[op]
	}
	return fmt.Sprintf("Operator<%d>", op)
}

// IsRelational returns true if op compares two operands.
func (op Operator) IsRelational() bool {
	return op > relational_op_begin && op < relational_op_end
}

// IsArithmetic returns true if op is an arithmetic or bitwise operator.
func (op Operator) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsUnary returns true if op takes a single operand.
func (op Operator) IsUnary() bool {
	return op > unary_op_begin && op < unary_op_end
}

// Inverse returns the relational operator with the opposite truth value.
func (op Operator) Inverse() Operator {
	switch op {
	case OpEQ:
		return OpNE
	case OpNE:
		return OpEQ
	case OpLT:
		return OpGE
	case OpGE:
		return OpLT
	case OpGT:
		return OpLE
	case OpLE:
		return OpGT
	default:
		panic(fmt.Sprintf("symex.Operator.Inverse: not relational: %s", op))
	}
}

// ParseOperator returns the operator for its source representation.
func ParseOperator(s string) (Operator, bool) {
	for i, name := range operators {
		if name != "" && name == s {
			return Operator(i), true
		}
	}
	return 0, false
}

// ValueKind identifies the variant of a SymbolicValue.
type ValueKind int

// Symbolic value variants.
const (
	LeafValue = ValueKind(iota)
	RelationalValue
	NotValue
)

// SymbolicValue is an opaque, identity-compared token standing for an
// unknown runtime value. Relational values record a comparison between two
// other values and negations record the boolean inverse of their operand.
type SymbolicValue struct {
	id    int
	kind  ValueKind
	op    Operator
	left  *SymbolicValue
	right *SymbolicValue
	name  string
}

// Predefined values shared by every exploration.
var (
	NullValue  = &SymbolicValue{id: 1, name: "NULL"}
	TrueValue  = &SymbolicValue{id: 2, name: "TRUE"}
	FalseValue = &SymbolicValue{id: 3, name: "FALSE"}
)

const firstValueID = 4

// ID returns the identifier of v, unique within an exploration.
func (v *SymbolicValue) ID() int { return v.id }

// Kind returns the variant of v.
func (v *SymbolicValue) Kind() ValueKind { return v.kind }

// Op returns the relational operator. Only valid for relational values.
func (v *SymbolicValue) Op() Operator { return v.op }

// Left returns the left operand of a relational value.
func (v *SymbolicValue) Left() *SymbolicValue { return v.left }

// Right returns the right operand of a relational value.
func (v *SymbolicValue) Right() *SymbolicValue { return v.right }

// Operand returns the negated value of a NOT value.
func (v *SymbolicValue) Operand() *SymbolicValue { return v.left }

// IsPredefined returns true for the NULL, TRUE and FALSE singletons.
func (v *SymbolicValue) IsPredefined() bool { return v.id < firstValueID }

// String returns a debug representation of the value.
func (v *SymbolicValue) String() string {
	switch v.kind {
	case RelationalValue:
		return fmt.Sprintf("(%s %s %s)", v.left, v.op, v.right)
	case NotValue:
		return fmt.Sprintf("!%s", v.left)
	}
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("SV_%d", v.id)
}

// References returns true if v is w or if w is an operand of v, transitively.
func (v *SymbolicValue) References(w *SymbolicValue) bool {
	if v == w {
		return true
	}
	switch v.kind {
	case RelationalValue:
		return v.left.References(w) || v.right.References(w)
	case NotValue:
		return v.left.References(w)
	}
	return false
}

// ValueFactory allocates symbolic values for a single exploration. Relational
// and negated values are interned so that evaluating the same relation twice
// yields the same value.
type ValueFactory struct {
	nextID    int
	relations map[relationKey]*SymbolicValue
	negations map[*SymbolicValue]*SymbolicValue
}

type relationKey struct {
	op          Operator
	left, right *SymbolicValue
}

// NewValueFactory returns a new instance of ValueFactory.
func NewValueFactory() *ValueFactory {
	return &ValueFactory{
		nextID:    firstValueID,
		relations: make(map[relationKey]*SymbolicValue),
		negations: make(map[*SymbolicValue]*SymbolicValue),
	}
}

// NewValue returns a fresh leaf value.
func (f *ValueFactory) NewValue() *SymbolicValue {
	v := &SymbolicValue{id: f.nextID}
	f.nextID++
	return v
}

// Relational returns the value representing "left op right". GT and LE are
// normalized to LT and GE with their operands swapped.
func (f *ValueFactory) Relational(op Operator, left, right *SymbolicValue) *SymbolicValue {
	assert(op.IsRelational(), "relational value with non-relational operator: %s", op)
	switch op {
	case OpGT:
		op, left, right = OpLT, right, left
	case OpLE:
		op, left, right = OpGE, right, left
	}

	key := relationKey{op: op, left: left, right: right}
	if v := f.relations[key]; v != nil {
		return v
	}
	v := &SymbolicValue{id: f.nextID, kind: RelationalValue, op: op, left: left, right: right}
	f.nextID++
	f.relations[key] = v
	return v
}

// Not returns the boolean negation of v.
func (f *ValueFactory) Not(v *SymbolicValue) *SymbolicValue {
	switch {
	case v == TrueValue:
		return FalseValue
	case v == FalseValue:
		return TrueValue
	case v.kind == NotValue:
		return v.left
	case v.kind == RelationalValue:
		return f.Relational(v.op.Inverse(), v.left, v.right)
	}

	if n := f.negations[v]; n != nil {
		return n
	}
	n := &SymbolicValue{id: f.nextID, kind: NotValue, left: v}
	f.nextID++
	f.negations[v] = n
	return n
}
