package symex_test

import (
	"testing"

	"github.com/benbjohnson/symex"
)

func TestOperator(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		if got, exp := symex.OpGE.String(), ">="; got != exp {
			t.Fatalf("String()=%q, expected %q", got, exp)
		} else if got, exp := symex.Operator(100).String(), "Operator<100>"; got != exp {
			t.Fatalf("String()=%q, expected %q", got, exp)
		}
	})

	t.Run("Inverse", func(t *testing.T) {
		for op, exp := range map[symex.Operator]symex.Operator{
			symex.OpEQ: symex.OpNE,
			symex.OpNE: symex.OpEQ,
			symex.OpLT: symex.OpGE,
			symex.OpGE: symex.OpLT,
			symex.OpGT: symex.OpLE,
			symex.OpLE: symex.OpGT,
		} {
			if got := op.Inverse(); got != exp {
				t.Fatalf("%s.Inverse()=%s, expected %s", op, got, exp)
			}
		}
	})

	t.Run("ParseOperator", func(t *testing.T) {
		if op, ok := symex.ParseOperator("<<"); !ok || op != symex.OpShl {
			t.Fatalf("unexpected operator: %s", op)
		} else if _, ok := symex.ParseOperator("<=>"); ok {
			t.Fatal("expected parse failure")
		}
	})

	t.Run("Classes", func(t *testing.T) {
		if !symex.OpLT.IsRelational() || symex.OpAdd.IsRelational() {
			t.Fatal("unexpected relational classification")
		} else if !symex.OpRem.IsArithmetic() || symex.OpNot.IsArithmetic() {
			t.Fatal("unexpected arithmetic classification")
		} else if !symex.OpNeg.IsUnary() || symex.OpSub.IsUnary() {
			t.Fatal("unexpected unary classification")
		}
	})
}

func TestValueFactory(t *testing.T) {
	t.Run("NewValue", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()
		if a == b || a.ID() == b.ID() {
			t.Fatal("expected distinct values")
		} else if a.IsPredefined() || !symex.NullValue.IsPredefined() {
			t.Fatal("unexpected predefined classification")
		}
	})

	t.Run("Relational", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()

		v := f.Relational(symex.OpEQ, a, b)
		if v.Kind() != symex.RelationalValue {
			t.Fatalf("unexpected kind: %d", v.Kind())
		} else if f.Relational(symex.OpEQ, a, b) != v {
			t.Fatal("expected interned relation")
		} else if f.Relational(symex.OpEQ, b, a) == v {
			t.Fatal("expected operand order to matter")
		}
		if !v.References(a) || !v.References(b) || v.References(f.NewValue()) {
			t.Fatal("unexpected references")
		}
	})

	// GT and LE are stored as LT and GE with swapped operands.
	t.Run("Normalize", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()

		gt := f.Relational(symex.OpGT, a, b)
		if gt != f.Relational(symex.OpLT, b, a) {
			t.Fatal("expected a > b to be b < a")
		} else if gt.Op() != symex.OpLT || gt.Left() != b || gt.Right() != a {
			t.Fatalf("unexpected relation: %s", gt)
		}

		if le := f.Relational(symex.OpLE, a, b); le != f.Relational(symex.OpGE, b, a) {
			t.Fatal("expected a <= b to be b >= a")
		}
	})

	t.Run("Not", func(t *testing.T) {
		f := symex.NewValueFactory()
		v := f.NewValue()

		n := f.Not(v)
		if n.Kind() != symex.NotValue || n.Operand() != v {
			t.Fatalf("unexpected negation: %s", n)
		} else if f.Not(v) != n {
			t.Fatal("expected interned negation")
		} else if f.Not(n) != v {
			t.Fatal("expected double negation to cancel")
		}

		if f.Not(symex.TrueValue) != symex.FalseValue || f.Not(symex.FalseValue) != symex.TrueValue {
			t.Fatal("unexpected negation of boolean constants")
		}

		a, b := f.NewValue(), f.NewValue()
		if got, exp := f.Not(f.Relational(symex.OpEQ, a, b)), f.Relational(symex.OpNE, a, b); got != exp {
			t.Fatalf("Not()=%s, expected %s", got, exp)
		}
	})
}
