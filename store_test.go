package symex_test

import (
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/stretchr/testify/require"
)

// MustLearn learns c on v. Fatal on contradiction.
func MustLearn(tb testing.TB, s *symex.ConstraintStore, v *symex.SymbolicValue, c symex.Constraint) *symex.ConstraintStore {
	tb.Helper()
	other, ok := s.Learn(v, c)
	if !ok {
		tb.Fatalf("unexpected contradiction: %s=%s", v, c)
	}
	return other
}

func TestConstraintStore_Learn(t *testing.T) {
	t.Run("Predefined", func(t *testing.T) {
		s := symex.NewConstraintStore()
		require.Equal(t, symex.Null, s.Nullness(symex.NullValue))
		require.Equal(t, symex.True, s.Boolean(symex.TrueValue))
		require.Equal(t, symex.NotNull, s.Nullness(symex.FalseValue))
	})

	t.Run("Contradiction", func(t *testing.T) {
		f := symex.NewValueFactory()
		v := f.NewValue()
		for _, pair := range [][2]symex.Constraint{
			{symex.Null, symex.NotNull},
			{symex.NotNull, symex.Null},
			{symex.True, symex.False},
			{symex.Zero, symex.NonZero},
			{symex.Null, symex.True},
		} {
			s := MustLearn(t, symex.NewConstraintStore(), v, pair[0])
			if _, ok := s.Learn(v, pair[1]); ok {
				t.Fatalf("expected contradiction: %s then %s", pair[0], pair[1])
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		f := symex.NewValueFactory()
		v := f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), v, symex.Null)
		MustLearn(t, s, v, symex.Null)
	})

	t.Run("Immutable", func(t *testing.T) {
		f := symex.NewValueFactory()
		v := f.NewValue()
		s := symex.NewConstraintStore()
		MustLearn(t, s, v, symex.Null)
		require.Equal(t, symex.NoObjectConstraint, s.Nullness(v))
	})

	// Boolean and numeric facts only hold for non-null values.
	t.Run("ImpliesNotNull", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), a, symex.False)
		s = MustLearn(t, s, b, symex.Zero)
		require.Equal(t, symex.NotNull, s.Nullness(a))
		require.Equal(t, symex.NotNull, s.Nullness(b))
	})

	t.Run("Equal", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), a, symex.Null)
		s = MustLearn(t, s, f.Relational(symex.OpEQ, a, b), symex.True)
		require.Equal(t, symex.Null, s.Nullness(b))
		require.Equal(t, b, s.SameValue(a))
		require.Equal(t, a, s.SameValue(b))

		// Later facts flow to the equal value.
		c, d := f.NewValue(), f.NewValue()
		s = MustLearn(t, s, f.Relational(symex.OpEQ, c, d), symex.True)
		s = MustLearn(t, s, c, symex.NonZero)
		require.Equal(t, symex.NonZero, s.Zeroness(d))
	})

	t.Run("NotEqual", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), a, symex.Null)
		s = MustLearn(t, s, f.Relational(symex.OpEQ, a, b), symex.False)
		require.Equal(t, symex.NotNull, s.Nullness(b))

		z := f.NewValue()
		s = MustLearn(t, s, z, symex.Zero)
		s = MustLearn(t, s, f.Relational(symex.OpNE, b, z), symex.True)
		require.Equal(t, symex.NonZero, s.Zeroness(b))
	})

	t.Run("NullEqualsNull", func(t *testing.T) {
		f := symex.NewValueFactory()
		s := symex.NewConstraintStore()
		rel := f.Relational(symex.OpEQ, symex.NullValue, symex.NullValue)
		MustLearn(t, s, rel, symex.True)
		if _, ok := s.Learn(rel, symex.False); ok {
			t.Fatal("expected null != null to contradict")
		}

		a, b := f.NewValue(), f.NewValue()
		s = MustLearn(t, s, a, symex.Null)
		s = MustLearn(t, s, b, symex.Null)
		if _, ok := s.Learn(f.Relational(symex.OpNE, a, b), symex.True); ok {
			t.Fatal("expected two null values to be equal")
		}
	})

	t.Run("LessThanSelf", func(t *testing.T) {
		f := symex.NewValueFactory()
		a := f.NewValue()
		if _, ok := symex.NewConstraintStore().Learn(f.Relational(symex.OpLT, a, a), symex.True); ok {
			t.Fatal("expected a < a to contradict")
		}
		MustLearn(t, symex.NewConstraintStore(), f.Relational(symex.OpGE, a, a), symex.True)
	})

	t.Run("Not", func(t *testing.T) {
		f := symex.NewValueFactory()
		v := f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), f.Not(v), symex.True)
		require.Equal(t, symex.False, s.Boolean(v))
	})

	t.Run("SameValueDisagrees", func(t *testing.T) {
		f := symex.NewValueFactory()
		a, b := f.NewValue(), f.NewValue()
		s := MustLearn(t, symex.NewConstraintStore(), a, symex.Null)
		s = MustLearn(t, s, b, symex.NotNull)
		if _, ok := s.Learn(f.Relational(symex.OpEQ, a, b), symex.True); ok {
			t.Fatal("expected contradiction")
		}
	})
}

func TestConstraintStore_Put(t *testing.T) {
	f := symex.NewValueFactory()
	v := f.NewValue()

	s := MustLearn(t, symex.NewConstraintStore(), v, symex.Null)
	other := s.Put(v, symex.NotNull)
	require.Equal(t, symex.NotNull, other.Nullness(v))
	require.Equal(t, symex.Null, s.Nullness(v))

	removed := other.Remove(v, symex.DomainNullness)
	require.Nil(t, removed.Get(v, symex.DomainNullness))
	require.True(t, removed.Equal(symex.NewConstraintStore()))
	require.False(t, other.Equal(removed))
}

func TestConstraintStore_ValueConstraints(t *testing.T) {
	f := symex.NewValueFactory()
	v := f.NewValue()
	s := MustLearn(t, symex.NewConstraintStore(), v, symex.NonZero)

	vc := s.ValueConstraints(v)
	require.Equal(t, symex.ValueConstraints{Nullness: symex.NotNull, Zero: symex.NonZero}, vc)
	require.Equal(t, "{not null, non-zero}", vc.String())
	require.True(t, s.ValueConstraints(f.NewValue()).IsEmpty())
}

func TestRegisterDomain(t *testing.T) {
	d := symex.RegisterDomain("test-domain")
	require.Equal(t, "test-domain", d.String())
	require.Equal(t, "nullness", symex.DomainNullness.String())
}
