package symex_test

import (
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/stretchr/testify/require"
)

func TestProgramState(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		s := symex.NewProgramState()
		require.Equal(t, symex.ExecutionStatusRunning, s.Status())
		require.Zero(t, s.StackLen())
		require.Nil(t, s.Parent())
		require.Nil(t, s.Exit())
		require.Empty(t, s.Bound())
	})

	t.Run("Equal", func(t *testing.T) {
		a, b := symex.NewProgramState(), symex.NewProgramState()
		require.True(t, a.Equal(b))
		require.Equal(t, a.Fingerprint(), b.Fingerprint())

		v := symex.NewValueFactory().NewValue()
		c, ok := a.WithConstraint(v, symex.Null)
		require.True(t, ok)
		require.False(t, a.Equal(c))
		require.NotEqual(t, a.Fingerprint(), c.Fingerprint())

		d, ok := b.WithConstraint(v, symex.Null)
		require.True(t, ok)
		require.True(t, c.Equal(d))
		require.Equal(t, c.Fingerprint(), d.Fingerprint())
	})

	t.Run("WithConstraint", func(t *testing.T) {
		s := symex.NewProgramState()
		v := symex.NewValueFactory().NewValue()

		other, ok := s.WithConstraint(v, symex.NonZero)
		require.True(t, ok)
		require.Equal(t, symex.NonZero, other.Constraint(v, symex.DomainZeroness))
		require.Nil(t, s.Constraint(v, symex.DomainZeroness))

		// Both the constraint and its consequence are recorded.
		require.Equal(t, []symex.Learned{
			{Value: v, Constraint: symex.NonZero},
			{Value: v, Constraint: symex.NotNull},
		}, other.Learned())

		_, ok = other.WithConstraint(v, symex.Zero)
		require.False(t, ok)
	})

	t.Run("WithPut", func(t *testing.T) {
		s := symex.NewProgramState()
		v := symex.NewValueFactory().NewValue()

		other, ok := s.WithConstraint(v, symex.Null)
		require.True(t, ok)
		other = other.WithPut(v, symex.NotNull)
		require.Equal(t, symex.NotNull, other.Store().Nullness(v))
	})
}
