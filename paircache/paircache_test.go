package paircache_test

import (
	"hash/maphash"
	"testing"

	"github.com/benbjohnson/symex/paircache"
	"github.com/stretchr/testify/require"
)

func TestCache_StartCalculation(t *testing.T) {
	const n = 4
	c := paircache.NewWithCapacity[int, string](n)

	for i := 0; i < n; i++ {
		p := paircache.NewOrderedPair(i, i+1, false)
		if _, ok := c.StartCalculation(p, "default"); ok {
			t.Fatalf("expected %s to be computed", p)
		}

		// Recursive lookups see the placeholder.
		if v, ok := c.StartCalculation(p, "other"); !ok || v != "default" {
			t.Fatalf("StartCalculation(%s)=%q, %v", p, v, ok)
		}

		if v := c.Save(p, "result"); v != "result" {
			t.Fatalf("Save()=%q", v)
		}
		if v, ok := c.StartCalculation(p, "default"); !ok || v != "result" {
			t.Fatalf("StartCalculation(%s)=%q, %v", p, v, ok)
		}
	}
	require.Equal(t, n, c.Len())

	// A full cache answers with the default and never records new pairs.
	p := paircache.NewOrderedPair(n, n+1, false)
	for i := 0; i < 2; i++ {
		v, ok := c.StartCalculation(p, "default")
		require.True(t, ok)
		require.Equal(t, "default", v)
	}
	c.Save(p, "result")
	v, _ := c.StartCalculation(p, "default")
	require.Equal(t, "default", v)
	require.Equal(t, n, c.Len())
}

func TestNew(t *testing.T) {
	c := paircache.New[string, bool]()
	require.Equal(t, paircache.MaxCacheSize, c.Cap())
	require.Zero(t, c.Len())
}

func TestOrderedPair(t *testing.T) {
	type node struct{ name string }
	a, b := &node{"a"}, &node{"b"}
	seed := maphash.MakeSeed()

	t.Run("Order", func(t *testing.T) {
		if paircache.NewOrderedPair(a, b, false) == paircache.NewOrderedPair(b, a, false) {
			t.Fatal("expected (a, b) != (b, a)")
		} else if paircache.NewOrderedPair(a, a, false) != paircache.NewOrderedPair(a, a, false) {
			t.Fatal("expected (a, a) == (a, a)")
		}
	})

	t.Run("Flag", func(t *testing.T) {
		if paircache.NewOrderedPair(a, a, true) == paircache.NewOrderedPair(a, a, false) {
			t.Fatal("expected flag to be part of the key")
		}
	})

	t.Run("Hash", func(t *testing.T) {
		p, q := paircache.NewOrderedPair(a, b, true), paircache.NewOrderedPair(a, b, true)
		require.Equal(t, p.Hash(seed), q.Hash(seed))
	})

	t.Run("Identity", func(t *testing.T) {
		other := &node{"a"}
		c := paircache.New[*node, int]()
		c.StartCalculation(paircache.NewOrderedPair(a, b, false), 0)
		c.Save(paircache.NewOrderedPair(a, b, false), 1)

		_, ok := c.StartCalculation(paircache.NewOrderedPair(other, b, false), 0)
		require.False(t, ok)
	})

	t.Run("String", func(t *testing.T) {
		require.Equal(t, "(1, 2)*", paircache.NewOrderedPair(1, 2, true).String())
		require.Equal(t, "(1, 2)", paircache.NewOrderedPair(1, 2, false).String())
	})
}
