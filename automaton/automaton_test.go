package automaton_test

import (
	"testing"

	"github.com/benbjohnson/symex/automaton"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	a, err := automaton.Compile("a+b")
	require.NoError(t, err)
	require.Equal(t, "a+b", a.String())
	require.NotZero(t, a.Len())

	_, err = automaton.Compile("a(b")
	require.ErrorIs(t, err, automaton.ErrPattern)
}

func TestIntersects(t *testing.T) {
	for _, tt := range []struct {
		a, b    string
		partial bool
		exp     bool
	}{
		{a: "abc", b: "abc", exp: true},
		{a: "abc", b: "abd", exp: false},
		{a: "[a-c]x", b: "bx|y", exp: true},
		{a: "a+", b: "a*b", exp: false},
		{a: "a*", b: "", exp: true},
		{a: "a+", b: "", exp: false},
		{a: "x.z", b: "xyz", exp: true},
		{a: "(?i)A", b: "a", exp: true},
		{a: "[0-9]+", b: "[a-z]+", exp: false},
		{a: "(ab)*c", b: "ababc", exp: true},
		{a: "ab", b: "abc", partial: true, exp: true},
		{a: "ab", b: "abc", exp: false},
		{a: "abc", b: "ab", partial: true, exp: false},
		{a: "a", b: "a[bc]+", partial: true, exp: true},
	} {
		a, b := automaton.MustCompile(tt.a), automaton.MustCompile(tt.b)
		if got := automaton.Intersects(a, b, tt.partial); got != tt.exp {
			t.Errorf("Intersects(%q, %q, %v)=%v, expected %v", tt.a, tt.b, tt.partial, got, tt.exp)
		}
	}
}
