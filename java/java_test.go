package java_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/java"
	"github.com/benbjohnson/symex/program"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// MustParse parses a single Java source. Fatal on error.
func MustParse(tb testing.TB, src string) *program.Program {
	tb.Helper()
	prog, err := java.Parse(context.Background(), "A.java", []byte(src))
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// nodes returns the kinds of element and terminator nodes of m in block order.
func nodes(m *program.Method) []string {
	var a []string
	for _, blk := range m.Graph.Blocks {
		for _, n := range blk.Elements {
			a = append(a, n.Kind.String())
		}
		if blk.Terminator != nil {
			a = append(a, blk.Terminator.Kind.String())
		}
	}
	return a
}

func TestParse(t *testing.T) {
	t.Run("Signatures", func(t *testing.T) {
		prog := MustParse(t, `package p;

class A {
	A() {}
	void f(Object a, int b) {}
	static int g() { return 0; }
}
`)
		if got, exp := prog.Signatures(), []string{"p.A.<init>()", "p.A.f(Object,int)", "p.A.g()"}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		_, err := java.Parse(context.Background(), "A.java", []byte("class A { void f( }"))
		if !errors.Is(err, java.ErrSyntax) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Annotations", func(t *testing.T) {
		prog := MustParse(t, `class A {
	@Nullable Object f(@Nullable Object a, @Nonnull Object b, Object c) { return a; }
	native void g();
}
`)
		f := prog.Find("A", "f", 3)
		require.Len(t, f, 1)
		if got, exp := f[0].ReturnNullness(), symex.Nullable; got != exp {
			t.Fatalf("ReturnNullness()=%s, expected %s", got, exp)
		}
		var got []symex.Nullness
		for _, p := range f[0].Params() {
			got = append(got, p.Nullness)
		}
		if exp := []symex.Nullness{symex.Nullable, symex.NonNull, symex.NullnessUnknown}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}

		g := prog.Find("A", "g", 0)
		require.Len(t, g, 1)
		require.True(t, g[0].Native())
		require.Nil(t, g[0].Body())
	})

	t.Run("Throws", func(t *testing.T) {
		prog := MustParse(t, `import java.io.IOException;

class A {
	void f() throws IOException {}
}
`)
		f := prog.Find("A", "f", 0)
		require.Len(t, f, 1)
		require.Len(t, f[0].Thrown(), 1)
		if got, exp := f[0].Thrown()[0].Name(), "java.io.IOException"; got != exp {
			t.Fatalf("Thrown()=%s, expected %s", got, exp)
		}
	})

	t.Run("Straight", func(t *testing.T) {
		prog := MustParse(t, `class A {
	void f() {
		Object a = null;
		a.toString();
	}
}
`)
		f := prog.Find("A", "f", 0)[0]
		if got, exp := nodes(f), []string{"literal", "store", "load", "invoke", "pop", "return"}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}

		invoke := f.Graph.Entry.Elements[3]
		require.True(t, invoke.Receiver)
		require.Equal(t, "a", invoke.ReceiverText)
		require.Equal(t, 4, invoke.Loc.Line)
	})

	t.Run("ShortCircuit", func(t *testing.T) {
		prog := MustParse(t, `class A {
	void f(Object a, Object b) {
		if (a != null && b != null) {
			a.toString();
		}
	}
}
`)
		f := prog.Find("A", "f", 2)[0]
		var branches int
		for _, blk := range f.Graph.Blocks {
			if blk.Terminator != nil && blk.Terminator.Kind == symex.NodeBranch {
				branches++
			}
		}
		require.Equal(t, 2, branches)
	})

	t.Run("Loop", func(t *testing.T) {
		prog := MustParse(t, `class A {
	int f(int n) {
		int sum = 0;
		for (int i = 0; i < n; i++) {
			if (i == 3) continue;
			sum += i;
		}
		return sum;
	}
}
`)
		f := prog.Find("A", "f", 1)[0]
		var loops int
		for _, blk := range f.Graph.Blocks {
			if blk.InLoop() {
				loops++
			}
		}
		require.NotZero(t, loops)
		require.False(t, f.Graph.Entry.InLoop())
	})

	t.Run("TryCatch", func(t *testing.T) {
		prog := MustParse(t, `class A {
	void f(Object a) {
		try {
			a.toString();
		} catch (NullPointerException | IllegalStateException e) {
			throw e;
		} finally {
			g();
		}
	}
	void g() {}
}
`)
		f := prog.Find("A", "f", 1)[0]
		var handlers []string
		for _, blk := range f.Graph.Blocks {
			for _, h := range blk.Handlers {
				for _, t := range h.Types {
					handlers = append(handlers, t.Name())
				}
				break
			}
			if len(handlers) > 0 {
				break
			}
		}
		if exp := []string{"java.lang.NullPointerException", "java.lang.IllegalStateException"}; !cmp.Equal(handlers, exp) {
			t.Fatal(cmp.Diff(exp, handlers))
		}
		require.Contains(t, prog.Dump(), "invoke A.g()")
	})

	t.Run("Reflection", func(t *testing.T) {
		prog := MustParse(t, `class A {
	Object f(Object a) throws Exception {
		return Class.forName("x").newInstance();
	}
}
`)
		f := prog.Find("A", "f", 1)[0]
		require.True(t, strings.Contains(strings.Join(nodes(f), " "), "unmodeled"))
	})
}

func TestParseSources(t *testing.T) {
	prog, err := java.ParseSources(context.Background(),
		java.Source{Filename: "A.java", Src: []byte("class A { void f() { B.g(); } }")},
		java.Source{Filename: "B.java", Src: []byte("class B { static void g() {} }")},
	)
	require.NoError(t, err)

	f := prog.Find("A", "f", 0)[0]
	invoke := f.Graph.Entry.Elements[0]
	require.Equal(t, symex.NodeInvoke, invoke.Kind)
	require.Equal(t, "B.g()", invoke.Callee.Signature())
	require.True(t, invoke.Void)
	require.False(t, invoke.Receiver)
}
