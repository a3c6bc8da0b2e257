package symex_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newMethod returns a method with an empty body.
func newMethod(name string, arity int) *program.Method {
	m := &program.Method{Owner: "A", Ident: name, Graph: &symex.Graph{}}
	for i := 0; i < arity; i++ {
		m.Parameters = append(m.Parameters, symex.Param{Symbol: program.NewVariable("p")})
	}
	return m
}

func TestBehaviorCache_Yields(t *testing.T) {
	t.Run("Once", func(t *testing.T) {
		c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
		m := newMethod("f", 1)

		var n atomic.Int32
		explore := func(ctx context.Context, m symex.Method) ([]*symex.MethodYield, error) {
			n.Add(1)
			time.Sleep(10 * time.Millisecond)
			return []*symex.MethodYield{{Params: make([]symex.ValueConstraints, 1), ResultParam: 0, CauseParam: -1}}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if yields := c.Yields(context.Background(), m, explore); len(yields) != 1 {
					t.Errorf("unexpected yields: %v", yields)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), n.Load())
		_, misses := c.Stats()
		require.Equal(t, 1, misses)
		require.Equal(t, 1, c.Len())
	})

	t.Run("Recursion", func(t *testing.T) {
		c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
		m := newMethod("f", 0)

		var nested []*symex.MethodYield
		var explore symex.ExploreFunc
		explore = func(ctx context.Context, m symex.Method) ([]*symex.MethodYield, error) {
			nested = c.Yields(ctx, m, explore)
			return []*symex.MethodYield{{ResultParam: -1, CauseParam: -1}}, nil
		}
		require.Len(t, c.Yields(context.Background(), m, explore), 1)
		require.Nil(t, nested)
	})

	t.Run("NestingDepth", func(t *testing.T) {
		c := symex.NewBehaviorCache(1, nil)
		f, g := newMethod("f", 0), newMethod("g", 0)

		var nested []*symex.MethodYield
		explore := func(ctx context.Context, m symex.Method) ([]*symex.MethodYield, error) {
			if m == symex.Method(f) {
				nested = c.Yields(ctx, g, func(context.Context, symex.Method) ([]*symex.MethodYield, error) {
					t.Fatal("unexpected exploration")
					return nil, nil
				})
			}
			return []*symex.MethodYield{{ResultParam: -1, CauseParam: -1}}, nil
		}
		c.Yields(context.Background(), f, explore)
		require.Nil(t, nested)

		_, ok := c.Behavior(g)
		require.False(t, ok)
	})

	t.Run("Native", func(t *testing.T) {
		c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
		m := &program.Method{Owner: "A", Ident: "n", IsNative: true}
		yields := c.Yields(context.Background(), m, nil)
		require.Len(t, yields, 1)
		require.True(t, yields[0].Unknown)
		require.Equal(t, "unknown", yields[0].String())
	})

	t.Run("NoBody", func(t *testing.T) {
		c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
		require.Nil(t, c.Yields(context.Background(), &program.Method{Ident: "x"}, nil))
		require.Zero(t, c.Len())
	})

	t.Run("ExploreError", func(t *testing.T) {
		c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
		yields := c.Yields(context.Background(), newMethod("f", 0), func(context.Context, symex.Method) ([]*symex.MethodYield, error) {
			return nil, errors.New("marker")
		})
		require.Len(t, yields, 1)
		require.True(t, yields[0].Unknown)
	})
}

func TestBehaviorCache_Invalidate(t *testing.T) {
	c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
	f, g := newMethod("f", 0), newMethod("g", 0)
	c.Put(f, []*symex.MethodYield{symex.UnknownYield()})
	c.Put(g, []*symex.MethodYield{symex.UnknownYield()})

	c.Invalidate(f)
	_, ok := c.Behavior(f)
	require.False(t, ok)
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Zero(t, c.Len())
}

func TestBehaviorCache_Export(t *testing.T) {
	types := program.NewTypeHierarchy()
	m := newMethod("deref", 1)

	c := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
	c.Put(m, []*symex.MethodYield{
		{
			Params:      []symex.ValueConstraints{{Nullness: symex.NotNull}},
			ResultParam: -1,
			CauseParam:  -1,
		},
		{
			Params:      []symex.ValueConstraints{{Nullness: symex.Null}},
			ResultParam: -1,
			Exceptional: true,
			Thrown:      types.Lookup(symex.DefaultNullPointerException),
			CauseParam:  0,
			Flow:        []symex.Step{{Location: symex.Location{File: "A.java", Line: 3}, Message: "'p' is dereferenced."}},
		},
	})

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf))

	other := symex.NewBehaviorCache(symex.DefaultMaxNestingDepth, nil)
	require.NoError(t, other.Import(&buf, types))

	yields, ok := other.Behavior(m)
	require.True(t, ok)

	var got []string
	for _, y := range yields {
		got = append(got, y.String())
	}
	if exp := []string{
		"({not null}) -> {}",
		"({null}) -> throws java.lang.NullPointerException cause=#0",
	}; !cmp.Equal(got, exp) {
		t.Fatal(cmp.Diff(exp, got))
	}
	require.Equal(t, "'p' is dereferenced.", yields[1].Flow[0].Message)

	t.Run("Corrupt", func(t *testing.T) {
		err := other.Import(bytes.NewReader([]byte("not a behavior stream")), types)
		require.Error(t, err)
	})
}
