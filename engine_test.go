package symex_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/java"
	"github.com/benbjohnson/symex/program"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// MustParseJava parses a Java compilation unit. Fatal on error.
func MustParseJava(tb testing.TB, src string) *program.Program {
	tb.Helper()
	prog, err := java.Parse(context.Background(), "Test.java", []byte(src))
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// MustFindMethod returns the only method named name. Fatal if missing.
func MustFindMethod(tb testing.TB, prog *program.Program, name string) *program.Method {
	tb.Helper()
	for _, m := range prog.Methods() {
		if m.Name() == name {
			return m.(*program.Method)
		}
	}
	tb.Fatalf("method not found: %s", name)
	return nil
}

// NewEngine returns an engine over prog. A nil config uses the defaults.
func NewEngine(tb testing.TB, prog *program.Program, config *symex.Config, opts ...symex.Option) *symex.Engine {
	tb.Helper()
	e, err := symex.NewEngine(config, prog.Types, opts...)
	if err != nil {
		tb.Fatal(err)
	}
	return e
}

// MustExplore explores a method of prog. Fatal on error.
func MustExplore(tb testing.TB, prog *program.Program, name string, config *symex.Config) *symex.ExplorationResult {
	tb.Helper()
	result, err := NewEngine(tb, prog, config).Explore(context.Background(), MustFindMethod(tb, prog, name))
	if err != nil {
		tb.Fatal(err)
	}
	return result
}

func TestNewEngine(t *testing.T) {
	config := symex.NewDefaultConfig()
	config.MaxSteps = 0
	_, err := symex.NewEngine(config, program.NewTypeHierarchy())
	require.ErrorIs(t, err, symex.ErrInvalidConfig)
}

func TestEngine_Explore(t *testing.T) {
	t.Run("Fork", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	int f(Object a) {
		if (a == null) {
			return 0;
		}
		return 1;
	}
	int g(@Nonnull Object a) {
		if (a == null) {
			return 0;
		}
		return 1;
	}
}`)
		result := MustExplore(t, prog, "f", nil)
		require.Len(t, result.Exits, 2)
		require.False(t, result.Aborted)

		result = MustExplore(t, prog, "g", nil)
		require.Len(t, result.Exits, 1)
	})

	t.Run("Join", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	void f(Object a) {
		if (a == null) {
			a = new Object();
		}
		a.toString();
	}
}`)
		result := MustExplore(t, prog, "f", nil)
		require.Len(t, result.Exits, 2)
		require.Len(t, result.Conditions, 1)
	})

	t.Run("Loop", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	int f(int x) {
		int n = 0;
		while (x > 0) {
			x = x - 1;
			n++;
		}
		return n;
	}
}`)
		result := MustExplore(t, prog, "f", nil)
		require.False(t, result.Aborted)
		require.NotEmpty(t, result.Exits)
		require.NotZero(t, result.Dropped+result.Merged)
	})

	t.Run("Budget", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	int f(int x) {
		int n = 0;
		while (x > 0) {
			x = x - 1;
			n++;
		}
		return n;
	}
}`)
		config := symex.NewDefaultConfig()
		config.MaxSteps = 5
		result := MustExplore(t, prog, "f", config)
		require.True(t, result.Aborted)
		require.Equal(t, 5, result.Steps)
	})

	t.Run("StartingStates", func(t *testing.T) {
		params := make([]string, 24)
		for i := range params {
			params[i] = fmt.Sprintf("@Nullable Object p%d", i)
		}
		prog := MustParseJava(t, fmt.Sprintf(`class A {
	void f(@Nullable Object a, @Nullable Object b) {}
	void g(%s) {}
}`, strings.Join(params, ", ")))

		require.Equal(t, 4, MustExplore(t, prog, "f", nil).StartingStates)
		require.Equal(t, 1, MustExplore(t, prog, "g", nil).StartingStates)
	})

	t.Run("Handler", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	int f(Object a) {
		try {
			a.toString();
		} catch (NullPointerException e) {
			return 0;
		}
		return 1;
	}
}`)
		result := MustExplore(t, prog, "f", nil)
		var got []string
		for _, s := range result.Exits {
			got = append(got, string(s.Status()))
		}
		if exp := []string{"returned", "returned"}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}
	})

	t.Run("Imprecise", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	Object f(Object a) {
		Runnable r = () -> {};
		return a;
	}
}`)
		require.True(t, MustExplore(t, prog, "f", nil).Imprecise)
	})

	// Every searcher reaches the same exits when no states merge.
	t.Run("Searcher", func(t *testing.T) {
		prog := MustParseJava(t, `class A {
	int f(Object a, Object b) {
		int n = 0;
		if (a == null) {
			n = 1;
		}
		if (b == null) {
			return n;
		}
		return 2;
	}
}`)
		for _, name := range []string{"dfs", "bfs", "random"} {
			t.Run(name, func(t *testing.T) {
				config := symex.NewDefaultConfig()
				config.Searcher = name
				config.Seed = 7
				result := MustExplore(t, prog, "f", config)
				require.False(t, result.Aborted)
				require.Len(t, result.Exits, 4)
				require.Len(t, result.Conditions, 2)
				for _, out := range result.Conditions {
					require.True(t, out.True && out.False)
				}
			})
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		prog := MustParseJava(t, `class A { void f() {} }`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewEngine(t, prog, nil).Explore(ctx, MustFindMethod(t, prog, "f"))
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestEngine_Yields(t *testing.T) {
	prog := MustParseJava(t, `class A {
	Object id(Object x) {
		return x;
	}
	void deref(Object x) {
		x.toString();
	}
	Object either(boolean b) {
		if (b) {
			return null;
		}
		return new Object();
	}
	void fail(Object x) {
		throw new IllegalStateException();
	}
	int loop(int n) {
		return loop(n);
	}
}`)
	e := NewEngine(t, prog, nil)
	ctx := context.Background()

	t.Run("Identity", func(t *testing.T) {
		yields := e.Yields(ctx, MustFindMethod(t, prog, "id"))
		require.Len(t, yields, 1)
		require.Equal(t, 0, yields[0].ResultParam)
		require.False(t, yields[0].Exceptional)
	})

	t.Run("Dereference", func(t *testing.T) {
		yields := e.Yields(ctx, MustFindMethod(t, prog, "deref"))
		var got []string
		var exceptional *symex.MethodYield
		for _, y := range yields {
			got = append(got, y.String())
			if y.Exceptional {
				exceptional = y
			}
		}
		require.ElementsMatch(t, []string{
			"({not null}) -> {}",
			"({null}) -> throws java.lang.NullPointerException cause=#0",
		}, got)

		require.NotNil(t, exceptional)
		require.NotEmpty(t, exceptional.Flow)
		require.Equal(t, "'x' is dereferenced.", exceptional.Flow[len(exceptional.Flow)-1].Message)
	})

	t.Run("Result", func(t *testing.T) {
		yields := e.Yields(ctx, MustFindMethod(t, prog, "either"))
		require.Len(t, yields, 2)

		var nullness []symex.ObjectConstraint
		for _, y := range yields {
			nullness = append(nullness, y.Result.Nullness)
		}
		require.ElementsMatch(t, []symex.ObjectConstraint{symex.Null, symex.NotNull}, nullness)
	})

	t.Run("Throw", func(t *testing.T) {
		yields := e.Yields(ctx, MustFindMethod(t, prog, "fail"))
		require.Len(t, yields, 1)
		require.True(t, yields[0].Exceptional)
		require.Equal(t, "java.lang.IllegalStateException", yields[0].Thrown.Name())
		require.Equal(t, -1, yields[0].CauseParam)
	})

	// A method calling itself sees no behavior for the recursive call.
	t.Run("Recursion", func(t *testing.T) {
		yields := e.Yields(ctx, MustFindMethod(t, prog, "loop"))
		require.Len(t, yields, 1)
		require.False(t, yields[0].Unknown)
	})

	hits, misses := e.BehaviorCache().Stats()
	require.Equal(t, 5, misses)
	require.Zero(t, hits)

	t.Run("MaxYields", func(t *testing.T) {
		config := symex.NewDefaultConfig()
		config.MaxYields = 1
		yields := NewEngine(t, prog, config).Yields(ctx, MustFindMethod(t, prog, "either"))
		require.Len(t, yields, 1)
		require.True(t, yields[0].Unknown)
	})
}

func TestEngine_Analyze(t *testing.T) {
	prog := MustParseJava(t, `class A {
	void a() { b(); }
	void b() { c(); }
	void c() { b(); }
	void d() {}
}`)

	var listener recorder
	config := symex.NewDefaultConfig()
	config.Parallelism = 2
	e := NewEngine(t, prog, config, symex.WithListeners(&listener))
	report, err := e.Analyze(context.Background(), prog.Methods())
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Equal(t, 4, report.Stats.Methods)
	require.Equal(t, 4, report.Stats.Explored)
	require.Zero(t, report.Stats.Failed)
	require.Equal(t, 4, report.Stats.Behaviors)
	require.Empty(t, report.Issues)
	require.ElementsMatch(t, []string{"A.a()", "A.b()", "A.c()", "A.d()"}, listener.explored())
}

// A body violating an engine invariant fails alone and leaves an unknown
// behavior in the cache.
func TestEngine_Analyze_Invariant(t *testing.T) {
	prog, err := program.Parse("broken.yaml", []byte(`methods:
  - owner: A
    name: broken
    void: true
    blocks:
      - id: entry
        nodes:
          - {kind: store, symbol: x, line: 2}
        terminator: {kind: return, void: true, line: 3}
  - owner: A
    name: fine
    void: true
    blocks:
      - id: entry
        terminator: {kind: return, void: true, line: 6}
`))
	require.NoError(t, err)
	broken := MustFindMethod(t, prog, "broken")

	e := NewEngine(t, prog, nil)
	report, err := e.Analyze(context.Background(), prog.Methods())
	require.NoError(t, err)
	require.Equal(t, 2, report.Stats.Methods)
	require.Equal(t, 1, report.Stats.Explored)
	require.Equal(t, 1, report.Stats.Failed)

	yields, ok := e.BehaviorCache().Behavior(broken)
	require.True(t, ok)
	require.Len(t, yields, 1)
	require.True(t, yields[0].Unknown)

	_, err = e.Explore(context.Background(), broken)
	require.ErrorIs(t, err, symex.ErrInvariant)
}

// recorder records the methods it sees explored.
type recorder struct {
	symex.NopListener
	mu      sync.Mutex
	methods []string
}

func (r *recorder) OnMethodEntry(ctx *symex.CheckContext) {}

func (r *recorder) OnMethodExplored(ctx *symex.CheckContext, result *symex.ExplorationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = append(r.methods, ctx.Method().Signature())
}

func (r *recorder) explored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.methods...)
}
