package gossa_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/checks"
	"github.com/benbjohnson/symex/gossa"
	"github.com/benbjohnson/symex/program"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// MustBuildProgram builds an SSA program at the given path and returns the
// functions of its packages. Fatal on error.
func MustBuildProgram(tb testing.TB, path string) (*ssa.Program, []*ssa.Function) {
	tb.Helper()

	// Load the initial set of packages.
	initial, err := packages.Load(&packages.Config{Mode: packages.LoadAllSyntax}, path)
	if err != nil {
		tb.Fatal(err)
	} else if packages.PrintErrors(initial) > 0 {
		tb.Fatal("packages contain errors")
	}

	// Build program in SSA form.
	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			tb.Fatalf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	return prog, gossa.Functions(prog, pkgs)
}

// MustLower lowers the package at path. Fatal on error.
func MustLower(tb testing.TB, path string) *program.Program {
	tb.Helper()
	prog, fns := MustBuildProgram(tb, path)
	p, err := gossa.Lower(prog, fns)
	if err != nil {
		tb.Fatal(err)
	}
	return p
}

// MustFindMethod returns the method with the given short name.
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

func TestLower(t *testing.T) {
	prog := MustLower(t, "./testdata/nilderef")

	var names []string
	for _, m := range prog.Methods() {
		names = append(names, m.Name())
	}
	require.ElementsMatch(t, []string{"Get", "callee", "caller", "count", "direct", "divide", "fail", "guarded"}, names)

	t.Run("Method", func(t *testing.T) {
		m := MustFindMethod(t, prog, "Get")
		require.Equal(t, "T", m.Owner)
		require.Len(t, m.Params(), 1)
		require.Equal(t, "t", m.Params()[0].Symbol.Name())
		require.False(t, m.Void)
		require.True(t, strings.HasSuffix(m.Signature(), "nilderef.T).Get"), m.Signature())
	})

	t.Run("Void", func(t *testing.T) {
		require.True(t, MustFindMethod(t, prog, "fail").Void)
	})

	t.Run("Loop", func(t *testing.T) {
		var loop bool
		for _, blk := range MustFindMethod(t, prog, "count").Body().Blocks {
			loop = loop || blk.InLoop()
		}
		require.True(t, loop)
	})

	t.Run("Panic", func(t *testing.T) {
		var thrown []string
		for _, blk := range MustFindMethod(t, prog, "fail").Body().Blocks {
			if n := blk.Terminator; n != nil && n.Kind == symex.NodeThrow {
				thrown = append(thrown, n.Type.Name())
			}
		}
		if exp := []string{gossa.PanicType}; !cmp.Equal(thrown, exp) {
			t.Fatal(cmp.Diff(exp, thrown))
		}
	})

	t.Run("Call", func(t *testing.T) {
		var callees []string
		for _, blk := range MustFindMethod(t, prog, "caller").Body().Blocks {
			for _, n := range blk.Elements {
				if n.Kind == symex.NodeInvoke {
					callees = append(callees, n.Callee.Name())
				}
			}
		}
		if exp := []string{"callee"}; !cmp.Equal(callees, exp) {
			t.Fatal(cmp.Diff(exp, callees))
		}
	})
}

func TestLower_Analyze(t *testing.T) {
	prog := MustLower(t, "./testdata/nilderef")

	config := symex.NewDefaultConfig()
	config.NullPointerException = gossa.NilDereferenceType
	listeners, _ := checks.ByName(checks.NullDereferenceName, checks.DivisionByZeroName)
	e, err := symex.NewEngine(config, prog.Types, symex.WithListeners(listeners...))
	require.NoError(t, err)

	report, err := e.Analyze(context.Background(), prog.Methods())
	require.NoError(t, err)
	require.Zero(t, report.Stats.Failed)
	require.Zero(t, report.Stats.Aborted)

	type summary struct {
		File  string
		Line  int
		Check string
	}
	var got []summary
	for _, issue := range report.Issues {
		got = append(got, summary{File: filepath.Base(issue.Location.File), Line: issue.Location.Line, Check: issue.Check})
	}
	if exp := []summary{
		{File: "nilderef.go", Line: 5, Check: checks.NullDereferenceName},
		{File: "nilderef.go", Line: 21, Check: checks.NullDereferenceName},
		{File: "nilderef.go", Line: 26, Check: checks.DivisionByZeroName},
	}; !cmp.Equal(got, exp) {
		t.Fatal(cmp.Diff(exp, got))
	}
}
