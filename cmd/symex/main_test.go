package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/checks"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// MustRun executes the command line and returns its output. Fatal on error.
func MustRun(tb testing.TB, args ...string) string {
	tb.Helper()
	var buf bytes.Buffer
	if err := run(context.Background(), args, &buf); err != nil {
		tb.Fatal(err)
	}
	return buf.String()
}

func TestAnalyze(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		out := MustRun(t, "analyze", "--checks", checks.NullDereferenceName, "testdata/A.java")
		require.Contains(t, out, "testdata/A.java:4")
		require.Contains(t, out, "'a' is nullable here.")
		require.Contains(t, out, "[null-dereference]")
		require.Contains(t, out, "1 issues, 2 methods, 2 explored")
	})

	t.Run("YAML", func(t *testing.T) {
		out := MustRun(t, "analyze", "--format", "yaml", "testdata/A.java")
		var report symex.Report
		require.NoError(t, yaml.Unmarshal([]byte(out), &report))
		require.Len(t, report.Issues, 1)
		require.Equal(t, 4, report.Issues[0].Location.Line)
		require.Equal(t, 2, report.Stats.Methods)
	})

	t.Run("Cache", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "behaviors")
		MustRun(t, "analyze", "--cache-out", filename, "testdata/A.java")
		out := MustRun(t, "analyze", "--cache-in", filename, "--cache-out", filename, "testdata/A.java")
		require.Contains(t, out, "1 issues")
	})

	t.Run("UnknownCheck", func(t *testing.T) {
		err := run(context.Background(), []string{"analyze", "--checks", "no-such-check", "testdata/A.java"}, &bytes.Buffer{})
		require.EqualError(t, err, "unknown checks: no-such-check")
	})

	t.Run("UnsupportedFile", func(t *testing.T) {
		err := run(context.Background(), []string{"analyze", "main.go"}, &bytes.Buffer{})
		require.EqualError(t, err, "main.go: unsupported file type")
	})
}

func TestDump(t *testing.T) {
	out := MustRun(t, "dump", "testdata/A.java")
	require.Contains(t, out, "A.f()")
	require.Contains(t, out, "A.g(int)")

	out = MustRun(t, "dump", "--yields", "testdata/A.java")
	require.Contains(t, out, "() -> throws java.lang.NullPointerException")
}

func TestIntersect(t *testing.T) {
	require.Equal(t, "true\n", MustRun(t, "intersect", "a+", "aaa"))
	require.Equal(t, "false\n", MustRun(t, "intersect", "a+", "b"))
	require.Equal(t, "true\n", MustRun(t, "intersect", "--partial", "ab", "abc"))
}
