package symex_test

import (
	"strings"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/stretchr/testify/require"
)

func TestGraphBuilder_Build(t *testing.T) {
	t.Run("Loop", func(t *testing.T) {
		b := symex.NewGraphBuilder()
		entry, header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
		b.NewBlock() // unreachable

		entry.Jump(header)
		header.Add(&symex.Node{Kind: symex.NodeLiteral, Literal: symex.LiteralBoolean})
		header.Branch(&symex.Node{Kind: symex.NodeBranch}, body, exit)
		body.Jump(header)
		exit.Return(&symex.Node{Kind: symex.NodeReturn, Void: true})

		g, err := b.Build(entry)
		require.NoError(t, err)
		require.Len(t, g.Blocks, 4)
		require.Equal(t, entry, g.Entry)

		require.False(t, entry.InLoop())
		require.True(t, header.InLoop())
		require.True(t, body.InLoop())
		require.False(t, exit.InLoop())
		require.ElementsMatch(t, []*symex.Block{entry, body}, header.Predecessors)

		var buf strings.Builder
		g.Dump(&buf)
		require.Contains(t, buf.String(), "branch -> [B2 B3]")
	})

	t.Run("ErrTerminatorInBody", func(t *testing.T) {
		b := symex.NewGraphBuilder()
		blk := b.NewBlock()
		blk.Add(&symex.Node{Kind: symex.NodeJump})
		_, err := b.Build(blk)
		require.ErrorIs(t, err, symex.ErrInvalidGraph)
	})

	t.Run("ErrSuccessors", func(t *testing.T) {
		b := symex.NewGraphBuilder()
		blk, other := b.NewBlock(), b.NewBlock()
		blk.Successors = []*symex.Block{other, other}
		_, err := b.Build(blk)
		require.ErrorIs(t, err, symex.ErrInvalidGraph)
	})

	t.Run("Handler", func(t *testing.T) {
		b := symex.NewGraphBuilder()
		entry, handler := b.NewBlock(), b.NewBlock()
		entry.Catch(handler)
		g, err := b.Build(entry)
		require.NoError(t, err)
		require.Len(t, g.Blocks, 2)
	})
}

func TestParseNodeKind(t *testing.T) {
	for _, k := range []symex.NodeKind{symex.NodeLiteral, symex.NodeInvoke, symex.NodeUnmodeled, symex.NodeThrow} {
		if got, ok := symex.ParseNodeKind(k.String()); !ok || got != k {
			t.Fatalf("ParseNodeKind(%q)=%s", k, got)
		}
	}
	if _, ok := symex.ParseNodeKind("invalid"); ok {
		t.Fatal("expected invalid kind to be rejected")
	}
	require.True(t, symex.NodeReturn.IsTerminator())
	require.False(t, symex.NodePop.IsTerminator())
}

func TestHandler_Catches(t *testing.T) {
	prog := MustParseJava(t, `class A {}`)
	types := prog.Types
	npe := types.Lookup("java.lang.NullPointerException")
	ioe := types.Lookup("java.io.IOException")
	rte := types.Lookup("java.lang.RuntimeException")

	h := symex.Handler{Types: []symex.Type{rte}}
	require.True(t, h.Catches(types, npe))
	require.False(t, h.Catches(types, ioe))
	require.False(t, h.Catches(types, nil))
	require.True(t, symex.Handler{}.Catches(types, nil))
}
