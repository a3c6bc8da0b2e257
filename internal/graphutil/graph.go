// Package graphutil adapts small integer-indexed graphs to the graph
// libraries used for loop detection and call-graph scheduling.
package graphutil

import (
	"sort"
)

// Digraph is a directed graph over the nodes 0..n-1. It implements the
// iterator interface of github.com/yourbasic/graph.
type Digraph struct {
	edges [][]int
}

// NewDigraph returns a graph with n nodes and no edges.
func NewDigraph(n int) *Digraph {
	return &Digraph{edges: make([][]int, n)}
}

// AddEdge adds a directed edge from v to w. Duplicate edges are ignored.
func (g *Digraph) AddEdge(v, w int) {
	for _, x := range g.edges[v] {
		if x == w {
			return
		}
	}
	g.edges[v] = append(g.edges[v], w)
}

// Successors returns the successors of v in insertion order.
func (g *Digraph) Successors(v int) []int {
	return g.edges[v]
}

// Order returns the number of nodes.
func (g *Digraph) Order() int {
	return len(g.edges)
}

// Visit calls do for every successor of v until do returns true.
func (g *Digraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	for _, w := range g.edges[v] {
		if do(w, 1) {
			return true
		}
	}
	return false
}

// Reachable returns the nodes reachable from root, including root, in
// ascending order.
func (g *Digraph) Reachable(root int) []int {
	seen := make([]bool, g.Order())
	stack := []int{root}
	seen[root] = true
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, w := range g.edges[v] {
			if !seen[w] {
				seen[w] = true
				stack = append(stack, w)
			}
		}
	}

	var a []int
	for v, ok := range seen {
		if ok {
			a = append(a, v)
		}
	}
	sort.Ints(a)
	return a
}
