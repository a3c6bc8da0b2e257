package graphutil

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Levels groups the nodes of a call graph into strongly connected
// components and assigns each component a level such that every component
// only has edges to components of a strictly lower level. Level 0 holds the
// leaves. Components of a level are ordered by their smallest node and the
// nodes of a component are sorted in ascending order.
func Levels(g *Digraph) [][][]int {
	dg := simple.NewDirectedGraph()
	for v := 0; v < g.Order(); v++ {
		dg.AddNode(simple.Node(v))
	}
	for v := 0; v < g.Order(); v++ {
		for _, w := range g.Successors(v) {
			// Self edges panic in gonum and do not change the components.
			if v != w {
				dg.SetEdge(simple.Edge{F: simple.Node(v), T: simple.Node(w)})
			}
		}
	}

	components := topo.TarjanSCC(dg)
	component := make([]int, g.Order())
	for i, c := range components {
		for _, n := range c {
			component[n.ID()] = i
		}
	}

	// The condensation is acyclic so the recursion terminates.
	level := make([]int, len(components))
	done := make([]bool, len(components))
	var visit func(i int) int
	visit = func(i int) int {
		if done[i] {
			return level[i]
		}
		done[i] = true
		for _, n := range components[i] {
			for _, w := range g.Successors(int(n.ID())) {
				if j := component[w]; j != i {
					if l := visit(j) + 1; l > level[i] {
						level[i] = l
					}
				}
			}
		}
		return level[i]
	}

	var levels [][][]int
	for i, c := range components {
		l := visit(i)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		ids := make([]int, len(c))
		for j, n := range c {
			ids[j] = int(n.ID())
		}
		sort.Ints(ids)
		levels[l] = append(levels[l], ids)
	}
	for _, a := range levels {
		sort.Slice(a, func(i, j int) bool { return a[i][0] < a[j][0] })
	}
	return levels
}
