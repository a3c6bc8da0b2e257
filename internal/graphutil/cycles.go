package graphutil

import (
	"github.com/yourbasic/graph"
)

// CyclicNodes reports, for every node of g, whether it lies on a cycle.
// A node with a self edge is cyclic.
func CyclicNodes(g *Digraph) []bool {
	cyclic := make([]bool, g.Order())
	for _, component := range graph.StrongComponents(g) {
		if len(component) > 1 {
			for _, v := range component {
				cyclic[v] = true
			}
			continue
		}
		v := component[0]
		for _, w := range g.Successors(v) {
			if w == v {
				cyclic[v] = true
			}
		}
	}
	return cyclic
}
