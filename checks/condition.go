package checks

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/symex"
)

// ConditionAlwaysTrueOrFalse reports branch conditions that evaluated the
// same way on every explored path. Explorations that were cut short or that
// dropped paths at the visit bound are ignored.
type ConditionAlwaysTrueOrFalse struct {
	symex.NopListener
}

var _ symex.MethodListener = (*ConditionAlwaysTrueOrFalse)(nil)

// NewConditionAlwaysTrueOrFalse returns a new instance of ConditionAlwaysTrueOrFalse.
func NewConditionAlwaysTrueOrFalse() *ConditionAlwaysTrueOrFalse {
	return &ConditionAlwaysTrueOrFalse{}
}

func (c *ConditionAlwaysTrueOrFalse) OnMethodEntry(ctx *symex.CheckContext) {}

func (c *ConditionAlwaysTrueOrFalse) OnMethodExplored(ctx *symex.CheckContext, result *symex.ExplorationResult) {
	if result.Aborted || result.Imprecise || result.Dropped > 0 {
		return
	}

	nodes := make([]*symex.Node, 0, len(result.Conditions))
	for node := range result.Conditions {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Loc.Less(nodes[j].Loc) })

	for _, node := range nodes {
		out := result.Conditions[node]
		if node.Synthetic || out.Constant || out.True == out.False {
			continue
		}

		value := "true"
		if out.False {
			value = "false"
		}
		ctx.Report(ConditionAlwaysName, node.Loc, fmt.Sprintf("Change this condition so that it does not always evaluate to \"%s\".", value), nil)
	}
}
