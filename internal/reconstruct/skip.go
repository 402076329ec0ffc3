package reconstruct

import "normgate/internal/requirement"

// Shadowed reports whether a node no longer needs evaluation because an
// ancestor's outcome is already determined: a failed earlier sibling under an
// allOf, or a satisfied sibling under an anyOf. Progress views gray such
// nodes out before any skip state is persisted.
func Shadowed(nodeID string, nodes []requirement.Node, states []requirement.EvaluationState) bool {
	byID := make(map[string]*requirement.Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}
	stateByID := make(map[string]*requirement.EvaluationState, len(states))
	for i := range states {
		stateByID[states[i].NodeID] = &states[i]
	}

	chain := append(parentChain(nodeID, nodes), nodeID)
	for i := 0; i < len(chain)-1; i++ {
		parent := byID[chain[i]]
		if parent == nil || parent.Kind != requirement.KindComposite {
			continue
		}
		onPath := chain[i+1]

		switch parent.Operator {
		case requirement.OpAllOf:
			// A failed sibling shadows everything after it.
			for _, childID := range parent.Children {
				if childID == onPath {
					break
				}
				if completedWith(stateByID[childID], false) {
					return true
				}
			}
		case requirement.OpAnyOf:
			for _, childID := range parent.Children {
				if childID != onPath && completedWith(stateByID[childID], true) {
					return true
				}
			}
		}
	}
	return false
}

func completedWith(st *requirement.EvaluationState, decision bool) bool {
	return st != nil && st.Status == requirement.StatusCompleted &&
		st.Result != nil && st.Result.Decision == decision
}

// parentChain lists ancestors of nodeID from root to immediate parent.
func parentChain(nodeID string, nodes []requirement.Node) []string {
	for i := range nodes {
		for _, childID := range nodes[i].Children {
			if childID == nodeID {
				return append(parentChain(nodes[i].ID, nodes), nodes[i].ID)
			}
		}
	}
	return nil
}
