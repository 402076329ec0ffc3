// Package reconstruct rebuilds full evaluation state from stored primitive
// outcomes, without invoking the judgment oracle. It applies the same
// combinator semantics as the live engine over three-valued decisions
// (true, false, unknown), so an interrupted run renders exactly as if the
// engine had been stopped at that point.
package reconstruct

import (
	"fmt"
	"strings"

	"normgate/internal/requirement"
	"normgate/internal/resultstore"
)

// Row is one stored leaf outcome keyed by expanded node id. A nil Confidence
// defaults to 0.5.
type Row struct {
	NodeID     string
	Decision   bool
	Confidence *float64
	Reasoning  string
	Citations  []string
}

// FromStore converts stored rows. Rows whose key is a shared-requirement key
// rather than a node id are dropped; they exist for cross-obligation caching
// and do not address a node of this tree.
func FromStore(rows []resultstore.Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if strings.Contains(r.NodeKey, "::") {
			continue
		}
		out = append(out, Row{
			NodeID:     r.NodeKey,
			Decision:   r.Decision,
			Confidence: r.Confidence,
			Reasoning:  r.Reasoning,
			Citations:  r.Citations,
		})
	}
	return out
}

// Reconstruction is the rebuilt view of one evaluation. RootDecision is nil
// while the stored outcomes are inconclusive. Skipped leaves count as
// resolved: they contribute no information but are settled for progress
// displays.
type Reconstruction struct {
	Nodes             []requirement.Node            `json:"nodes"`
	States            []requirement.EvaluationState `json:"states"`
	PrimitiveTotal    int                           `json:"primitiveTotal"`
	PrimitiveResolved int                           `json:"primitiveResolved"`
	RootDecision      *bool                         `json:"rootDecision"`
}

// Reconstruct expands the norm and rebuilds every node's state from the rows.
// Rows may be unordered and incomplete; a missing leaf outcome is unknown,
// never an error. Malformed trees are errors, exactly as in a live run.
func Reconstruct(pn *requirement.PrescriptiveNorm, shared []requirement.SharedPrimitive, rows []Row) (*Reconstruction, error) {
	if pn == nil {
		return nil, fmt.Errorf("prescriptive norm is required")
	}
	nodes, err := requirement.Expand(pn.Requirements.Nodes, shared)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", pn.ID, err)
	}

	r := &reconstructor{
		nodeMap: make(map[string]*requirement.Node, len(nodes)),
		rowByID: make(map[string]Row, len(rows)),
		states:  make(map[string]*requirement.EvaluationState, len(nodes)),
	}
	for i := range nodes {
		r.nodeMap[nodes[i].ID] = &nodes[i]
	}
	for _, row := range rows {
		r.rowByID[row.NodeID] = row
	}
	if _, ok := r.nodeMap[pn.Requirements.Root]; !ok {
		return nil, fmt.Errorf("root node not found: %s", pn.Requirements.Root)
	}

	root, err := r.eval(pn.Requirements.Root)
	if err != nil {
		return nil, err
	}

	out := &Reconstruction{
		Nodes:             nodes,
		PrimitiveResolved: r.resolved,
		RootDecision:      root.decision,
	}
	for i := range nodes {
		if nodes[i].Kind == requirement.KindPrimitive {
			out.PrimitiveTotal++
		}
		st := r.states[nodes[i].ID]
		if st == nil {
			st = &requirement.EvaluationState{NodeID: nodes[i].ID, Status: requirement.StatusPending}
		}
		out.States = append(out.States, *st)
	}
	return out, nil
}

// computation is a node's three-valued outcome; nil decision means unknown.
type computation struct {
	decision   *bool
	confidence *float64
}

// reconstructor is the fixpoint accumulator: states settle bottom-up and a
// node is computed at most once.
type reconstructor struct {
	nodeMap  map[string]*requirement.Node
	rowByID  map[string]Row
	states   map[string]*requirement.EvaluationState
	resolved int
}

func (r *reconstructor) eval(nodeID string) (computation, error) {
	if st, ok := r.states[nodeID]; ok {
		var comp computation
		if st.Result != nil {
			d := st.Result.Decision
			c := st.Result.Confidence
			comp.decision = &d
			comp.confidence = &c
		}
		return comp, nil
	}

	node, ok := r.nodeMap[nodeID]
	if !ok {
		return computation{}, fmt.Errorf("node not found during reconstruction: %s", nodeID)
	}

	if node.Kind == requirement.KindPrimitive {
		return r.evalPrimitive(node), nil
	}
	return r.evalComposite(node)
}

func (r *reconstructor) evalPrimitive(node *requirement.Node) computation {
	row, ok := r.rowByID[node.ID]
	if !ok {
		// Unresolved leaf: unknown, state stays pending.
		return computation{}
	}
	confidence := 0.5
	if row.Confidence != nil {
		confidence = *row.Confidence
	}
	r.states[node.ID] = &requirement.EvaluationState{
		NodeID: node.ID,
		Status: requirement.StatusCompleted,
		Result: &requirement.Result{
			NodeID:     node.ID,
			Decision:   row.Decision,
			Confidence: confidence,
			Reasoning:  row.Reasoning,
			Citations:  append([]string(nil), row.Citations...),
		},
	}
	r.resolved++
	return computation{decision: &row.Decision, confidence: &confidence}
}

func (r *reconstructor) evalComposite(node *requirement.Node) (computation, error) {
	if len(node.Children) == 0 {
		return computation{}, fmt.Errorf("composite node %s has no children", node.ID)
	}

	var childDecisions []*bool
	var childConfidences []float64
	add := func(comp computation) {
		childDecisions = append(childDecisions, comp.decision)
		if comp.confidence != nil {
			childConfidences = append(childConfidences, *comp.confidence)
		}
	}

	var decision *bool
	hasUnknown := false

	switch node.Operator {
	case requirement.OpAllOf:
		for idx, childID := range node.Children {
			comp, err := r.eval(childID)
			if err != nil {
				return computation{}, err
			}
			add(comp)
			if comp.decision != nil && !*comp.decision {
				decision = boolPtr(false)
				r.skipFrom(node.Children, idx+1)
				break
			}
			if comp.decision == nil {
				hasUnknown = true
			}
		}
		if decision == nil && !hasUnknown {
			decision = boolPtr(true)
		}
	case requirement.OpAnyOf:
		for idx, childID := range node.Children {
			comp, err := r.eval(childID)
			if err != nil {
				return computation{}, err
			}
			add(comp)
			if comp.decision != nil && *comp.decision {
				decision = boolPtr(true)
				r.skipFrom(node.Children, idx+1)
				break
			}
			if comp.decision == nil {
				hasUnknown = true
			}
		}
		if decision == nil && !hasUnknown {
			decision = boolPtr(false)
		}
	case requirement.OpNot:
		comp, err := r.eval(node.Children[0])
		if err != nil {
			return computation{}, err
		}
		add(comp)
		if comp.decision != nil {
			decision = boolPtr(!*comp.decision)
		}
	case requirement.OpXor:
		trueCount := 0
		for _, childID := range node.Children {
			comp, err := r.eval(childID)
			if err != nil {
				return computation{}, err
			}
			add(comp)
			if comp.decision == nil {
				hasUnknown = true
			} else if *comp.decision {
				trueCount++
			}
		}
		if !hasUnknown {
			decision = boolPtr(trueCount == 1)
		}
	default:
		return computation{}, fmt.Errorf("unknown operator %q: %s", node.Operator, node.ID)
	}

	confidence := 0.5
	for i, c := range childConfidences {
		if i == 0 || c < confidence {
			confidence = c
		}
	}

	hasProgress := false
	for _, d := range childDecisions {
		if d != nil {
			hasProgress = true
			break
		}
	}

	if existing, ok := r.states[node.ID]; ok && decision == nil {
		// Short-circuit skipping inside this subtree may have settled the
		// node already; only upgrade pending to evaluating on progress.
		if existing.Status == requirement.StatusPending && hasProgress {
			existing.Status = requirement.StatusEvaluating
		}
		return computation{confidence: &confidence}, nil
	}

	st := &requirement.EvaluationState{NodeID: node.ID}
	switch {
	case decision != nil:
		st.Status = requirement.StatusCompleted
		st.Result = &requirement.Result{
			NodeID:     node.ID,
			Decision:   *decision,
			Confidence: confidence,
			Reasoning:  "Derived from child evaluations.",
		}
	case hasProgress:
		st.Status = requirement.StatusEvaluating
	default:
		st.Status = requirement.StatusPending
	}
	r.states[node.ID] = st

	// Composites always report a confidence, defaulted when no child
	// contributed one, matching the live engine's derived results.
	return computation{decision: decision, confidence: &confidence}, nil
}

// skipFrom mirrors live short-circuiting: the remaining siblings and their
// subtrees end skipped even though no live evaluation ever touched them.
func (r *reconstructor) skipFrom(childIDs []string, start int) {
	for i := start; i < len(childIDs); i++ {
		r.markSkipped(childIDs[i])
	}
}

func (r *reconstructor) markSkipped(nodeID string) {
	if _, ok := r.states[nodeID]; ok {
		return
	}
	node, ok := r.nodeMap[nodeID]
	if !ok {
		return
	}
	r.states[nodeID] = &requirement.EvaluationState{NodeID: nodeID, Status: requirement.StatusSkipped}
	if node.Kind == requirement.KindPrimitive {
		r.resolved++
		return
	}
	for _, childID := range node.Children {
		r.markSkipped(childID)
	}
}

func boolPtr(b bool) *bool { return &b }
