// Package engine walks an expanded requirement tree depth-first, resolves
// primitive conditions through the judgment oracle, applies combinator
// semantics with short-circuiting, and emits state snapshots after every
// mutation for live progress views.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"normgate/internal/evalcache"
	"normgate/internal/judge"
	"normgate/internal/requirement"
)

// ProgressFunc receives a full state snapshot after every state change.
type ProgressFunc func(states []requirement.EvaluationState)

type Option func(*Engine)

// WithProgress attaches a live progress sink.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithCache routes shared-condition judgments through the given cache so
// identical conditions are judged once per case.
func WithCache(c evalcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// Engine evaluates one prescriptive norm against one case. A single Engine
// performs a single traversal; construct a fresh one per run.
type Engine struct {
	pn      *requirement.PrescriptiveNorm
	nodes   []requirement.Node
	nodeMap map[string]*requirement.Node

	mu     sync.Mutex
	states map[string]*requirement.EvaluationState

	progress ProgressFunc
	cache    evalcache.Cache
}

// New expands the norm's tree against the supplied shared primitives and
// prepares a pending state for every node. Structural problems in the
// authored data fail here or during Evaluate, never silently.
func New(pn *requirement.PrescriptiveNorm, shared []requirement.SharedPrimitive, opts ...Option) (*Engine, error) {
	if pn == nil {
		return nil, fmt.Errorf("prescriptive norm is required")
	}
	nodes, err := requirement.Expand(pn.Requirements.Nodes, shared)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", pn.ID, err)
	}

	e := &Engine{
		pn:      pn,
		nodes:   nodes,
		nodeMap: make(map[string]*requirement.Node, len(nodes)),
		states:  make(map[string]*requirement.EvaluationState, len(nodes)),
	}
	for i := range nodes {
		n := &nodes[i]
		e.nodeMap[n.ID] = n
		e.states[n.ID] = &requirement.EvaluationState{NodeID: n.ID, Status: requirement.StatusPending}
	}
	if _, ok := e.nodeMap[pn.Requirements.Root]; !ok {
		return nil, fmt.Errorf("root node not found: %s", pn.Requirements.Root)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Nodes returns the expanded node list.
func (e *Engine) Nodes() []requirement.Node {
	out := make([]requirement.Node, len(e.nodes))
	for i := range e.nodes {
		out[i] = *e.nodes[i].Clone()
	}
	return out
}

// States returns a snapshot of every node's current state, in expansion order.
func (e *Engine) States() []requirement.EvaluationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []requirement.EvaluationState {
	out := make([]requirement.EvaluationState, 0, len(e.nodes))
	for i := range e.nodes {
		out = append(out, *e.states[e.nodes[i].ID].Clone())
	}
	return out
}

// Evaluate runs the tree from the root and returns the root decision. A
// judgment failure aborts the run: the failing node holds status error and
// the error is returned. Structural input errors abort likewise.
func (e *Engine) Evaluate(ctx context.Context, caseText string, j judge.Judge) (bool, error) {
	root := e.nodeMap[e.pn.Requirements.Root]
	decision, err := e.evaluateNode(ctx, root, caseText, j)
	if err != nil {
		return false, err
	}
	return decision, nil
}

func (e *Engine) evaluateNode(ctx context.Context, node *requirement.Node, caseText string, j judge.Judge) (bool, error) {
	switch node.Kind {
	case requirement.KindPrimitive:
		result, err := e.evaluatePrimitive(ctx, node, caseText, j)
		if err != nil {
			return false, err
		}
		return result.Decision, nil
	case requirement.KindComposite:
		return e.evaluateComposite(ctx, node, caseText, j)
	default:
		return false, fmt.Errorf("unknown node kind %q: %s", node.Kind, node.ID)
	}
}

func (e *Engine) evaluatePrimitive(ctx context.Context, node *requirement.Node, caseText string, j judge.Judge) (*requirement.Result, error) {
	if node.Ref != "" {
		return nil, fmt.Errorf("primitive node %s has unresolved ref %s", node.ID, node.Ref)
	}
	if node.Question == nil {
		return nil, fmt.Errorf("primitive node %s has no question", node.ID)
	}

	log.Printf("evaluating primitive %s (%s)", node.ID, node.Label)
	e.setStatus(node.ID, requirement.StatusEvaluating)

	prompt := BuildPrompt(node, caseText)
	evaluate := func(ctx context.Context) (*judge.Verdict, error) {
		return j.Judge(ctx, prompt)
	}

	var verdict *judge.Verdict
	var err error
	if key := node.SharedKey(); key != "" && e.cache != nil {
		verdict, err = e.cache.GetOrEvaluate(ctx, key, evaluate)
	} else {
		verdict, err = evaluate(ctx)
	}
	if err != nil {
		e.setError(node.ID, err.Error())
		return nil, fmt.Errorf("judging %s: %w", node.ID, err)
	}

	result := &requirement.Result{
		NodeID:     node.ID,
		Decision:   verdict.Decision,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Citations:  append([]string(nil), verdict.Citations...),
	}
	e.setCompleted(node.ID, result)
	return result, nil
}

func (e *Engine) evaluateComposite(ctx context.Context, node *requirement.Node, caseText string, j judge.Judge) (bool, error) {
	if len(node.Children) == 0 {
		return false, fmt.Errorf("composite node %s has no children", node.ID)
	}

	log.Printf("evaluating composite %s (%s, %s)", node.ID, node.Operator, node.Label)
	e.setStatus(node.ID, requirement.StatusEvaluating)

	var childResults []bool
	for idx, childID := range node.Children {
		child, ok := e.nodeMap[childID]
		if !ok {
			return false, fmt.Errorf("composite node %s references missing child %s", node.ID, childID)
		}
		result, err := e.evaluateNode(ctx, child, caseText, j)
		if err != nil {
			return false, err
		}
		childResults = append(childResults, result)

		if node.Operator == requirement.OpAllOf && !result {
			e.skipRemaining(node.Children, idx+1)
			break
		}
		if node.Operator == requirement.OpAnyOf && result {
			e.skipRemaining(node.Children, idx+1)
			break
		}
	}

	decision, reasoning, err := combine(node, childResults)
	if err != nil {
		return false, err
	}

	e.setCompleted(node.ID, &requirement.Result{
		NodeID:     node.ID,
		Decision:   decision,
		Confidence: e.minChildConfidence(node.Children),
		Reasoning:  reasoning,
	})
	return decision, nil
}

// combine applies the operator to the evaluated children. The operator set is
// closed; anything else is bad authored data.
func combine(node *requirement.Node, childResults []bool) (bool, string, error) {
	switch node.Operator {
	case requirement.OpAllOf:
		for _, r := range childResults {
			if !r {
				return false, "At least one required condition was not satisfied.", nil
			}
		}
		return true, "All sub-requirements were satisfied.", nil
	case requirement.OpAnyOf:
		for _, r := range childResults {
			if r {
				return true, "One of the alternative conditions was satisfied.", nil
			}
		}
		return false, "None of the alternative conditions were satisfied.", nil
	case requirement.OpNot:
		if len(childResults) != 1 {
			return false, "", fmt.Errorf("not node %s requires exactly one child, got %d", node.ID, len(childResults))
		}
		if !childResults[0] {
			return true, "The negated condition was satisfied (child was false).", nil
		}
		return false, "The negated condition was not satisfied (child was true).", nil
	case requirement.OpXor:
		trueCount := 0
		for _, r := range childResults {
			if r {
				trueCount++
			}
		}
		if trueCount == 1 {
			return true, "Exactly one of the conditions was satisfied.", nil
		}
		return false, "XOR requires exactly one true; this condition did not meet that.", nil
	default:
		return false, "", fmt.Errorf("unknown operator %q: %s", node.Operator, node.ID)
	}
}

// minChildConfidence is the minimum confidence among evaluated children, or
// 0.5 when none contributed one.
func (e *Engine) minChildConfidence(childIDs []string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	confidence := 0.5
	found := false
	for _, id := range childIDs {
		st := e.states[id]
		if st == nil || st.Result == nil {
			continue
		}
		if !found || st.Result.Confidence < confidence {
			confidence = st.Result.Confidence
			found = true
		}
	}
	return confidence
}

// skipRemaining marks the children from start onward, and their subtrees, as
// short-circuited.
func (e *Engine) skipRemaining(childIDs []string, start int) {
	for i := start; i < len(childIDs); i++ {
		e.markSkipped(childIDs[i])
	}
}

// markSkipped only downgrades pending/evaluating nodes; completed and errored
// nodes keep their outcome.
func (e *Engine) markSkipped(nodeID string) {
	e.mu.Lock()
	st := e.states[nodeID]
	if st == nil || (st.Status != requirement.StatusPending && st.Status != requirement.StatusEvaluating) {
		e.mu.Unlock()
		return
	}
	st.Status = requirement.StatusSkipped
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snapshot)

	node := e.nodeMap[nodeID]
	if node != nil && node.Kind == requirement.KindComposite {
		for _, childID := range node.Children {
			e.markSkipped(childID)
		}
	}
}

func (e *Engine) setStatus(nodeID string, status requirement.Status) {
	e.mutate(nodeID, func(st *requirement.EvaluationState) {
		st.Status = status
	})
}

func (e *Engine) setCompleted(nodeID string, result *requirement.Result) {
	e.mutate(nodeID, func(st *requirement.EvaluationState) {
		st.Status = requirement.StatusCompleted
		st.Result = result
	})
}

func (e *Engine) setError(nodeID, msg string) {
	e.mutate(nodeID, func(st *requirement.EvaluationState) {
		st.Status = requirement.StatusError
		st.Error = msg
	})
}

func (e *Engine) mutate(nodeID string, update func(*requirement.EvaluationState)) {
	e.mu.Lock()
	st := e.states[nodeID]
	if st == nil {
		e.mu.Unlock()
		return
	}
	update(st)
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snapshot)
}

func (e *Engine) notify(snapshot []requirement.EvaluationState) {
	if e.progress != nil {
		e.progress(snapshot)
	}
}
