package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"normgate/internal/evalcache"
	"normgate/internal/judge"
	"normgate/internal/requirement"
	"normgate/internal/tester"
)

// scriptJudge decides by matching the question text embedded in the prompt.
type scriptJudge struct {
	verdicts map[string]*judge.Verdict
	errs     map[string]error
	calls    int
}

func (s *scriptJudge) Name() string { return "script" }
func (s *scriptJudge) Close() error { return nil }

func (s *scriptJudge) Judge(_ context.Context, prompt string) (*judge.Verdict, error) {
	s.calls++
	for key, err := range s.errs {
		if strings.Contains(prompt, key) {
			return nil, err
		}
	}
	for key, v := range s.verdicts {
		if strings.Contains(prompt, key) {
			return v.Clone(), nil
		}
	}
	return nil, errors.New("no scripted verdict for prompt")
}

func decide(decision bool, confidence float64) *judge.Verdict {
	return &judge.Verdict{Decision: decision, Confidence: confidence, Reasoning: "scripted"}
}

func prim(id string) requirement.Node {
	return requirement.Node{
		ID:       id,
		Label:    id,
		Kind:     requirement.KindPrimitive,
		Question: &requirement.Question{Prompt: "Q:" + id, AnswerType: "boolean"},
	}
}

func comp(id string, op requirement.Operator, children ...string) requirement.Node {
	return requirement.Node{ID: id, Label: id, Kind: requirement.KindComposite, Operator: op, Children: children}
}

func norm(root string, nodes ...requirement.Node) *requirement.PrescriptiveNorm {
	return &requirement.PrescriptiveNorm{
		ID:           "pn-test",
		Title:        "test norm",
		Requirements: requirement.Logic{Root: root, Nodes: nodes},
	}
}

func stateByID(states []requirement.EvaluationState) map[string]requirement.EvaluationState {
	out := make(map[string]requirement.EvaluationState, len(states))
	for _, st := range states {
		out[st.NodeID] = st
	}
	return out
}

func TestAllOfShortCircuit(t *testing.T) {
	pn := norm("root",
		comp("root", requirement.OpAllOf, "a", "b", "c"),
		prim("a"),
		comp("b", requirement.OpAllOf, "b1"),
		prim("b1"),
		prim("c"),
	)
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{"Q:a": decide(false, 0.8)}}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	decision, err := e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.False(t, decision)

	m := stateByID(e.States())
	tester.Eq(t, m["a"].Status, requirement.StatusCompleted)
	tester.Eq(t, m["b"].Status, requirement.StatusSkipped)
	tester.Eq(t, m["b1"].Status, requirement.StatusSkipped, "skip reaches the whole subtree")
	tester.Eq(t, m["c"].Status, requirement.StatusSkipped)
	tester.Eq(t, m["root"].Status, requirement.StatusCompleted)
	tester.Eq(t, j.calls, 1, "short-circuit stops further judgments")
}

func TestAnyOfShortCircuit(t *testing.T) {
	pn := norm("root",
		comp("root", requirement.OpAnyOf, "a", "b"),
		prim("a"),
		prim("b"),
	)
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{"Q:a": decide(true, 0.9)}}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	decision, err := e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.True(t, decision)

	m := stateByID(e.States())
	tester.Eq(t, m["b"].Status, requirement.StatusSkipped)
	tester.Eq(t, m["root"].Result.Reasoning, "One of the alternative conditions was satisfied.")
}

func TestXorVisitsAllChildren(t *testing.T) {
	pn := norm("root",
		comp("root", requirement.OpXor, "a", "b", "c"),
		prim("a"), prim("b"), prim("c"),
	)
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{
		"Q:a": decide(false, 0.9),
		"Q:b": decide(true, 0.8),
		"Q:c": decide(false, 0.7),
	}}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	decision, err := e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.True(t, decision)
	tester.Eq(t, j.calls, 3, "xor never short-circuits")

	// Two true children flip the decision.
	j2 := &scriptJudge{verdicts: map[string]*judge.Verdict{
		"Q:a": decide(true, 0.9),
		"Q:b": decide(true, 0.8),
		"Q:c": decide(false, 0.7),
	}}
	e2, err := New(pn, nil)
	tester.NoErr(t, err)
	decision, err = e2.Evaluate(context.Background(), "case", j2)
	tester.NoErr(t, err)
	tester.False(t, decision)
}

func TestNotNegatesChild(t *testing.T) {
	pn := norm("root", comp("root", requirement.OpNot, "a"), prim("a"))
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{"Q:a": decide(true, 0.9)}}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	decision, err := e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.False(t, decision)
	tester.Eq(t, stateByID(e.States())["root"].Result.Reasoning,
		"The negated condition was not satisfied (child was true).")
}

func TestCompositeConfidenceIsChildMinimum(t *testing.T) {
	pn := norm("root",
		comp("root", requirement.OpAllOf, "a", "b"),
		prim("a"), prim("b"),
	)
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{
		"Q:a": decide(true, 0.9),
		"Q:b": decide(true, 0.7),
	}}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.Eq(t, stateByID(e.States())["root"].Result.Confidence, 0.7)
}

func TestJudgeErrorAbortsRun(t *testing.T) {
	pn := norm("root",
		comp("root", requirement.OpAllOf, "a", "b", "c"),
		prim("a"), prim("b"), prim("c"),
	)
	j := &scriptJudge{
		verdicts: map[string]*judge.Verdict{"Q:a": decide(true, 0.9)},
		errs:     map[string]error{"Q:b": errors.New("oracle unavailable")},
	}

	e, err := New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", j)
	tester.Err(t, err)

	m := stateByID(e.States())
	tester.Eq(t, m["a"].Status, requirement.StatusCompleted)
	tester.Eq(t, m["b"].Status, requirement.StatusError)
	tester.Eq(t, m["b"].Error, "oracle unavailable")
	tester.Eq(t, m["c"].Status, requirement.StatusPending, "later siblings are never touched")
}

func TestProgressSnapshotsAreCopies(t *testing.T) {
	pn := norm("root", comp("root", requirement.OpAllOf, "a"), prim("a"))
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{"Q:a": decide(true, 0.9)}}

	var snapshots [][]requirement.EvaluationState
	e, err := New(pn, nil, WithProgress(func(states []requirement.EvaluationState) {
		snapshots = append(snapshots, states)
	}))
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)

	tester.True(t, len(snapshots) >= 4, "one snapshot per state change")
	final := stateByID(snapshots[len(snapshots)-1])
	tester.Eq(t, final["root"].Status, requirement.StatusCompleted)

	// Mutating a delivered snapshot must not reach the engine.
	snapshots[0][0].Status = requirement.StatusError
	tester.True(t, stateByID(e.States())[snapshots[0][0].NodeID].Status != requirement.StatusError)
}

func TestSharedConditionJudgedOnce(t *testing.T) {
	shared := []requirement.SharedPrimitive{{
		ID:    "qp:is_provider",
		Logic: requirement.Logic{Root: "r", Nodes: []requirement.Node{prim("r")}},
	}}
	pn := norm("root",
		comp("root", requirement.OpAllOf, "a", "b"),
		requirement.Node{ID: "a", Kind: requirement.KindPrimitive, Ref: "qp:is_provider"},
		requirement.Node{ID: "b", Kind: requirement.KindPrimitive, Ref: "qp:is_provider"},
	)
	j := &scriptJudge{verdicts: map[string]*judge.Verdict{"Q:r": decide(true, 0.9)}}

	e, err := New(pn, shared, WithCache(evalcache.NewMemory()))
	tester.NoErr(t, err)
	decision, err := e.Evaluate(context.Background(), "case", j)
	tester.NoErr(t, err)
	tester.True(t, decision)
	tester.Eq(t, j.calls, 1, "identical shared conditions share one judgment")

	m := stateByID(e.States())
	tester.Eq(t, m["a-expanded.r"].Status, requirement.StatusCompleted)
	tester.Eq(t, m["b-expanded.r"].Status, requirement.StatusCompleted)
	tester.Eq(t, m["a-expanded.r"].Result.NodeID, "a-expanded.r")
	tester.Eq(t, m["b-expanded.r"].Result.NodeID, "b-expanded.r", "cached result is rebound per node")
}

func TestStructuralErrors(t *testing.T) {
	// Missing root.
	_, err := New(norm("gone", prim("a")), nil)
	tester.Err(t, err)

	// Composite without children.
	pn := norm("root", requirement.Node{ID: "root", Kind: requirement.KindComposite, Operator: requirement.OpAllOf})
	e, err := New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", &scriptJudge{})
	tester.Err(t, err)

	// Unknown operator.
	pn = norm("root",
		requirement.Node{ID: "root", Kind: requirement.KindComposite, Operator: "nand", Children: []string{"a"}},
		prim("a"),
	)
	e, err = New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case",
		&scriptJudge{verdicts: map[string]*judge.Verdict{"Q:a": decide(true, 0.9)}})
	tester.Err(t, err)

	// Dangling child reference.
	pn = norm("root", comp("root", requirement.OpAllOf, "missing"))
	e, err = New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", &scriptJudge{})
	tester.Err(t, err)

	// Primitive without question.
	pn = norm("root", requirement.Node{ID: "root", Kind: requirement.KindPrimitive})
	e, err = New(pn, nil)
	tester.NoErr(t, err)
	_, err = e.Evaluate(context.Background(), "case", &scriptJudge{})
	tester.Err(t, err)
}
