package judge

import (
	"context"
	"strings"
	"sync/atomic"
)

// FakeRule decides a prompt that contains Match.
type FakeRule struct {
	Match    string
	Decision bool
}

// FakeJudge returns deterministic verdicts for offline runs and tests.
// Rules are checked in order against the prompt text; the first match wins,
// otherwise Default applies.
type FakeJudge struct {
	Default bool
	Rules   []FakeRule

	calls atomic.Int64
}

func NewFakeJudge(defaultDecision bool, rules ...FakeRule) *FakeJudge {
	return &FakeJudge{Default: defaultDecision, Rules: rules}
}

func (f *FakeJudge) Name() string { return "FakeJudge" }
func (f *FakeJudge) Close() error { return nil }

// Calls reports how many judgments were issued.
func (f *FakeJudge) Calls() int64 { return f.calls.Load() }

func (f *FakeJudge) Judge(_ context.Context, prompt string) (*Verdict, error) {
	f.calls.Add(1)
	for _, rule := range f.Rules {
		if strings.Contains(prompt, rule.Match) {
			return &Verdict{
				Decision:   rule.Decision,
				Confidence: 0.9,
				Reasoning:  "Matched offline rule: " + rule.Match,
			}, nil
		}
	}
	return &Verdict{
		Decision:   f.Default,
		Confidence: 0.6,
		Reasoning:  "No offline rule matched; default applied.",
	}, nil
}
