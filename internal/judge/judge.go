// Package judge adapts natural-language models into the judgment oracle the
// evaluation engine consumes: prompt in, boolean verdict out.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidVerdict = errors.New("judge: invalid verdict from model")

// Verdict is one judgment for a primitive condition.
type Verdict struct {
	Decision   bool     `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Citations  []string `json:"citations,omitempty"`
}

func (v *Verdict) Clone() *Verdict {
	if v == nil {
		return nil
	}
	out := *v
	if v.Citations != nil {
		out.Citations = append([]string(nil), v.Citations...)
	}
	return &out
}

// Judge is the injected oracle. A Judge call must either return a well-formed
// verdict or an error; the engine records errors as node failures.
type Judge interface {
	Name() string
	Judge(ctx context.Context, prompt string) (*Verdict, error)
	Close() error
}

// verdictInstruction is appended to every prompt by the model-backed
// adapters so the response can be decoded as JSON.
const verdictInstruction = "\n## Output Format\n" +
	"Return a single JSON object and nothing else:\n" +
	"{\"decision\": true|false, \"confidence\": <0.0-1.0>, \"reasoning\": \"...\", \"citations\": [\"...\"]}\n"

// ParseVerdict decodes and validates a model response. Malformed output is a
// judgment error, not a decision.
func ParseVerdict(raw []byte) (*Verdict, error) {
	var decoded struct {
		Decision   *bool    `json:"decision"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
		Citations  []string `json:"citations"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if decoded.Decision == nil {
		return nil, fmt.Errorf("%w: missing decision", ErrInvalidVerdict)
	}
	confidence := 0.5
	if decoded.Confidence != nil {
		confidence = *decoded.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrInvalidVerdict, confidence)
	}
	return &Verdict{
		Decision:   *decoded.Decision,
		Confidence: confidence,
		Reasoning:  decoded.Reasoning,
		Citations:  decoded.Citations,
	}, nil
}
