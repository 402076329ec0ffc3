// Package resultstore persists per-evaluation judgment results so that
// interrupted runs can be resumed and identical shared conditions judged once
// per case. Keys are opaque: plain primitives store under their expanded node
// id, shared conditions additionally under their shared-requirement key.
package resultstore

import (
	"context"
	"errors"
	"time"

	"normgate/internal/judge"
)

var ErrNotFound = errors.New("result not found")

// Evaluation is the header row for one run of one norm against one case.
type Evaluation struct {
	ID           string     `json:"id"`
	NormID       string     `json:"normId"`
	CaseText     string     `json:"caseText"`
	Status       string     `json:"status"`
	RootDecision *bool      `json:"rootDecision,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Row is one stored leaf outcome. Confidence is nil when the writer recorded
// none; readers default it.
type Row struct {
	EvaluationID string   `json:"evaluationId"`
	NodeKey      string   `json:"nodeKey"`
	Decision     bool     `json:"decision"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Citations    []string `json:"citations,omitempty"`
}

// Store is the durable layer consumed by the durable judgment cache and the
// reconstruction endpoint. List returns rows in no particular order and with
// no completeness guarantee.
type Store interface {
	CreateEvaluation(ctx context.Context, ev *Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	FinishEvaluation(ctx context.Context, id, status string, rootDecision *bool) error

	PutResult(ctx context.Context, evaluationID, nodeKey string, v *judge.Verdict) error
	GetResult(ctx context.Context, evaluationID, nodeKey string) (*judge.Verdict, error)
	ListResults(ctx context.Context, evaluationID string) ([]Row, error)

	Close() error
}
