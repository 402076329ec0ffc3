package requirement

// Status of one node during or after an evaluation run. Within a run a node
// moves pending -> evaluating -> completed|error; skipped is only reachable
// from pending/evaluating and is terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusEvaluating Status = "evaluating"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusError      Status = "error"
)

// Result is the outcome of a completed node: the judged or derived decision,
// a confidence in [0,1], and human-readable reasoning.
type Result struct {
	NodeID     string   `json:"nodeId"`
	Decision   bool     `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Citations  []string `json:"citations,omitempty"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.Citations != nil {
		out.Citations = append([]string(nil), r.Citations...)
	}
	return &out
}

// EvaluationState is the per-node record consumed by progress views.
// Result is set iff Status is completed; Error is set iff Status is error.
type EvaluationState struct {
	NodeID string  `json:"nodeId"`
	Status Status  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func (s *EvaluationState) Clone() *EvaluationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Result = s.Result.Clone()
	return &out
}
