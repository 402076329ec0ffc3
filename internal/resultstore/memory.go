package resultstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"normgate/internal/judge"
)

// MemoryStore keeps evaluations and results in process memory. It backs
// single-process deployments and tests; the API falls back to it when no
// database DSN is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	evaluations map[string]*Evaluation
	results     map[string]map[string]*judge.Verdict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evaluations: make(map[string]*Evaluation),
		results:     make(map[string]map[string]*judge.Verdict),
	}
}

func (s *MemoryStore) CreateEvaluation(_ context.Context, ev *Evaluation) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if ev == nil || strings.TrimSpace(ev.ID) == "" {
		return fmt.Errorf("evaluation id is required")
	}
	now := time.Now()
	clone := *ev
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations[clone.ID] = &clone
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, id string) (*Evaluation, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evaluations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ev
	return &clone, nil
}

func (s *MemoryStore) FinishEvaluation(_ context.Context, id, status string, rootDecision *bool) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evaluations[id]
	if !ok {
		return ErrNotFound
	}
	ev.Status = status
	ev.RootDecision = rootDecision
	ev.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) PutResult(_ context.Context, evaluationID, nodeKey string, v *judge.Verdict) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if evaluationID == "" || nodeKey == "" {
		return fmt.Errorf("evaluation id and node key are required")
	}
	if v == nil {
		return fmt.Errorf("verdict is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.results[evaluationID]
	if !ok {
		byKey = make(map[string]*judge.Verdict)
		s.results[evaluationID] = byKey
	}
	byKey[nodeKey] = v.Clone()
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, evaluationID, nodeKey string) (*judge.Verdict, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.results[evaluationID][nodeKey]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) ListResults(_ context.Context, evaluationID string) ([]Row, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.results[evaluationID]
	rows := make([]Row, 0, len(byKey))
	for key, v := range byKey {
		confidence := v.Confidence
		rows = append(rows, Row{
			EvaluationID: evaluationID,
			NodeKey:      key,
			Decision:     v.Decision,
			Confidence:   &confidence,
			Reasoning:    v.Reasoning,
			Citations:    append([]string(nil), v.Citations...),
		})
	}
	return rows, nil
}

func (s *MemoryStore) Close() error { return nil }
