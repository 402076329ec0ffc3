package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"normgate/internal/judge"
)

// PostgresStore persists evaluations and results via the pgx stdlib driver.
// Result reads go through a small LRU since the durable cache consults the
// store before every oracle call.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	resultCache *lru.Cache[string, *judge.Verdict]
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, *judge.Verdict](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, resultCache: cache}, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS evaluations (
    id            TEXT PRIMARY KEY,
    norm_id       TEXT NOT NULL,
    case_text     TEXT NOT NULL,
    status        TEXT NOT NULL,
    root_decision BOOLEAN,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS evaluation_results (
    evaluation_id TEXT NOT NULL,
    node_key      TEXT NOT NULL,
    decision      BOOLEAN NOT NULL,
    confidence    DOUBLE PRECISION,
    reasoning     TEXT,
    citations     TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (evaluation_id, node_key)
);`)
		s.schemaErr = err
	})
	return s.schemaErr
}

func (s *PostgresStore) CreateEvaluation(ctx context.Context, ev *Evaluation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	if ev == nil || strings.TrimSpace(ev.ID) == "" {
		return fmt.Errorf("evaluation id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO evaluations (id, norm_id, case_text, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		ev.ID, ev.NormID, ev.CaseText, ev.Status)
	return err
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var ev Evaluation
	var rootDecision sql.NullBool
	err := s.db.QueryRowContext(ctx, `
SELECT id, norm_id, case_text, status, root_decision, created_at, updated_at
FROM evaluations WHERE id = $1`, id).
		Scan(&ev.ID, &ev.NormID, &ev.CaseText, &ev.Status, &rootDecision, &ev.CreatedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rootDecision.Valid {
		ev.RootDecision = &rootDecision.Bool
	}
	return &ev, nil
}

func (s *PostgresStore) FinishEvaluation(ctx context.Context, id, status string, rootDecision *bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var decision sql.NullBool
	if rootDecision != nil {
		decision = sql.NullBool{Bool: *rootDecision, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE evaluations SET status = $2, root_decision = $3, updated_at = now() WHERE id = $1`,
		id, status, decision)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutResult(ctx context.Context, evaluationID, nodeKey string, v *judge.Verdict) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	if evaluationID == "" || nodeKey == "" {
		return fmt.Errorf("evaluation id and node key are required")
	}
	if v == nil {
		return fmt.Errorf("verdict is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	citations, err := json.Marshal(v.Citations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO evaluation_results (evaluation_id, node_key, decision, confidence, reasoning, citations)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (evaluation_id, node_key) DO UPDATE SET
    decision = EXCLUDED.decision,
    confidence = EXCLUDED.confidence,
    reasoning = EXCLUDED.reasoning,
    citations = EXCLUDED.citations`,
		evaluationID, nodeKey, v.Decision, v.Confidence, v.Reasoning, string(citations))
	if err != nil {
		return err
	}
	s.resultCache.Add(resultKey(evaluationID, nodeKey), v.Clone())
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, evaluationID, nodeKey string) (*judge.Verdict, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cached, ok := s.resultCache.Get(resultKey(evaluationID, nodeKey)); ok {
		return cached.Clone(), nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var v judge.Verdict
	var confidence sql.NullFloat64
	var reasoning sql.NullString
	var citations sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT decision, confidence, reasoning, citations
FROM evaluation_results WHERE evaluation_id = $1 AND node_key = $2`,
		evaluationID, nodeKey).
		Scan(&v.Decision, &confidence, &reasoning, &citations)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Confidence = 0.5
	if confidence.Valid {
		v.Confidence = confidence.Float64
	}
	v.Reasoning = reasoning.String
	if citations.Valid && citations.String != "" {
		_ = json.Unmarshal([]byte(citations.String), &v.Citations)
	}
	s.resultCache.Add(resultKey(evaluationID, nodeKey), v.Clone())
	return &v, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, evaluationID string) ([]Row, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT node_key, decision, confidence, reasoning, citations
FROM evaluation_results WHERE evaluation_id = $1`, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{EvaluationID: evaluationID}
		var confidence sql.NullFloat64
		var reasoning sql.NullString
		var citations sql.NullString
		if err := rows.Scan(&row.NodeKey, &row.Decision, &confidence, &reasoning, &citations); err != nil {
			return nil, err
		}
		if confidence.Valid {
			c := confidence.Float64
			row.Confidence = &c
		}
		row.Reasoning = reasoning.String
		if citations.Valid && citations.String != "" {
			_ = json.Unmarshal([]byte(citations.String), &row.Citations)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func resultKey(evaluationID, nodeKey string) string {
	return evaluationID + "/" + nodeKey
}
