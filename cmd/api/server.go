package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"normgate/internal/catalog"
	"normgate/internal/engine"
	"normgate/internal/evalcache"
	"normgate/internal/judge"
	"normgate/internal/metrics"
	"normgate/internal/reconstruct"
	"normgate/internal/requirement"
	"normgate/internal/resultstore"
)

// apiServer wires the catalog, the result store, the judgment oracle, and the
// watch registry behind the HTTP surface.
type apiServer struct {
	catalog  *catalog.Catalog
	store    resultstore.Store
	oracle   judge.Judge
	registry *watchRegistry
}

func newAPIServer(c *catalog.Catalog, store resultstore.Store, oracle judge.Judge) *apiServer {
	return &apiServer{
		catalog:  c,
		store:    store,
		oracle:   oracle,
		registry: newWatchRegistry(),
	}
}

func buildMux(s *apiServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/catalog", s.handleCatalog)
	mux.HandleFunc("/api/prescriptive/", s.handlePrescriptive)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	mux.HandleFunc("/api/evaluations/", s.handleEvaluations)

	// SSE endpoint for watching evaluations
	mux.HandleFunc("/api/watch/", s.handleWatchSSE)
	mux.HandleFunc("/ws/evaluations", s.handleEvaluationsWS)

	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCatalog lists every loaded norm as a summary.
func (s *apiServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	type summary struct {
		ID          string                   `json:"id"`
		Title       string                   `json:"title"`
		Type        string                   `json:"type,omitempty"`
		ArticleRefs []requirement.ArticleRef `json:"articleRefs,omitempty"`
	}
	norms := s.catalog.Norms()
	out := make([]summary, 0, len(norms))
	for _, pn := range norms {
		out = append(out, summary{ID: pn.ID, Title: pn.Title, Type: pn.Type, ArticleRefs: pn.ArticleRefs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"norms": out})
}

// handlePrescriptive returns one norm with its tree already expanded, the
// form the frontend renders.
func (s *apiServer) handlePrescriptive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/prescriptive/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "norm id is required")
		return
	}
	pn, err := s.catalog.Norm(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	nodes, err := requirement.Expand(pn.Requirements.Nodes, s.catalog.SharedFor(pn))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"norm":  pn,
		"nodes": nodes,
		"root":  pn.Requirements.Root,
	})
}

type evaluateRequest struct {
	NormID   string `json:"normId"`
	CaseText string `json:"caseText"`
}

// handleEvaluate starts an evaluation and returns its id immediately; follow
// the run over /api/watch/{id} or /ws/evaluations.
func (s *apiServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.NormID) == "" || strings.TrimSpace(req.CaseText) == "" {
		writeError(w, http.StatusBadRequest, "normId and caseText are required")
		return
	}
	pn, err := s.catalog.Norm(req.NormID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	evaluationID := uuid.NewString()
	if err := s.store.CreateEvaluation(r.Context(), &resultstore.Evaluation{
		ID:       evaluationID,
		NormID:   pn.ID,
		CaseText: req.CaseText,
		Status:   resultstore.StatusRunning,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.create(evaluationID)
	metrics.EvaluationsStarted.WithLabelValues(pn.ID).Inc()

	go s.runEvaluation(evaluationID, pn, req.CaseText)

	writeJSON(w, http.StatusAccepted, map[string]string{"evaluationId": evaluationID})
}

// runEvaluation drives one engine run to completion: progress fan-out,
// completed leaves persisted as they settle, terminal status recorded.
func (s *apiServer) runEvaluation(evaluationID string, pn *requirement.PrescriptiveNorm, caseText string) {
	ctx := context.Background()

	persisted := make(map[string]bool)
	var persistMu sync.Mutex
	var kinds map[string]requirement.Kind

	sink := func(states []requirement.EvaluationState) {
		persistMu.Lock()
		for _, st := range states {
			if st.Status != requirement.StatusCompleted || st.Result == nil || persisted[st.NodeID] {
				continue
			}
			if kinds[st.NodeID] != requirement.KindPrimitive {
				continue
			}
			persisted[st.NodeID] = true
			if err := s.store.PutResult(ctx, evaluationID, st.NodeID, &judge.Verdict{
				Decision:   st.Result.Decision,
				Confidence: st.Result.Confidence,
				Reasoning:  st.Result.Reasoning,
				Citations:  st.Result.Citations,
			}); err != nil {
				metrics.PersistFailures.Inc()
				log.Printf("persisting result %s/%s failed: %v", evaluationID, st.NodeID, err)
			}
		}
		persistMu.Unlock()
		s.registry.publish(evaluationID, watchEvent{
			EvaluationID: evaluationID,
			Type:         eventState,
			States:       states,
		})
	}

	eng, err := engine.New(pn, s.catalog.SharedFor(pn),
		engine.WithCache(evalcache.NewDurable(evaluationID, s.store)),
		engine.WithProgress(sink),
	)
	if err != nil {
		s.finishWithError(ctx, evaluationID, err)
		return
	}
	kinds = make(map[string]requirement.Kind)
	for _, n := range eng.Nodes() {
		kinds[n.ID] = n.Kind
	}

	decision, err := eng.Evaluate(ctx, caseText, s.oracle)
	if err != nil {
		s.finishWithError(ctx, evaluationID, err)
		return
	}

	if err := s.store.FinishEvaluation(ctx, evaluationID, resultstore.StatusCompleted, &decision); err != nil {
		log.Printf("finishing evaluation %s failed: %v", evaluationID, err)
	}
	s.registry.publish(evaluationID, watchEvent{
		EvaluationID: evaluationID,
		Type:         eventComplete,
		States:       eng.States(),
		RootDecision: &decision,
	})
}

func (s *apiServer) finishWithError(ctx context.Context, evaluationID string, cause error) {
	log.Printf("evaluation %s failed: %v", evaluationID, cause)
	if err := s.store.FinishEvaluation(ctx, evaluationID, resultstore.StatusFailed, nil); err != nil {
		log.Printf("finishing evaluation %s failed: %v", evaluationID, err)
	}
	s.registry.publish(evaluationID, watchEvent{
		EvaluationID: evaluationID,
		Type:         eventError,
		Error:        cause.Error(),
	})
}

// handleEvaluations routes /api/evaluations/{id} and
// /api/evaluations/{id}/reconstruct.
func (s *apiServer) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/evaluations/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "evaluation id is required")
		return
	}
	if id, ok := strings.CutSuffix(rest, "/reconstruct"); ok {
		s.handleReconstruct(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ev, err := s.store.GetEvaluation(r.Context(), rest)
	if err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleReconstruct rebuilds the evaluation view from stored leaf outcomes.
// Pending nodes already determined by a sibling outcome are listed as
// shadowed so the frontend can gray them out.
func (s *apiServer) handleReconstruct(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ev, err := s.store.GetEvaluation(r.Context(), id)
	if err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pn, err := s.catalog.Norm(ev.NormID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	stored, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, err := reconstruct.Reconstruct(pn, s.catalog.SharedFor(pn), reconstruct.FromStore(stored))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var shadowed []string
	for _, st := range rec.States {
		if st.Status == requirement.StatusPending && reconstruct.Shadowed(st.NodeID, rec.Nodes, rec.States) {
			shadowed = append(shadowed, st.NodeID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"evaluation":        ev,
		"nodes":             rec.Nodes,
		"states":            rec.States,
		"primitiveTotal":    rec.PrimitiveTotal,
		"primitiveResolved": rec.PrimitiveResolved,
		"rootDecision":      rec.RootDecision,
		"shadowed":          shadowed,
	})
}
