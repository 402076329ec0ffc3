// Package metrics exposes the observability side-channel for the evaluation
// core. Cache persistence failures in particular are reported here and through
// logs only, never through an evaluation's result path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JudgeCalls counts oracle invocations by adapter name.
	JudgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normgate_judge_calls_total",
		Help: "Total judgment oracle invocations by judge",
	}, []string{"judge"})

	// JudgeErrors counts failed oracle invocations by adapter name.
	JudgeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normgate_judge_errors_total",
		Help: "Total failed judgment oracle invocations by judge",
	}, []string{"judge"})

	// CacheHits counts judgment-cache hits by layer (memory, durable).
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normgate_judgment_cache_hits_total",
		Help: "Total judgment cache hits by layer",
	}, []string{"layer"})

	// PersistFailures counts best-effort result writes that were dropped.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "normgate_result_persist_failures_total",
		Help: "Total judgment results that could not be durably stored",
	})

	// EvaluationsStarted counts evaluation runs by prescriptive norm.
	EvaluationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normgate_evaluations_started_total",
		Help: "Total evaluation runs started by norm",
	}, []string{"norm"})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
