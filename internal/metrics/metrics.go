// Package metrics holds the Prometheus collectors for the knowledge engine.
// Collectors register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notegraph"

var (
	// GraphSyncs counts backlink synchronization passes.
	// Labels: result (ok, error)
	GraphSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "syncs_total",
		Help:      "Backlink synchronization passes",
	}, []string{"result"})

	// SuggestionsGenerated counts pending suggestions written to notes.
	SuggestionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "generated_total",
		Help:      "Pending suggestions produced by generation passes",
	})

	// SuggestionCacheHits counts generation passes served from the content-hash cache.
	SuggestionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "cache_hits_total",
		Help:      "Generation passes that reused cached suggestions",
	})

	// SuggestionDecisions counts accept/reject transitions.
	// Labels: state (accepted, rejected)
	SuggestionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "decisions_total",
		Help:      "Suggestion lifecycle transitions",
	}, []string{"state"})

	// ScoringFailures counts candidates dropped because scoring or description failed.
	// Labels: stage (score, describe)
	ScoringFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "similarity",
		Name:      "failures_total",
		Help:      "Candidates omitted after a scoring or description failure",
	}, []string{"stage"})

	// SweepDuration measures a full background sweep.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Background sweep duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// SweepsSkipped counts ticks skipped because a sweep was still running.
	SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "skipped_total",
		Help:      "Sweep ticks skipped while a previous sweep was in progress",
	})

	// GenerationRetries counts retried text-generation calls.
	GenerationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Generation attempts retried after a transient failure",
	})

	// OperationsCancelled counts user operations cancelled explicitly or by timeout.
	// Labels: reason (cancelled, timeout)
	OperationsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ops",
		Name:      "cancelled_total",
		Help:      "Registered operations that ended by cancellation or timeout",
	}, []string{"reason"})
)
