package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup outcomes.
const (
	LookupExactHit    = "exact_hit"
	LookupSemanticHit = "semantic_hit"
	LookupMiss        = "miss"
	LookupError       = "error"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybrid_router",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Routing decisions by strategy, confidence and fallback",
	}, []string{"strategy", "confidence", "fallback"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybrid_router",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by result: exact_hit, semantic_hit, miss, error",
	}, []string{"result"})

	droppedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybrid_router",
		Subsystem: "metrics",
		Name:      "dropped_records_total",
		Help:      "Decision records dropped by reason: queue_full, persist_failed, closed",
	}, []string{"reason"})

	embeddingTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybrid_router",
		Subsystem: "embedding",
		Name:      "tokens_total",
		Help:      "Tokens sent to the embedding model",
	}, []string{"model"})

	embeddingCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hybrid_router",
		Subsystem: "embedding",
		Name:      "cost_usd_total",
		Help:      "Estimated embedding spend in USD",
	}, []string{"model"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hybrid_router",
		Subsystem: "provider",
		Name:      "request_latency_seconds",
		Help:      "Latency of provider calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})
)

// ObserveCacheLookup counts one cache lookup outcome.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveEmbedding counts one embedding call's tokens and cost.
func ObserveEmbedding(model string, tokens int, cost float64) {
	embeddingTokensTotal.WithLabelValues(model).Add(float64(tokens))
	embeddingCostTotal.WithLabelValues(model).Add(cost)
}

// ObserveProviderLatency records a provider call duration in seconds.
func ObserveProviderLatency(provider string, seconds float64) {
	providerLatency.WithLabelValues(provider).Observe(seconds)
}

func observeDecision(strategy, confidence string, fallback bool) {
	decisionsTotal.WithLabelValues(strategy, confidence, strconv.FormatBool(fallback)).Inc()
}

func observeDrop(reason string) {
	droppedRecordsTotal.WithLabelValues(reason).Inc()
}
