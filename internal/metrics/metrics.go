// Package metrics exposes Prometheus counters and histograms for the
// turn pipeline. All metrics are registered via promauto at init time
// and served by the /metrics handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_turns_total",
			Help: "Total number of conversation turns processed",
		},
		[]string{"agent", "status"},
	)

	turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_turn_duration_seconds",
			Help:    "End to end turn processing duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"agent"},
	)

	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"model", "status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"server", "tool", "status"},
	)

	retrievalSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_retrieval_searches_total",
			Help: "Total number of knowledge retrieval searches",
		},
		[]string{"status"},
	)

	retrievalSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_retrieval_search_duration_seconds",
			Help:    "Knowledge retrieval search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordTurn records one processed turn with its outcome and latency.
func RecordTurn(agent, status string, d time.Duration) {
	turnsTotal.WithLabelValues(agent, status).Inc()
	turnDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordLLMRequest records a completion call and its token usage.
func RecordLLMRequest(model, status string, inputTokens, outputTokens int64) {
	llmRequestsTotal.WithLabelValues(model, status).Inc()
	if inputTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall records one tool invocation.
func RecordToolCall(server, tool, status string) {
	toolCallsTotal.WithLabelValues(server, tool, status).Inc()
}

// RecordRetrievalSearch records one retrieval search.
func RecordRetrievalSearch(status string, d time.Duration) {
	retrievalSearchesTotal.WithLabelValues(status).Inc()
	retrievalSearchDuration.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
