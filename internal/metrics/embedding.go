package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagedex"

var (
	embeddingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Embedding API calls by outcome (ok, timeout, canceled, api_error, count_mismatch)",
		},
		[]string{"provider", "model", "outcome"},
	)

	embeddingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "call_duration_seconds",
			Help:      "Latency of successful embedding API calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	embeddingTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "tokens_total",
			Help:      "Tokens billed by the embedding API",
		},
		[]string{"provider", "model", "kind"},
	)

	embeddingItemRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "item_retries_total",
			Help:      "Texts re-embedded one by one after a failed batch",
		},
		[]string{"result"},
	)

	// EmbeddingCacheTotal counts cache lookups by result (hit, miss).
	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)
)

// ObserveEmbeddingCall records one API call. outcome is "ok" or a short
// failure class; latency is only observed for successful calls.
func ObserveEmbeddingCall(provider, model, outcome string, took time.Duration) {
	embeddingCalls.WithLabelValues(provider, model, outcome).Inc()
	if outcome == "ok" {
		embeddingLatency.WithLabelValues(provider, model).Observe(took.Seconds())
	}
}

// AddEmbeddingTokens records billed usage. Providers that report no usage
// send zeros, which are skipped.
func AddEmbeddingTokens(provider, model string, prompt, total int) {
	if total <= 0 {
		return
	}
	embeddingTokens.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	embeddingTokens.WithLabelValues(provider, model, "total").Add(float64(total))
}

// RecordItemRetry counts a single-text retry after a batch failure.
func RecordItemRetry(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	embeddingItemRetries.WithLabelValues(result).Inc()
}

var embeddingOnce sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors with the
// default registry. Safe to call more than once.
func RegisterEmbeddingMetrics() {
	embeddingOnce.Do(func() {
		prometheus.MustRegister(embeddingCalls, embeddingLatency, embeddingTokens, embeddingItemRetries, EmbeddingCacheTotal)
	})
}
