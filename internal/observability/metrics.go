package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbchat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_questions_total",
			Help: "Questions processed, by outcome (answered or failure kind).",
		},
		[]string{"outcome"},
	)

	gateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_gate_rejections_total",
			Help: "Statements rejected by the safety gate, by offending keyword.",
		},
		[]string{"keyword"},
	)

	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbchat_llm_request_duration_seconds",
			Help:    "Latency of completion calls by purpose (generate, narrate).",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"call", "status"},
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_llm_tokens_total",
			Help: "Tokens reported by the provider, by purpose (generate, narrate).",
		},
		[]string{"call"},
	)

	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_duration_seconds",
			Help:    "Latency of approved statement execution.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		questionsTotal,
		gateRejectionsTotal,
		llmRequestDurationSeconds,
		llmTokensTotal,
		queryDurationSeconds,
	)
}

// ObserveQuestion counts a finished question; outcome is "answered",
// "courtesy", "not_connected" or a failure kind.
func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveGateRejection(keyword string) {
	if keyword == "" {
		keyword = "leading_verb"
	}
	gateRejectionsTotal.WithLabelValues(keyword).Inc()
}

func ObserveLLMCall(call string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequestDurationSeconds.WithLabelValues(call, status).Observe(elapsed.Seconds())
}

// ObserveLLMTokens adds the usage of one completion. Providers that report
// no usage pass zero, which is skipped.
func ObserveLLMTokens(call string, tokens int) {
	if tokens > 0 {
		llmTokensTotal.WithLabelValues(call).Add(float64(tokens))
	}
}

func ObserveQuery(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}
