// Package metrics exposes Prometheus counters and gauges for the pieces of
// the proxy that benefit from external observability: retry decisions,
// token refresh outcomes, account rotation, and signature cache occupancy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryDecisions counts Retry Policy outcomes by kind ("wait", "rotate",
// "none").
var RetryDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geminiproxy_retry_decisions_total",
	Help: "Count of retry policy decisions by kind.",
}, []string{"kind"})

// TokenRefreshes counts Token Manager / Token Refresher refresh attempts by
// outcome ("success", "failure").
var TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geminiproxy_token_refreshes_total",
	Help: "Count of OAuth token refresh attempts by outcome.",
}, []string{"outcome"})

// AccountRotations counts how many times GetToken served a distinct
// account index.
var AccountRotations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "geminiproxy_account_rotations_total",
	Help: "Count of account rotations performed by the token manager.",
})

// SignatureCacheSize reports the current number of live entries in the
// signature cache, sampled periodically by the Token Refresher.
var SignatureCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "geminiproxy_signature_cache_size",
	Help: "Current number of entries held in the thought-signature cache.",
})

// EmptyCompletionRetries counts how many times the empty-completion retry
// rule fired.
var EmptyCompletionRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "geminiproxy_empty_completion_retries_total",
	Help: "Count of whole-request retries triggered by an empty completion.",
})

// UpstreamRequestDuration observes wall-clock latency of the outbound call
// to the upstream Gemini-shape endpoint.
var UpstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "geminiproxy_upstream_request_duration_seconds",
	Help:    "Latency of outbound calls to the upstream generateContent endpoint.",
	Buckets: prometheus.DefBuckets,
})
