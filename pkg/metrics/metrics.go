// Package metrics exposes the Prometheus registry used by the search stream.
// Metrics are defined next to the code that records them (client, ratelimit,
// pagination, stream) and registered through promauto on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all search stream metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - search_requests_total{status} (Counter): HTTP requests by status, plus network_error and rate_limited
//   - search_request_duration_seconds{outcome} (Histogram): page fetch duration including retries
//   - search_errors_total{class} (Counter): failures by class (http, decode, link_header, network)
//
// Retry Metrics (pkg/client):
//   - search_retries_total{error_class} (Counter): retry attempts
//   - search_retry_backoff_seconds{error_class} (Histogram): backoff waited before a retry
//   - search_retry_exhausted_total{error_class} (Counter): pages that used up the retry budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - search_rate_limit_remaining (Gauge): requests left in the current window
//   - search_rate_limit_blocks_total (Counter): requests refused locally because the window is exhausted
//   - search_rate_limit_throttles_total (Counter): requests delayed near the end of the window
//
// Run Metrics (pkg/pagination, pkg/stream):
//   - search_runs_total{result} (Counter): runs by how they ended
//   - search_pages_fetched_total (Counter): pages fetched successfully
//   - search_queries_total{kind} (Counter): query changes (search, empty)
//
// Example Prometheus Queries:
//
//   # Share of runs ending offline
//   sum(rate(search_runs_total{result="offline"}[5m])) / sum(rate(search_runs_total[5m]))
//
//   # Pages per run
//   rate(search_pages_fetched_total[5m]) / sum(rate(search_runs_total[5m]))
//
//   # P95 page fetch latency
//   histogram_quantile(0.95, rate(search_request_duration_seconds_bucket[5m]))
