// Package metrics provides the centralized Prometheus metrics registry for
// the API client. All metrics are defined in their respective packages
// (client, retry, payment) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - zyte_api_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - zyte_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - zyte_api_errors_total{fault_class} (Counter): Errors by fault class
//   - zyte_api_circuit_breaker_tripped_total (Counter): Circuit breaker trips
//
// Retry Metrics (pkg/retry):
//   - zyte_api_retries_total{fault_class} (Counter): Retry attempts by fault class
//   - zyte_api_retry_backoff_seconds{fault_class} (Histogram): Backoff duration by fault class
//   - zyte_api_retry_stopped_total{fault_class} (Counter): Requests abandoned by the stop strategy
//
// Payment Metrics (pkg/payment):
//   - zyte_api_payment_challenges_total (Counter): Payment challenge requests sent
//   - zyte_api_payment_cache_hits_total (Counter): Requirement cache hits by fingerprint
//   - zyte_api_payment_cache_misses_total (Counter): Requirement cache misses
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(zyte_api_errors_total[5m])
//
//   # Throttling Share
//   rate(zyte_api_retries_total{fault_class="throttling"}[5m]) /
//   rate(zyte_api_requests_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(zyte_api_request_duration_seconds_bucket[5m]))
//
//   # Payment Cache Hit Rate
//   rate(zyte_api_payment_cache_hits_total[5m]) /
//   (rate(zyte_api_payment_cache_hits_total[5m]) + rate(zyte_api_payment_cache_misses_total[5m]))
