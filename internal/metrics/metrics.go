// Package metrics declares the Prometheus collectors this pipeline
// exposes while the orchestrator runs: request volume and rate-limit
// wait time from the vendor client, partitions written by the storage
// layer, and quality-check failures from the quality workflow
// (SPEC_FULL.md domain-stack table, "Metrics").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the collectors one orchestrator run updates. A nil
// *Registry is safe to call methods on — every method is a no-op — so
// callers that don't wire metrics (most tests)
// don't need a conditional at every call site.
type Registry struct {
	requestsTotal      *prometheus.CounterVec
	rateLimitWaitSecs  prometheus.Histogram
	partitionsWritten  *prometheus.CounterVec
	qualityFailures    prometheus.Gauge
}

// New registers and returns a fresh Registry against reg.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caiyuangungun",
			Name:      "vendor_requests_total",
			Help:      "Vendor API requests, labeled by endpoint and outcome status.",
		}, []string{"endpoint", "status"}),
		rateLimitWaitSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caiyuangungun",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time a request spent waiting on the rate limiter before it was issued.",
			Buckets:   prometheus.DefBuckets,
		}),
		partitionsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caiyuangungun",
			Name:      "partitions_written_total",
			Help:      "Partitions successfully written to the landing store, labeled by data type.",
		}, []string{"data_type"}),
		qualityFailures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "caiyuangungun",
			Name:      "quality_check_failures",
			Help:      "Failures found by the most recently completed quality-check sweep.",
		}),
	}
}

// ObserveRequest records one vendor API call outcome.
func (r *Registry) ObserveRequest(endpoint, status string) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(endpoint, status).Inc()
}

// ObserveRateLimitWait records how long a request waited on the limiter.
func (r *Registry) ObserveRateLimitWait(seconds float64) {
	if r == nil {
		return
	}
	r.rateLimitWaitSecs.Observe(seconds)
}

// ObservePartitionWritten records one successful partition write.
func (r *Registry) ObservePartitionWritten(dataType string) {
	if r == nil {
		return
	}
	r.partitionsWritten.WithLabelValues(dataType).Inc()
}

// SetQualityFailures records the failure count from the most recent
// quality-check sweep.
func (r *Registry) SetQualityFailures(n int) {
	if r == nil {
		return
	}
	r.qualityFailures.Set(float64(n))
}
