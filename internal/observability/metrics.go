package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	nbifRequestsTotal   *prometheus.CounterVec
	nbifLatencySeconds  *prometheus.HistogramVec
	nbifErrorsTotal     *prometheus.CounterVec
	questionRenderTime  *prometheus.HistogramVec
	questionCacheLookup *prometheus.CounterVec
)

// RegisterMetrics initialises the collectors of the page controller.
func RegisterMetrics() {
	registerOnce.Do(func() {
		nbifRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nbif_requests_total",
			Help: "Total number of nbif requests served, by action.",
		}, []string{"method", "route", "action", "status"})

		nbifLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nbif_latency_seconds",
			Help:    "Latency distribution for nbif requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		nbifErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nbif_errors_total",
			Help: "Total number of error responses returned by nbif endpoints.",
		}, []string{"method", "route", "status"})

		questionRenderTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nbif_question_render_seconds",
			Help:    "Time spent loading and rendering a single question.",
			Buckets: prometheus.DefBuckets,
		}, []string{"course"})

		questionCacheLookup = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nbif_question_cache_lookups_total",
			Help: "Question cache lookups by result (hit, miss, error).",
		}, []string{"result"})

		prometheus.MustRegister(nbifRequestsTotal, nbifLatencySeconds, nbifErrorsTotal, questionRenderTime, questionCacheLookup)
	})
}

// NBIFRequests exposes the request counter.
func NBIFRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return nbifRequestsTotal
}

// NBIFLatency exposes the request latency histogram.
func NBIFLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return nbifLatencySeconds
}

// NBIFErrors exposes the error response counter.
func NBIFErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return nbifErrorsTotal
}

// QuestionRender exposes the question render histogram.
func QuestionRender() *prometheus.HistogramVec {
	RegisterMetrics()
	return questionRenderTime
}

// QuestionCache exposes the question cache lookup counter.
func QuestionCache() *prometheus.CounterVec {
	RegisterMetrics()
	return questionCacheLookup
}
