package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total bot requests per kind (command:/x, event:y) and outcome status
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dona_requests_total",
			Help: "Total bot requests handled",
		},
		[]string{"kind", "status"},
	)

	// request latency in seconds per request kind
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dona_request_duration_seconds",
			Help:    "Histogram of bot request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// requests exceeding the slow threshold
	SlowRequestCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dona_slow_requests_total",
			Help: "Total requests slower than the slow threshold",
		},
	)

	// admission checks per limit tier
	AdmissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dona_admission_checks_total",
			Help: "Total rate limit admission checks per tier",
		},
		[]string{"tier"},
	)

	// admission rejections per limit tier
	AdmissionRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dona_admission_rejects_total",
			Help: "Total rate limited requests per tier",
		},
		[]string{"tier"},
	)

	// live token buckets held by the limiter
	ActiveBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dona_ratelimit_active_buckets",
			Help: "Current number of active rate limit buckets",
		},
	)

	// number of metrics reports generated
	ReportCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dona_metrics_reports_total",
			Help: "Total metrics reports generated",
		},
	)

	// LLM completion requests labelled by outcome
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dona_llm_requests_total",
			Help: "Total LLM completion requests",
		},
		[]string{"outcome"},
	)

	// Latency of LLM completion calls
	LLMLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dona_llm_request_duration_seconds",
			Help:    "Duration of LLM completion requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// number of errors writing events to the analytics sink
	EventSinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dona_event_sink_errors_total",
			Help: "Total analytics event sink errors",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SlowRequestCount,
		AdmissionChecks,
		AdmissionRejects,
		ActiveBuckets,
		ReportCount,
		LLMRequests,
		LLMLatency,
		EventSinkErrors,
	)
}
