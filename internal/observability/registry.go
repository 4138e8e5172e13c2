package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// Request metrics
	IncrementRequests(kind, status string)
	RecordRequestLatency(kind string, duration time.Duration)
	IncrementSlowRequests()

	// Admission control metrics
	IncrementAdmissionChecks(tier string)
	IncrementAdmissionRejects(tier string)
	SetActiveBuckets(count int)

	// Metrics report metrics
	IncrementReports()

	// LLM metrics
	IncrementLLMRequests(outcome string)
	RecordLLMLatency(duration time.Duration)

	// Analytics event sink metrics
	IncrementEventSinkErrors()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// Request metrics
func (r *PrometheusRegistry) IncrementRequests(kind, status string) {
	RequestCount.WithLabelValues(kind, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(kind string, duration time.Duration) {
	RequestLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementSlowRequests() {
	SlowRequestCount.Inc()
}

// Admission control metrics
func (r *PrometheusRegistry) IncrementAdmissionChecks(tier string) {
	AdmissionChecks.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementAdmissionRejects(tier string) {
	AdmissionRejects.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) SetActiveBuckets(count int) {
	ActiveBuckets.Set(float64(count))
}

// Metrics report metrics
func (r *PrometheusRegistry) IncrementReports() {
	ReportCount.Inc()
}

// LLM metrics
func (r *PrometheusRegistry) IncrementLLMRequests(outcome string) {
	LLMRequests.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordLLMLatency(duration time.Duration) {
	LLMLatency.Observe(duration.Seconds())
}

// Analytics event sink metrics
func (r *PrometheusRegistry) IncrementEventSinkErrors() {
	EventSinkErrors.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// Request metrics
func (r *NoOpRegistry) IncrementRequests(kind, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(kind string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementSlowRequests()                                   {}

// Admission control metrics
func (r *NoOpRegistry) IncrementAdmissionChecks(tier string)  {}
func (r *NoOpRegistry) IncrementAdmissionRejects(tier string) {}
func (r *NoOpRegistry) SetActiveBuckets(count int)            {}

// Metrics report metrics
func (r *NoOpRegistry) IncrementReports() {}

// LLM metrics
func (r *NoOpRegistry) IncrementLLMRequests(outcome string)     {}
func (r *NoOpRegistry) RecordLLMLatency(duration time.Duration) {}

// Analytics event sink metrics
func (r *NoOpRegistry) IncrementEventSinkErrors() {}
