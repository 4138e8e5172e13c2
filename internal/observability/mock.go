package observability

import "time"

// MockMetricsRegistry is a mock implementation of MetricsRegistry for testing
type MockMetricsRegistry struct{}

// Request metrics
func (m *MockMetricsRegistry) IncrementRequests(kind, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(kind string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementSlowRequests()                                   {}

// Admission control metrics
func (m *MockMetricsRegistry) IncrementAdmissionChecks(tier string)  {}
func (m *MockMetricsRegistry) IncrementAdmissionRejects(tier string) {}
func (m *MockMetricsRegistry) SetActiveBuckets(count int)            {}

// Metrics report metrics
func (m *MockMetricsRegistry) IncrementReports() {}

// LLM metrics
func (m *MockMetricsRegistry) IncrementLLMRequests(outcome string)     {}
func (m *MockMetricsRegistry) RecordLLMLatency(duration time.Duration) {}

// Analytics event sink metrics
func (m *MockMetricsRegistry) IncrementEventSinkErrors() {}
