package analytics

import (
	"context"
	"sync"

	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
)

var _ EventSink = (*MockSink)(nil)

// MockSink is an in-memory EventSink for testing.
type MockSink struct {
	mu      sync.Mutex
	Events  []RequestEvent
	Reports []metrics.Summary
	Err     error
}

// NewMockSink creates a new mock sink instance.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// RecordRequestEvent appends the event to Events.
func (m *MockSink) RecordRequestEvent(ctx context.Context, ev RequestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, ev)
	return nil
}

// RecordReport appends the summary to Reports.
func (m *MockSink) RecordReport(ctx context.Context, s metrics.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Reports = append(m.Reports, s)
	return nil
}

// EventCount returns how many request events were recorded.
func (m *MockSink) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// LastEvent returns the most recent event, or a zero value when none exist.
func (m *MockSink) LastEvent() RequestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Events) == 0 {
		return RequestEvent{}
	}
	return m.Events[len(m.Events)-1]
}
