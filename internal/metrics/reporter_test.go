package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

func TestReporter_ReportNow(t *testing.T) {
	c := NewCollector(DefaultWindow, zap.NewNop())
	c.RecordRequest("command:/dona-task", 100*time.Millisecond, StatusSuccess, "U1", nil)

	r := NewReporter(c, time.Minute, zap.NewNop(), &observability.MockMetricsRegistry{})

	var received []Summary
	r.AddCallback(func(s Summary) error {
		received = append(received, s)
		return nil
	})

	summary := r.ReportNow()
	if summary.RequestTypes["command:/dona-task"].Count != 1 {
		t.Errorf("expected the summary to carry the recorded request, got %+v", summary.RequestTypes)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 callback invocation, got %d", len(received))
	}
	if received[0].RequestTypes["command:/dona-task"].Count != 1 {
		t.Errorf("expected the callback to receive the same summary, got %+v", received[0].RequestTypes)
	}
}

func TestReporter_SinkFailureDoesNotStopOthers(t *testing.T) {
	c := NewCollector(DefaultWindow, zap.NewNop())
	r := NewReporter(c, time.Minute, zap.NewNop(), &observability.MockMetricsRegistry{})

	secondCalled := false
	r.AddCallback(func(Summary) error { return errors.New("sink down") })
	r.AddCallback(func(Summary) error { secondCalled = true; return nil })

	r.ReportNow()

	if !secondCalled {
		t.Error("expected the second sink to run despite the first one failing")
	}
}

func TestReporter_StartStop(t *testing.T) {
	c := NewCollector(DefaultWindow, zap.NewNop())
	r := NewReporter(c, 50*time.Millisecond, zap.NewNop(), &observability.MockMetricsRegistry{})

	var ticks atomic.Int64
	r.AddCallback(func(Summary) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	time.Sleep(180 * time.Millisecond)
	r.Stop(time.Second)

	got := ticks.Load()
	if got < 2 {
		t.Errorf("expected at least 2 ticks in 180ms at a 50ms interval, got %d", got)
	}

	// No further ticks after Stop returns
	time.Sleep(120 * time.Millisecond)
	if after := ticks.Load(); after != got {
		t.Errorf("expected no ticks after Stop, count went %d -> %d", got, after)
	}

	// Stop twice is harmless
	r.Stop(time.Second)
}
