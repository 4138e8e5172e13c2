package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
)

func newTestRequests(t *testing.T) (*Requests, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector(metrics.DefaultWindow, zap.NewNop())
	return NewRequests(collector, nil, &observability.MockMetricsRegistry{}, zap.NewNop()), collector
}

func TestRequests_RecordsSuccess(t *testing.T) {
	reqs, collector := newTestRequests(t)

	req := Request{Kind: KindCommand, Command: "/dona-task", UserID: "U1"}
	h := reqs.Wrap(req, func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := collector.Summary()
	stats := summary.RequestTypes["command:/dona-task"]
	if stats.Count != 1 || stats.SuccessCount != 1 {
		t.Errorf("expected one success sample, got %+v", stats)
	}
	if stats.AvgDurationMs <= 0 {
		t.Errorf("expected a measured duration, got %v", stats.AvgDurationMs)
	}
	if summary.Counters["errors"] != 0 {
		t.Errorf("expected no error counters, got %d", summary.Counters["errors"])
	}
}

func TestRequests_RecordsErrorAndReturnsIt(t *testing.T) {
	reqs, collector := newTestRequests(t)

	boom := errors.New("handler exploded")
	req := Request{Kind: KindEvent, Event: "app_mention", UserID: "U1"}
	h := reqs.Wrap(req, func(context.Context) error { return boom })

	err := h(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the handler error back unchanged, got %v", err)
	}

	summary := collector.Summary()
	stats := summary.RequestTypes["event:app_mention"]
	if stats.ErrorCount != 1 {
		t.Errorf("expected one error sample, got %+v", stats)
	}
	if summary.Counters["errors"] != 1 {
		t.Errorf("expected errors counter of 1, got %d", summary.Counters["errors"])
	}
	if summary.Counters["errors:event:app_mention"] != 1 {
		t.Errorf("expected per-type error counter of 1, got %d", summary.Counters["errors:event:app_mention"])
	}
}

func TestRequests_ContextCarriesLogger(t *testing.T) {
	reqs, _ := newTestRequests(t)

	fallback := zap.NewNop()
	req := Request{Kind: KindCommand, Command: "/dona", UserID: "U1"}

	h := reqs.Wrap(req, func(ctx context.Context) error {
		if LoggerFromContext(ctx, fallback) == fallback {
			t.Error("expected a request-scoped logger in the context")
		}
		return nil
	})
	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChain_RejectionSkipsTiming(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, UserMax: 1, UserBurst: 1}, zap.NewNop(), &observability.MockMetricsRegistry{})
	collector := metrics.NewCollector(metrics.DefaultWindow, zap.NewNop())
	adm := NewAdmission(limiter, collector, nil, zap.NewNop())
	reqs := NewRequests(collector, nil, &observability.MockMetricsRegistry{}, zap.NewNop())

	req := Request{Kind: KindCommand, Command: "/dona-task", UserID: "U1"}
	runs := 0
	h := Chain(adm, reqs, req, func(string) error { return nil }, func(context.Context) error {
		runs++
		return nil
	})

	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if runs != 1 {
		t.Fatalf("expected the handler to run once, ran %d times", runs)
	}

	stats := collector.Summary().RequestTypes["command:/dona-task"]
	if stats.Count != 2 {
		t.Errorf("expected 2 samples (one success, one rate_limited), got %d", stats.Count)
	}
	if stats.SuccessCount != 1 {
		t.Errorf("expected 1 success, got %d", stats.SuccessCount)
	}
	if stats.ErrorCount != 0 {
		t.Errorf("expected no errors, got %d", stats.ErrorCount)
	}
}

func TestRequests_EmitsAnalyticsEvents(t *testing.T) {
	collector := metrics.NewCollector(metrics.DefaultWindow, zap.NewNop())
	sink := analytics.NewMockSink()
	reqs := NewRequests(collector, sink, &observability.MockMetricsRegistry{}, zap.NewNop())

	req := Request{Kind: KindCommand, Command: "/dona-task", UserID: "U1"}
	if err := reqs.Wrap(req, func(context.Context) error { return nil })(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reqs.Wrap(req, func(context.Context) error { return errors.New("boom") })(context.Background()); err == nil {
		t.Fatal("expected the handler error back")
	}

	if sink.EventCount() != 2 {
		t.Fatalf("expected 2 sink events, got %d", sink.EventCount())
	}
	last := sink.LastEvent()
	if last.Status != "error" {
		t.Errorf("expected last event status error, got %q", last.Status)
	}
	if last.Meta["error"] != "boom" {
		t.Errorf("expected error detail in meta, got %v", last.Meta)
	}
	if last.RequestType != "command:/dona-task" || last.UserID != "U1" {
		t.Errorf("unexpected event identity: %+v", last)
	}
}
