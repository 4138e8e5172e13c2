package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	collector := metrics.NewCollector(time.Minute, zap.NewNop())
	limiter := ratelimit.New(ratelimit.Config{Enabled: true}, zap.NewNop(), &observability.MockMetricsRegistry{})
	return NewServer(zap.NewNop(), nil, nil, nil, limiter, collector, &observability.MockMetricsRegistry{}, config.Config{})
}

func TestHealthHandlerWithoutDependencies(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if len(resp.Checks) != 0 {
		t.Errorf("checks = %v, want none without configured dependencies", resp.Checks)
	}
}

func TestMetricsSummaryHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.Collector.RecordRequest("command:/dona", 120*time.Millisecond, metrics.StatusSuccess, "U1", nil)
	srv.Collector.RecordRequest("command:/dona", 80*time.Millisecond, metrics.StatusError, "U2", nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var summary metrics.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	stats, ok := summary.RequestTypes["command:/dona"]
	if !ok {
		t.Fatalf("summary missing command:/dona, got %v", summary.RequestTypes)
	}
	if stats.Count != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("stats = %+v, want count 2, success 1, error 1", stats)
	}
}

func TestRateLimitStatsHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.Limiter.Check("U1", "command:/dona-task")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var stats ratelimit.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	// One check touches the global, user and command buckets.
	if stats.ActiveBuckets != 3 {
		t.Errorf("active buckets = %d, want 3", stats.ActiveBuckets)
	}
}

func TestRouterRejectsWrongMethod(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
