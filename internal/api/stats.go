package api

import (
	"net/http"
	"time"
)

// MetricsSummaryHandler serves the collector's windowed summary as JSON,
// the machine-readable twin of /dona-metrics.
func (s *Server) MetricsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, s.Collector.Summary())
	s.Metrics.IncrementRequests("ops:metrics_summary", "success")
	s.Metrics.RecordRequestLatency("ops:metrics_summary", time.Since(start))
}

// RateLimitStatsHandler serves the limiter snapshot: active buckets and
// per-key rejection counts for the current window.
func (s *Server) RateLimitStatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, s.Limiter.Stats())
	s.Metrics.IncrementRequests("ops:ratelimit_stats", "success")
	s.Metrics.RecordRequestLatency("ops:ratelimit_stats", time.Since(start))
}
