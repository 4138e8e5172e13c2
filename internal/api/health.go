package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the dependency pings so a hung database cannot
// wedge the health endpoint.
const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler reports overall status plus a ping result per configured
// dependency. Any failing ping degrades the status to 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if s.Store != nil && s.Store.DB != nil {
		if err := s.Store.DB.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if s.Redis != nil && s.Redis.Client != nil {
		if err := s.Redis.Client.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if s.Analytics != nil && s.Analytics.DB != nil {
		if err := s.Analytics.DB.PingContext(ctx); err != nil {
			checks["clickhouse"] = err.Error()
			healthy = false
		} else {
			checks["clickhouse"] = "ok"
		}
	}

	resp := healthResponse{Status: "ok", Checks: checks}
	code := http.StatusOK
	outcome := "success"
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
		outcome = "error"
	}
	s.writeJSON(w, code, resp)

	s.Metrics.IncrementRequests("ops:healthz", outcome)
	s.Metrics.RecordRequestLatency("ops:healthz", time.Since(start))
}
