// Package api is the ops-facing HTTP surface: health with dependency pings,
// the Prometheus scrape endpoint, and JSON snapshots of the metrics
// collector and the rate limiter.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/cache"
	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/middleware"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// Server groups dependencies for the ops handlers. Redis and Analytics may
// be nil; health simply skips their pings.
type Server struct {
	Logger    *zap.Logger
	Store     *store.Store
	Redis     *cache.RedisStore
	Analytics *analytics.Analytics
	Limiter   *ratelimit.Limiter
	Collector *metrics.Collector
	Metrics   observability.MetricsRegistry
	Config    config.Config
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, st *store.Store, redis *cache.RedisStore, an *analytics.Analytics,
	limiter *ratelimit.Limiter, collector *metrics.Collector, registry observability.MetricsRegistry,
	cfg config.Config) *Server {
	return &Server{
		Logger:    logger,
		Store:     st,
		Redis:     redis,
		Analytics: an,
		Limiter:   limiter,
		Collector: collector,
		Metrics:   registry,
		Config:    cfg,
	}
}

// Router assembles the route table and wraps it in tracing and the
// trace-aware logger middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/metrics/summary", s.MetricsSummaryHandler).Methods("GET")
	v1.HandleFunc("/ratelimit/stats", s.RateLimitStatsHandler).Methods("GET")

	var handler http.Handler = r
	handler = middleware.WithTraceLogger(s.Logger)(handler)
	return otelhttp.NewHandler(handler, "ops")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("could not encode response", zap.Error(err))
	}
}
