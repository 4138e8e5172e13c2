package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

// SlowRequestThreshold marks handler runs worth a warning log and a bump of
// the slow_requests counter.
const SlowRequestThreshold = 3 * time.Second

// Requests times downstream handlers and records their outcome in the
// collector, the prometheus registry and the analytics sink.
type Requests struct {
	collector *metrics.Collector
	sink      analytics.EventSink
	registry  observability.MetricsRegistry
	logger    *zap.Logger
}

// NewRequests builds the request-logging middleware. sink may be nil when no
// analytics backend is configured.
func NewRequests(collector *metrics.Collector, sink analytics.EventSink, registry observability.MetricsRegistry, logger *zap.Logger) *Requests {
	return &Requests{
		collector: collector,
		sink:      sink,
		registry:  registry,
		logger:    logger,
	}
}

// emitEvent forwards a handled request to the analytics sink. Sink failures
// are logged and counted inside the sink and never fail the request path.
func (r *Requests) emitEvent(ctx context.Context, req Request, status string, duration time.Duration, meta map[string]string) {
	if r.sink == nil {
		return
	}
	_ = r.sink.RecordRequestEvent(ctx, analytics.RequestEvent{
		RequestType: req.Type(),
		UserID:      req.UserID,
		Status:      status,
		DurationMs:  float64(duration) / float64(time.Millisecond),
		Meta:        meta,
	})
}

// Wrap returns a handler that assigns a request ID, stashes a request-scoped
// logger in the context, times next and records the outcome. Downstream
// errors are recorded and returned unchanged, never swallowed.
func (r *Requests) Wrap(req Request, next Handler) Handler {
	return func(ctx context.Context) error {
		requestID := uuid.NewString()
		requestType := req.Type()

		logger := r.logger.With(
			zap.String("request_id", requestID),
			zap.String("request_type", requestType),
			zap.String("user_id", req.UserID),
		)
		ctx = ContextWithLogger(ctx, logger)

		// Start logs are sampled; at full traffic every DM would log twice
		sampleRate := observability.GetSamplingRate()
		if observability.ShouldSample(sampleRate) {
			logger.Debug("request started")
		}

		start := time.Now()
		err := next(ctx)
		duration := time.Since(start)

		r.registry.RecordRequestLatency(string(req.Kind), duration)

		if err != nil {
			r.collector.RecordRequest(requestType, duration, metrics.StatusError, req.UserID, map[string]string{
				"error": err.Error(),
			})
			r.collector.IncrementCounter("errors", 1)
			r.collector.IncrementCounter("errors:"+requestType, 1)
			r.registry.IncrementRequests(string(req.Kind), "error")
			r.emitEvent(ctx, req, string(metrics.StatusError), duration, map[string]string{"error": err.Error()})
			logger.Error("request failed",
				zap.Duration("duration", duration),
				zap.Error(err))
			return err
		}

		r.collector.RecordRequest(requestType, duration, metrics.StatusSuccess, req.UserID, nil)
		r.registry.IncrementRequests(string(req.Kind), "success")
		r.emitEvent(ctx, req, string(metrics.StatusSuccess), duration, nil)

		if duration > SlowRequestThreshold {
			r.collector.IncrementCounter("slow_requests", 1)
			r.registry.IncrementSlowRequests()
			logger.Warn("slow request", zap.Duration("duration", duration))
		}

		if observability.ShouldSample(sampleRate) {
			logger.Debug("request completed", zap.Duration("duration", duration))
		}
		return nil
	}
}
