package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

// DefaultReportInterval is how often the reporter emits a summary.
const DefaultReportInterval = 5 * time.Minute

// Sink receives each periodic summary. A failing sink is logged and skipped;
// it never stops the reporting loop or the other sinks.
type Sink func(Summary) error

// Reporter periodically pulls a summary from the collector, logs a one-line
// digest and fans it out to registered sinks.
type Reporter struct {
	collector *Collector
	interval  time.Duration
	logger    *zap.Logger
	registry  observability.MetricsRegistry

	mu        sync.Mutex
	callbacks []Sink
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReporter creates a Reporter. A non-positive interval falls back to
// DefaultReportInterval.
func NewReporter(collector *Collector, interval time.Duration, logger *zap.Logger, registry observability.MetricsRegistry) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{
		collector: collector,
		interval:  interval,
		logger:    logger,
		registry:  registry,
	}
}

// AddCallback registers a sink for future reports.
func (r *Reporter) AddCallback(sink Sink) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, sink)
	r.mu.Unlock()
}

// Start launches the background reporting loop. Calling Start on a running
// reporter is a no-op.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.run(ctx, done)

	r.logger.Info("metrics reporter started", zap.Duration("interval", r.interval))
}

func (r *Reporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// Stop signals the loop to exit and waits up to timeout for an in-flight
// report to finish. Stopping a reporter that never started is a no-op.
func (r *Reporter) Stop(timeout time.Duration) {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("metrics reporter did not stop in time", zap.Duration("timeout", timeout))
	}
}

// ReportNow runs one report synchronously and returns the summary it
// distributed. Useful for on-demand status commands.
func (r *Reporter) ReportNow() Summary {
	return r.report()
}

func (r *Reporter) report() Summary {
	summary := r.collector.Summary()

	var total, errors int
	for _, stats := range summary.RequestTypes {
		total += stats.Count
		errors += stats.ErrorCount
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errors) / float64(total)
	}

	r.logger.Info("metrics report",
		zap.Int("total_requests", total),
		zap.Int("errors", errors),
		zap.Float64("error_rate", errorRate),
		zap.Int64("slow_requests", summary.Counters["slow_requests"]),
		zap.Float64("window_minutes", summary.WindowMinutes))

	r.registry.IncrementReports()

	r.mu.Lock()
	callbacks := make([]Sink, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(summary); err != nil {
			r.logger.Error("metrics report sink failed", zap.Error(err))
		}
	}

	return summary
}
