// Package metrics aggregates per-request outcomes over a fixed time window.
//
// The collector keeps raw samples for the last few minutes and cumulative
// counters for the life of the process. Summaries with latency percentiles
// are computed on demand, so recording stays cheap on the request path.
package metrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the retention horizon for raw samples.
const DefaultWindow = 5 * time.Minute

// Status classifies a recorded request outcome.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusRateLimited Status = "rate_limited"
)

type sample struct {
	at         time.Time
	durationMs float64
	status     Status
	userID     string
	meta       map[string]string
}

// TypeStats summarizes the retained samples of one request type.
type TypeStats struct {
	Count         int     `json:"count"`
	SuccessCount  int     `json:"success_count"`
	ErrorCount    int     `json:"error_count"`
	ErrorRate     float64 `json:"error_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MinDurationMs float64 `json:"min_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms"`
}

// Summary is a point-in-time view of the collector.
type Summary struct {
	WindowMinutes float64              `json:"window_minutes"`
	Timestamp     time.Time            `json:"timestamp"`
	RequestTypes  map[string]TypeStats `json:"request_types"`
	Counters      map[string]int64     `json:"counters"`
}

// UserTypeStats summarizes one request type for one user.
type UserTypeStats struct {
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// UserStats summarizes the retained samples of one user across types.
type UserStats struct {
	UserID        string                   `json:"user_id"`
	TotalRequests int                      `json:"total_requests"`
	RequestTypes  map[string]UserTypeStats `json:"request_types"`
}

// Collector records request outcomes and serves windowed summaries.
//
// Samples older than the window are purged on every insert and on every
// read, so memory stays bounded by recent traffic. Counters are cumulative
// and never purged. One mutex guards both.
type Collector struct {
	mu       sync.Mutex
	window   time.Duration
	samples  map[string][]sample
	counters map[string]int64
	logger   *zap.Logger
}

// NewCollector creates a Collector retaining samples for the given window.
// A non-positive window falls back to DefaultWindow.
func NewCollector(window time.Duration, logger *zap.Logger) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Collector{
		window:   window,
		samples:  make(map[string][]sample),
		counters: make(map[string]int64),
		logger:   logger,
	}
}

// RecordRequest appends a sample for the request type and bumps the
// "<type>:total" and "<type>:<status>" counters. meta may be nil; it carries
// free-form detail such as an error message.
func (c *Collector) RecordRequest(requestType string, duration time.Duration, status Status, userID string, meta map[string]string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples[requestType] = append(c.samples[requestType], sample{
		at:         now,
		durationMs: float64(duration) / float64(time.Millisecond),
		status:     status,
		userID:     userID,
		meta:       meta,
	})
	c.counters[requestType+":total"]++
	c.counters[requestType+":"+string(status)]++

	c.purgeLocked(now)
}

// IncrementCounter adds delta to a free-form counter, independent of the
// sample window. Used for process-wide signals like "errors" and
// "slow_requests".
func (c *Collector) IncrementCounter(name string, delta int64) {
	c.mu.Lock()
	c.counters[name] += delta
	c.mu.Unlock()
}

// purgeLocked drops samples older than the window. Samples are appended in
// time order, so each type's tail survives intact. Caller holds c.mu.
func (c *Collector) purgeLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	for typ, list := range c.samples {
		i := 0
		for i < len(list) && !list[i].at.After(cutoff) {
			i++
		}
		switch {
		case i == len(list):
			delete(c.samples, typ)
		case i > 0:
			// Copy so the purged prefix does not pin the old backing array
			c.samples[typ] = append([]sample(nil), list[i:]...)
		}
	}
}

// Summary purges expired samples and computes per-type statistics over what
// remains, plus a copy of all counters. Types with no retained samples are
// absent from the result.
func (c *Collector) Summary() Summary {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(now)

	types := make(map[string]TypeStats, len(c.samples))
	for typ, list := range c.samples {
		types[typ] = computeStats(list)
	}

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	return Summary{
		WindowMinutes: c.window.Minutes(),
		Timestamp:     now,
		RequestTypes:  types,
		Counters:      counters,
	}
}

// UserStats purges expired samples and summarizes one user's retained
// activity grouped by request type. A user with no samples gets a zeroed
// result, not an error.
func (c *Collector) UserStats(userID string) UserStats {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(now)

	stats := UserStats{
		UserID:       userID,
		RequestTypes: make(map[string]UserTypeStats),
	}
	for typ, list := range c.samples {
		var count int
		var sum float64
		for _, s := range list {
			if s.userID != userID {
				continue
			}
			count++
			sum += s.durationMs
		}
		if count == 0 {
			continue
		}
		stats.TotalRequests += count
		stats.RequestTypes[typ] = UserTypeStats{
			Count:         count,
			AvgDurationMs: sum / float64(count),
		}
	}
	return stats
}

func computeStats(list []sample) TypeStats {
	durations := make([]float64, 0, len(list))
	var sum float64
	var successes, errors int
	for _, s := range list {
		durations = append(durations, s.durationMs)
		sum += s.durationMs
		switch s.status {
		case StatusSuccess:
			successes++
		case StatusError:
			errors++
		}
	}
	sort.Float64s(durations)

	n := len(durations)
	return TypeStats{
		Count:         n,
		SuccessCount:  successes,
		ErrorCount:    errors,
		ErrorRate:     float64(errors) / float64(n),
		AvgDurationMs: sum / float64(n),
		MinDurationMs: durations[0],
		MaxDurationMs: durations[n-1],
		P95DurationMs: percentile(durations, 95),
		P99DurationMs: percentile(durations, 99),
	}
}

// percentile picks the nearest-rank element of a sorted slice: the value at
// floor(len * p / 100), clamped to the last index.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
