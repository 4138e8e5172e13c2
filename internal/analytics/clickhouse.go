// Package analytics streams per-request events and metrics reports into
// ClickHouse for offline usage analysis. The bot runs fine without it: every
// method is nil-safe and reports ErrUnavailable when no sink is configured.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

// EventSink defines the interface for usage-event recording. Implementations
// handle unavailable storage by returning ErrUnavailable; callers on the
// request path swallow that.
type EventSink interface {
	// RecordRequestEvent records one handled request.
	RecordRequestEvent(ctx context.Context, ev RequestEvent) error
	// RecordReport persists a windowed metrics summary, one row per request type.
	RecordReport(ctx context.Context, s metrics.Summary) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

var _ EventSink = (*Analytics)(nil)

// RequestEvent mirrors a row in the bot_events table.
type RequestEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	RequestType string            `json:"request_type"`
	UserID      string            `json:"user_id"`
	Status      string            `json:"status"`
	DurationMs  float64           `json:"duration_ms"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// UsageRow is an aggregate count per request type and status.
type UsageRow struct {
	RequestType string `json:"request_type"`
	Status      string `json:"status"`
	Count       uint64 `json:"count"`
}

// UserUsage is an aggregate request count for one user.
type UserUsage struct {
	UserID string `json:"user_id"`
	Count  uint64 `json:"count"`
}

// InitClickHouse connects to ClickHouse and ensures the event tables exist.
func InitClickHouse(dsn string, registry observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	createEvents := `CREATE TABLE IF NOT EXISTS bot_events (
       timestamp    DateTime,
       request_type String,
       user_id      String,
       status       String,
       duration_ms  Float64,
       meta         Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (request_type, timestamp)`
	if _, err := db.ExecContext(context.Background(), createEvents); err != nil {
		return nil, fmt.Errorf("clickhouse create bot_events: %w", err)
	}

	createReports := `CREATE TABLE IF NOT EXISTS bot_metrics_reports (
       timestamp       DateTime,
       request_type    String,
       request_count   UInt32,
       success_count   UInt32,
       error_count     UInt32,
       error_rate      Float64,
       avg_duration_ms Float64,
       p95_duration_ms Float64,
       p99_duration_ms Float64,
       window_minutes  Float64
   ) ENGINE=MergeTree() ORDER BY (timestamp, request_type)`
	if _, err := db.ExecContext(context.Background(), createReports); err != nil {
		return nil, fmt.Errorf("clickhouse create bot_metrics_reports: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: registry}, nil
}

// RecordRequestEvent inserts a single event row into bot_events.
func (a *Analytics) RecordRequestEvent(ctx context.Context, ev RequestEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]string{}
	}

	stmt := `INSERT INTO bot_events (timestamp, request_type, user_id, status, duration_ms, meta) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ts, ev.RequestType, ev.UserID, ev.Status, ev.DurationMs, meta); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("request_type", ev.RequestType))
		a.Metrics.IncrementEventSinkErrors()
		return fmt.Errorf("insert request event: %w", err)
	}
	return nil
}

// RecordReport inserts one bot_metrics_reports row per request type in the
// summary.
func (a *Analytics) RecordReport(ctx context.Context, s metrics.Summary) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}

	stmt := `INSERT INTO bot_metrics_reports (timestamp, request_type, request_count, success_count, error_count, error_rate, avg_duration_ms, p95_duration_ms, p99_duration_ms, window_minutes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for requestType, stats := range s.RequestTypes {
		_, err := a.DB.ExecContext(ctx, stmt, s.Timestamp, requestType,
			uint32(stats.Count), uint32(stats.SuccessCount), uint32(stats.ErrorCount),
			stats.ErrorRate, stats.AvgDurationMs, stats.P95DurationMs, stats.P99DurationMs,
			s.WindowMinutes)
		if err != nil {
			zap.L().Error("clickhouse report insert failed", zap.Error(err), zap.String("request_type", requestType))
			a.Metrics.IncrementEventSinkErrors()
			return fmt.Errorf("insert metrics report: %w", err)
		}
	}
	return nil
}

// UsageTotals returns request counts grouped by type and status since the
// given time.
func (a *Analytics) UsageTotals(ctx context.Context, since time.Time) ([]UsageRow, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT request_type, status, count() AS c FROM bot_events WHERE timestamp >= ? GROUP BY request_type, status ORDER BY request_type, status`
	rows, err := a.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var totals []UsageRow
	for rows.Next() {
		var row UsageRow
		if err := rows.Scan(&row.RequestType, &row.Status, &row.Count); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return totals, nil
}

// UserRequestCount returns how many requests one user made since the given
// time.
func (a *Analytics) UserRequestCount(ctx context.Context, userID string, since time.Time) (uint64, error) {
	if a == nil || a.DB == nil {
		return 0, ErrUnavailable
	}
	var count uint64
	err := a.DB.QueryRowContext(ctx,
		`SELECT count() FROM bot_events WHERE user_id = ? AND timestamp >= ?`, userID, since).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query user request count: %w", err)
	}
	return count, nil
}

// TopUsers returns the heaviest users by request count since the given time.
func (a *Analytics) TopUsers(ctx context.Context, since time.Time, limit int) ([]UserUsage, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT user_id, count() AS c FROM bot_events WHERE timestamp >= ? AND user_id != '' GROUP BY user_id ORDER BY c DESC LIMIT ?`
	rows, err := a.DB.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query top users: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var users []UserUsage
	for rows.Next() {
		var u UserUsage
		if err := rows.Scan(&u.UserID, &u.Count); err != nil {
			return nil, fmt.Errorf("scan user usage: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}

// RecentEvents returns bot_events rows since the given time, newest first.
// Empty userID or requestType means no filter on that column.
func (a *Analytics) RecentEvents(ctx context.Context, userID, requestType string, since time.Time, limit int) ([]RequestEvent, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, request_type, user_id, status, duration_ms, meta FROM bot_events WHERE timestamp >= ?`
	args := []any{since}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if requestType != "" {
		query += ` AND request_type = ?`
		args = append(args, requestType)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []RequestEvent
	for rows.Next() {
		var ev RequestEvent
		if err := rows.Scan(&ev.Timestamp, &ev.RequestType, &ev.UserID, &ev.Status, &ev.DurationMs, &ev.Meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
