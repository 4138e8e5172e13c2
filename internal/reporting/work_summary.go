// Package reporting assembles per-user work summaries for /dona-summary.
// It combines task and time-tracking data from Postgres with conversation
// volume from the analytics sink into a single renderable report.
package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// Span selects the reporting period.
type Span string

const (
	SpanToday Span = "today"
	SpanWeek  Span = "week"
)

// maxTopPending caps how many pending tasks a summary lists.
const maxTopPending = 3

// ParseSpan maps the user-facing argument, in either language, to a Span.
func ParseSpan(arg string) (Span, bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "today", "hoy":
		return SpanToday, true
	case "week", "semana":
		return SpanWeek, true
	}
	return "", false
}

// UsageSource supplies per-user request counts. The ClickHouse analytics
// client satisfies it; summaries tolerate it being absent or failing.
type UsageSource interface {
	UserRequestCount(ctx context.Context, userID string, since time.Time) (uint64, error)
}

// WorkSummary is one user's activity over a span.
type WorkSummary struct {
	Span           Span          `json:"span"`
	Since          time.Time     `json:"since"`            // start of the reporting period
	TasksCompleted int           `json:"tasks_completed"`  // tasks completed since Since
	TasksPending   int           `json:"tasks_pending"`    // currently pending tasks
	TimeTracked    time.Duration `json:"time_tracked"`     // total tracked time since Since
	Conversations  uint64        `json:"conversations"`    // bot interactions since Since
	TopPending     []store.Task  `json:"top_pending"`      // most recent pending tasks, capped
}

// BuildWorkSummary gathers one user's task, time and conversation activity
// since the start of the span. Analytics being down costs only the
// conversation count; task and time data still report.
func BuildWorkSummary(ctx context.Context, st *store.Store, usage UsageSource, user store.User, span Span, now time.Time) (WorkSummary, error) {
	summary := WorkSummary{Span: span, Since: spanStart(span, now)}

	completed, err := st.CompletedTaskCount(ctx, user.ID, summary.Since)
	if err != nil {
		return WorkSummary{}, fmt.Errorf("count completed tasks: %w", err)
	}
	summary.TasksCompleted = completed

	pending, err := st.GetUserTasks(ctx, user.ID, store.TaskPending)
	if err != nil {
		return WorkSummary{}, fmt.Errorf("list pending tasks: %w", err)
	}
	summary.TasksPending = len(pending)
	if len(pending) > maxTopPending {
		pending = pending[:maxTopPending]
	}
	summary.TopPending = pending

	entries, err := st.GetUserTimeEntries(ctx, user.ID, summary.Since)
	if err != nil {
		return WorkSummary{}, fmt.Errorf("list time entries: %w", err)
	}
	for _, e := range entries {
		summary.TimeTracked += e.Duration(now)
	}

	if usage != nil {
		if count, err := usage.UserRequestCount(ctx, user.SlackUserID, summary.Since); err == nil {
			summary.Conversations = count
		}
	}

	return summary, nil
}

// spanStart returns local midnight today, or local midnight on Monday of
// the current week.
func spanStart(span Span, now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if span != SpanWeek {
		return day
	}
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday closes the week, it does not start one
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// FormatSlack renders a summary as the /dona-summary reply.
func FormatSlack(s WorkSummary) string {
	var b strings.Builder
	if s.Span == SpanWeek {
		b.WriteString(":chart_with_upwards_trend: *Resumen Semanal*\n\n")
	} else {
		b.WriteString(":calendar: *Resumen de Hoy*\n\n")
	}

	fmt.Fprintf(&b, "*Tareas completadas:* %d\n", s.TasksCompleted)
	fmt.Fprintf(&b, "*Tareas pendientes:* %d\n", s.TasksPending)
	fmt.Fprintf(&b, "*Tiempo registrado:* %s\n", formatDuration(s.TimeTracked))
	fmt.Fprintf(&b, "*Conversaciones con Dona:* %d\n", s.Conversations)

	if len(s.TopPending) > 0 {
		b.WriteString("\n*Pendientes prioritarios:*\n")
		for _, t := range s.TopPending {
			fmt.Fprintf(&b, "• %s\n", t.Description)
		}
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
