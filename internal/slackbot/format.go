package slackbot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

func statusEmoji(s store.TaskStatus) string {
	switch s {
	case store.TaskPending:
		return ":white_circle:"
	case store.TaskInProgress:
		return ":large_blue_circle:"
	case store.TaskCompleted:
		return ":green_circle:"
	case store.TaskCancelled:
		return ":x:"
	default:
		return ":white_circle:"
	}
}

// FormatTaskList renders tasks the way /dona-task list shows them.
func FormatTaskList(tasks []store.Task) string {
	var b strings.Builder
	b.WriteString("*Tus tareas:*\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s *%s*\n", statusEmoji(t.Status), t.Description)
		fmt.Fprintf(&b, "   ID: %d | Prioridad: %s\n\n", t.ID, t.Priority)
	}
	return b.String()
}

// FormatDuration renders a duration as "2h 15m", dropping the hour part
// under one hour. Negative values clamp to zero.
func FormatDuration(d time.Duration) string {
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

// FormatUserStatus renders the /dona-status body for one user.
func FormatUserStatus(stats store.UserStats, active *store.TimeEntry, now time.Time) string {
	var b strings.Builder
	b.WriteString(":chart_with_upwards_trend: *Your Status*\n\n")
	fmt.Fprintf(&b, "*Pending Tasks:* %d\n", stats.PendingTasks)
	fmt.Fprintf(&b, "*In Progress:* %d\n", stats.InProgressTasks)
	fmt.Fprintf(&b, "*Completed Today:* %d\n\n", stats.CompletedToday)
	fmt.Fprintf(&b, "*Time Today:* %s\n", FormatDuration(time.Duration(stats.MinutesToday)*time.Minute))
	fmt.Fprintf(&b, "*This Week:* %s\n", FormatDuration(time.Duration(stats.MinutesWeek)*time.Minute))

	if active != nil {
		desc := active.Description
		if desc == "" {
			desc = "(sin descripción)"
		}
		fmt.Fprintf(&b, "\n*Current Activity:* %s\n", desc)
		fmt.Fprintf(&b, "*Started:* %s\n", active.StartedAt.In(now.Location()).Format("3:04 PM"))
	}
	return b.String()
}

// FormatMetrics renders the /dona-metrics body from a collector summary,
// optionally appending one user's personal statistics.
func FormatMetrics(summary metrics.Summary, userStats *metrics.UserStats) string {
	lines := []string{"*System Metrics*\n"}
	lines = append(lines, fmt.Sprintf("_Window: Last %.0f minutes_\n", summary.WindowMinutes))

	totalRequests := 0
	for _, stats := range summary.RequestTypes {
		totalRequests += stats.Count
	}
	totalErrors := summary.Counters["errors"]
	errorRate := 0.0
	if totalRequests > 0 {
		errorRate = float64(totalErrors) / float64(totalRequests) * 100
	}

	lines = append(lines, "*Overall Statistics:*")
	lines = append(lines, fmt.Sprintf("• Total Requests: %d", totalRequests))
	lines = append(lines, fmt.Sprintf("• Total Errors: %d (%.1f%%)", totalErrors, errorRate))
	lines = append(lines, fmt.Sprintf("• Slow Requests: %d", summary.Counters["slow_requests"]))
	lines = append(lines, "")

	if len(summary.RequestTypes) > 0 {
		lines = append(lines, "*Request Type Breakdown:*")

		types := make([]string, 0, len(summary.RequestTypes))
		for requestType := range summary.RequestTypes {
			types = append(types, requestType)
		}
		sort.Strings(types)

		for _, requestType := range types {
			stats := summary.RequestTypes[requestType]
			lines = append(lines, fmt.Sprintf("\n_%s_", requestType))
			lines = append(lines, fmt.Sprintf("• Count: %d", stats.Count))
			lines = append(lines, fmt.Sprintf("• Success: %d | Errors: %d", stats.SuccessCount, stats.ErrorCount))
			lines = append(lines, fmt.Sprintf("• Avg Duration: %.0fms", stats.AvgDurationMs))
			lines = append(lines, fmt.Sprintf("• P95 Duration: %.0fms", stats.P95DurationMs))
			lines = append(lines, fmt.Sprintf("• Max Duration: %.0fms", stats.MaxDurationMs))
		}
	}

	if userStats != nil && userStats.TotalRequests > 0 {
		lines = append(lines, "\n*Your Statistics:*")
		lines = append(lines, fmt.Sprintf("• Total Requests: %d", userStats.TotalRequests))

		types := make([]string, 0, len(userStats.RequestTypes))
		for requestType := range userStats.RequestTypes {
			types = append(types, requestType)
		}
		sort.Strings(types)
		for _, requestType := range types {
			typeStats := userStats.RequestTypes[requestType]
			lines = append(lines, fmt.Sprintf("• %s: %d (avg %.0fms)", requestType, typeStats.Count, typeStats.AvgDurationMs))
		}
	}

	return strings.Join(lines, "\n")
}

// HomeView builds the App Home dashboard for a user.
func HomeView(stats store.UserStats, active *store.TimeEntry) slack.HomeTabViewRequest {
	todayLines := []string{
		fmt.Sprintf("• Tasks completed: %d", stats.CompletedToday),
		fmt.Sprintf("• Time tracked: %s", FormatDuration(time.Duration(stats.MinutesToday)*time.Minute)),
		fmt.Sprintf("• Pending tasks: %d", stats.PendingTasks),
	}
	if active != nil && active.Description != "" {
		todayLines = append(todayLines, fmt.Sprintf("• Current task: %s", active.Description))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Welcome to Autónomos Dona! :house:", true, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Your Dashboard*\n\nHere's your productivity overview:", false, false),
			nil, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Today's Stats*\n"+strings.Join(todayLines, "\n"), false, false),
			nil, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Quick Actions*", false, false),
			nil, nil),
		slack.NewActionBlock("home_actions",
			slack.NewButtonBlockElement("create_task_button", "create_task",
				slack.NewTextBlockObject(slack.PlainTextType, "Create Task", false, false)).
				WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement("start_timer_button", "start_timer",
				slack.NewTextBlockObject(slack.PlainTextType, "Start Timer", false, false)),
			slack.NewButtonBlockElement("view_tasks_button", "view_tasks",
				slack.NewTextBlockObject(slack.PlainTextType, "View Tasks", false, false)),
		),
	}

	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}
