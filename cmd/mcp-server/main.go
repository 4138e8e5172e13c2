// Command mcp-server exposes Dona's operational data as MCP tools over
// stdio, so admin assistants can inspect tasks, usage and rate limiting
// without shelling into the bot host.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

type ListTasksInput struct {
	SlackUserID string `json:"slack_user_id"`
	Status      string `json:"status,omitempty"`
}

type ListTasksOutput struct {
	Tasks []store.Task `json:"tasks"`
}

type UsageSummaryInput struct {
	Hours int `json:"hours,omitempty"` // lookback window, defaults to 24
}

type UsageSummaryOutput struct {
	Since    time.Time             `json:"since"`
	Totals   []analytics.UsageRow  `json:"totals"`
	TopUsers []analytics.UserUsage `json:"top_users"`
}

type RateLimitStatsInput struct{}

type RateLimitStatsOutput struct {
	ActiveBuckets int              `json:"active_buckets"`
	LimitHits     map[string]int64 `json:"limit_hits"`
	WindowStart   time.Time        `json:"stats_window_start"`
}

// DonaServer holds the admin tools' dependencies. The analytics client may
// be nil when ClickHouse is not configured; usage_summary then reports an
// error instead of empty data.
type DonaServer struct {
	store     *store.Store
	analytics *analytics.Analytics
	cfg       config.Config
	opsURL    string
	logger    *zap.Logger
}

// ListTasks returns a user's tasks, optionally filtered by status.
func (s *DonaServer) ListTasks(ctx context.Context, req *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, ListTasksOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	user, err := s.store.GetUserBySlackID(ctx, input.SlackUserID, s.cfg.SlackWorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ListTasksOutput{Tasks: []store.Task{}}, nil
		}
		return nil, ListTasksOutput{}, err
	}

	tasks, err := s.store.GetUserTasks(ctx, user.ID, store.TaskStatus(input.Status))
	if err != nil {
		return nil, ListTasksOutput{}, err
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return nil, ListTasksOutput{Tasks: tasks}, nil
}

// UsageSummary aggregates bot_events over the lookback window.
func (s *DonaServer) UsageSummary(ctx context.Context, req *mcp.CallToolRequest, input UsageSummaryInput) (*mcp.CallToolResult, UsageSummaryOutput, error) {
	if s.analytics == nil {
		return nil, UsageSummaryOutput{}, fmt.Errorf("analytics not configured, set CLICKHOUSE_DSN")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hours := input.Hours
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	totals, err := s.analytics.UsageTotals(ctx, since)
	if err != nil {
		return nil, UsageSummaryOutput{}, err
	}
	topUsers, err := s.analytics.TopUsers(ctx, since, 10)
	if err != nil {
		return nil, UsageSummaryOutput{}, err
	}
	if totals == nil {
		totals = []analytics.UsageRow{}
	}
	if topUsers == nil {
		topUsers = []analytics.UserUsage{}
	}
	return nil, UsageSummaryOutput{Since: since, Totals: totals, TopUsers: topUsers}, nil
}

// RateLimitStats fetches the live limiter snapshot from the running bot's
// ops server. Limiter state is in-process, so it can only come from the bot.
func (s *DonaServer) RateLimitStats(ctx context.Context, req *mcp.CallToolRequest, input RateLimitStatsInput) (*mcp.CallToolResult, RateLimitStatsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := s.opsURL + "/api/v1/ratelimit/stats"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RateLimitStatsOutput{}, fmt.Errorf("create stats request: %w", err)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, RateLimitStatsOutput{}, fmt.Errorf("is the bot running? stats request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, RateLimitStatsOutput{}, fmt.Errorf("ops server %d: %s", resp.StatusCode, string(body))
	}

	var out RateLimitStatsOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, RateLimitStatsOutput{}, fmt.Errorf("decode stats: %w", err)
	}
	return nil, out, nil
}

func main() {
	// stdio carries the MCP protocol, so all logging goes to stderr.
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.NameKey = "logger"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("dona-mcp").With(zap.String("service", "dona-mcp"))

	cfg := config.Load()

	st, err := store.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns,
		cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer st.Close()

	var events *analytics.Analytics
	if cfg.ClickHouseDSN != "" {
		events, err = analytics.InitClickHouse(cfg.ClickHouseDSN, observability.NewNoOpRegistry())
		if err != nil {
			logger.Warn("clickhouse unavailable, usage_summary disabled", zap.Error(err))
			events = nil
		}
	}

	opsURL := os.Getenv("DONA_OPS_URL")
	if opsURL == "" {
		opsURL = "http://localhost:8790"
	}

	donaServer := &DonaServer{
		store:     st,
		analytics: events,
		cfg:       cfg,
		opsURL:    opsURL,
		logger:    logger,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "autonomos-dona",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List a Slack user's tasks, optionally filtered by status",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"slack_user_id": map[string]interface{}{
					"type":        "string",
					"description": "Slack user ID, e.g. U0123456789",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"pending", "in_progress", "completed", "cancelled"},
					"description": "Task status filter (optional, all statuses when omitted)",
				},
			},
			"required": []string{"slack_user_id"},
		},
	}, donaServer.ListTasks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "usage_summary",
		Description: "Aggregate bot usage by request type and heaviest users over a lookback window",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"hours": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Lookback window in hours (optional, defaults to 24)",
				},
			},
		},
	}, donaServer.UsageSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rate_limit_stats",
		Description: "Live rate limiter snapshot from the running bot: active buckets and per-key rejection counts",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, donaServer.RateLimitStats)

	logger.Info("MCP server running via stdio")
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
