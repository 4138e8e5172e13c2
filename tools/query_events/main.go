// Command query_events dumps recent bot_events rows as JSON, filtered by
// user or request type. Handy when debugging why a user keeps hitting the
// rate limit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var user string
	var requestType string
	var dsn string
	var hours int
	var limit int
	flag.StringVar(&user, "user", "", "Slack user ID filter")
	flag.StringVar(&requestType, "type", "", "request type filter, e.g. command:/dona-task")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.IntVar(&hours, "hours", 24, "lookback window in hours")
	flag.IntVar(&limit, "limit", 100, "max rows")
	flag.Parse()

	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "CLICKHOUSE_DSN or -dsn required")
		os.Exit(1)
	}

	a, err := analytics.InitClickHouse(dsn, observability.NewNoOpRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	events, err := a.RecentEvents(context.Background(), user, requestType, since, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
