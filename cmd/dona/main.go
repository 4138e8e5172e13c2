package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/api"
	"github.com/AutonomosCdM/autonomos-dona/internal/cache"
	"github.com/AutonomosCdM/autonomos-dona/internal/config"
	"github.com/AutonomosCdM/autonomos-dona/internal/llm"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/middleware"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
	"github.com/AutonomosCdM/autonomos-dona/internal/scheduler"
	"github.com/AutonomosCdM/autonomos-dona/internal/slackbot"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// llmCacheCleanupInterval is how often expired intent-cache entries are swept.
const llmCacheCleanupInterval = 10 * time.Minute

func main() {
	// .env is a development convenience; absence is the normal case in prod.
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("bot error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.Env, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	st, err := store.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns,
		cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer st.Close()

	var redis *cache.RedisStore
	var channels *cache.ChannelCache
	if cfg.RedisAddr != "" {
		redis, err = cache.InitRedis(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer redis.Close()
		channels = cache.NewChannelCache(redis, cache.DefaultChannelTTL)
	} else {
		logger.Info("redis not configured, channel lookups go straight to Slack")
	}

	registry := observability.NewPrometheusRegistry()

	var events *analytics.Analytics
	var sink analytics.EventSink
	if cfg.ClickHouseDSN != "" {
		events, err = analytics.InitClickHouse(cfg.ClickHouseDSN, registry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer events.Close()
		sink = events
	} else {
		logger.Info("clickhouse not configured, analytics events are dropped")
	}

	limiter := ratelimit.New(ratelimit.Config{
		Enabled:   cfg.RateLimitEnabled,
		UserMax:   cfg.RateLimitUserMax,
		UserBurst: cfg.RateLimitUserBurst,
	}, logger, registry)

	if cfg.RateLimitPolicyFile != "" {
		if err := ratelimit.LoadPolicyFile(limiter, cfg.RateLimitPolicyFile); err != nil {
			return fmt.Errorf("load rate limit policies: %w", err)
		}
		go func() {
			if err := ratelimit.WatchPolicyFile(ctx, limiter, cfg.RateLimitPolicyFile, logger); err != nil {
				logger.Error("policy watcher stopped", zap.Error(err))
			}
		}()
	}

	collector := metrics.NewCollector(cfg.MetricsWindow, logger)

	reporter := metrics.NewReporter(collector, cfg.MetricsReportInterval, logger, registry)
	if events != nil {
		reporter.AddCallback(func(s metrics.Summary) error {
			return events.RecordReport(context.Background(), s)
		})
	}
	reporter.Start(ctx)
	defer reporter.Stop(5 * time.Second)

	llmClient := llm.NewClient(cfg.GroqAPIKey, cfg.GroqModel, cfg.GroqTimeout, cfg.GroqCacheTTL, logger, registry)
	llmClient.SetBaseURL(cfg.GroqBaseURL)
	llmClient.StartCacheCleanup(llmCacheCleanupInterval)

	bot := slackbot.New(slackbot.Deps{
		Config:    cfg,
		Store:     st,
		Limiter:   limiter,
		Collector: collector,
		LLM:       llmClient,
		Analytics: events,
		Admission: middleware.NewAdmission(limiter, collector, sink, logger),
		Requests:  middleware.NewRequests(collector, sink, registry, logger),
		Redis:     redis,
		Cache:     channels,
		Logger:    logger,
	})

	sched := scheduler.New(st, limiter, bot, cfg.RateLimitCleanupInterval, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	ops := api.NewServer(logger, st, redis, events, limiter, collector, registry, cfg)
	srv := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      ops.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ops server running", zap.String("addr", cfg.OpsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	return nil
}
