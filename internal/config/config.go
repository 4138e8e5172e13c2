package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Slack credentials and workspace
	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string
	SlackWorkspaceID   string
	AdminUsers         string

	Env      string
	Debug    bool
	LogLevel string

	// Storage
	PostgresDSN   string
	RedisAddr     string
	ClickHouseDSN string

	// LLM provider
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string
	GroqTimeout  time.Duration
	GroqCacheTTL time.Duration

	// Rate limiting
	RateLimitEnabled         bool
	RateLimitUserMax         int
	RateLimitUserBurst       int
	RateLimitCleanupInterval time.Duration
	RateLimitPolicyFile      string

	// Metrics
	MetricsWindow         time.Duration
	MetricsReportInterval time.Duration

	// Ops HTTP server
	OpsAddr      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64

	ServiceName string
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.SlackBotToken = getenv("SLACK_BOT_TOKEN", "")
	cfg.SlackAppToken = getenv("SLACK_APP_TOKEN", "")
	cfg.SlackSigningSecret = getenv("SLACK_SIGNING_SECRET", "")
	cfg.SlackWorkspaceID = getenv("SLACK_WORKSPACE_ID", "T000000")
	cfg.AdminUsers = getenv("ADMIN_USERS", "")

	cfg.Env = getenv("ENV", "development")
	cfg.Debug = envBool("DEBUG", false)
	cfg.LogLevel = getenv("LOG_LEVEL", "")

	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")

	cfg.GroqAPIKey = getenv("GROQ_API_KEY", "")
	cfg.GroqModel = getenv("GROQ_MODEL", "llama-3.3-70b-versatile")
	cfg.GroqBaseURL = getenv("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	cfg.GroqTimeout = envDuration("GROQ_TIMEOUT", 30*time.Second)
	cfg.GroqCacheTTL = envDuration("GROQ_CACHE_TTL", 5*time.Minute)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitUserMax = envInt("RATE_LIMIT_USER_MAX", 60)
	cfg.RateLimitUserBurst = envInt("RATE_LIMIT_USER_BURST", 10)
	cfg.RateLimitCleanupInterval = envDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitPolicyFile = getenv("RATE_LIMIT_POLICY_FILE", "")

	cfg.MetricsWindow = envDuration("METRICS_WINDOW", 5*time.Minute)
	cfg.MetricsReportInterval = envDuration("METRICS_REPORT_INTERVAL", 5*time.Minute)

	cfg.OpsAddr = getenv("OPS_ADDR", ":8790")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	cfg.ServiceName = getenv("SERVICE_NAME", "autonomos-dona")

	return cfg
}

// Validate checks that the credentials the bot cannot run without are present.
// All problems are reported in a single error so operators can fix them in one pass.
func (c Config) Validate() error {
	var missing []string
	if c.SlackBotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}
	if c.SlackAppToken == "" {
		missing = append(missing, "SLACK_APP_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// Token shape only matters outside development, where real credentials are expected.
	if !c.IsDevelopment() {
		if !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
			return fmt.Errorf("SLACK_BOT_TOKEN must be a bot token (xoxb-)")
		}
		if !strings.HasPrefix(c.SlackAppToken, "xapp-") {
			return fmt.Errorf("SLACK_APP_TOKEN must be an app-level token (xapp-)")
		}
	}
	return nil
}

// IsDevelopment reports whether the bot runs in a development environment.
func (c Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsAdmin reports whether the given Slack user ID is in the admin list.
func (c Config) IsAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range strings.Split(c.AdminUsers, ",") {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
