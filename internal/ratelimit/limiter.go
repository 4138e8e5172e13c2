package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

// Tier identifies which limit tier rejected a request.
type Tier string

const (
	TierGlobal  Tier = "global"
	TierUser    Tier = "user"
	TierCommand Tier = "command"
)

// Policy keys for the built-in tiers. Command tiers use the command string
// itself as the policy key (e.g. "command:/dona-task").
const (
	globalKey     = "global"
	userPolicyKey = "user"
)

// Hit counters reset after this much time, inside Stats.
const statsWindow = time.Hour

// Decision is the outcome of an admission check.
//
// Rejections carry the tier that ran dry, the command for command-tier
// rejections, and how many seconds the caller should wait before retrying.
// A rejection is an expected outcome, not an error.
type Decision struct {
	Allowed    bool
	Tier       Tier    // rejecting tier, empty when allowed
	Command    string  // command key, set for TierCommand rejections
	RetryAfter float64 // seconds until enough tokens accrue
}

// Limiter enforces tiered token bucket limits for bot requests.
//
// Tiers are checked in order: global, then per-user, then per-command when the
// command carries a policy. The first tier without a token rejects the request;
// tokens already consumed from earlier tiers are not returned, so a rejected
// request still counts against the tiers it passed.
//
// Buckets are created lazily, full, on first use. One mutex guards all state,
// which keeps refill-then-consume atomic per request.
//
// Example usage:
//
//	limiter := ratelimit.New(ratelimit.Config{Enabled: true}, logger, metrics)
//	decision := limiter.Check("U123", "command:/dona-task")
//	if !decision.Allowed {
//	    // decision.Tier and decision.RetryAfter describe the rejection
//	}
type Limiter struct {
	mu          sync.Mutex
	policies    map[string]Policy
	buckets     map[string]*TokenBucket
	hits        map[string]int64
	windowStart time.Time
	enabled     bool
	logger      *zap.Logger
	metrics     observability.MetricsRegistry
}

// Config holds the limiter configuration.
type Config struct {
	Enabled   bool
	UserMax   int // per-user MaxTokens override, 0 keeps the default of 60
	UserBurst int // per-user BurstSize override, 0 keeps the default of 10
}

func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		// Global limit across all users.
		globalKey: {MaxTokens: 1000, RefillRate: 100, BurstSize: 1000},

		// Per-user limit: 60 requests, refilling one per second.
		userPolicyKey: {MaxTokens: 60, RefillRate: 1, BurstSize: 10},

		// Per-command limits for the commands most likely to be hammered.
		"command:/dona-task":    {MaxTokens: 30, RefillRate: 0.5, BurstSize: 5},
		"command:/dona-remind":  {MaxTokens: 20, RefillRate: 0.33, BurstSize: 3},
		"command:/dona-summary": {MaxTokens: 10, RefillRate: 0.17, BurstSize: 2},
		"command:/dona-metrics": {MaxTokens: 5, RefillRate: 0.083, BurstSize: 1},
	}
}

// New creates a Limiter with the built-in default policies. A positive
// cfg.UserMax replaces the per-user tier with one refilling UserMax per minute.
func New(cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry) *Limiter {
	policies := defaultPolicies()
	if cfg.UserMax > 0 {
		burst := cfg.UserBurst
		if burst <= 0 {
			burst = 10
		}
		policies[userPolicyKey] = Policy{
			MaxTokens:  cfg.UserMax,
			RefillRate: float64(cfg.UserMax) / 60.0,
			BurstSize:  burst,
		}
	}
	return &Limiter{
		policies:    policies,
		buckets:     make(map[string]*TokenBucket),
		hits:        make(map[string]int64),
		windowStart: time.Now(),
		enabled:     cfg.Enabled,
		logger:      logger,
		metrics:     metrics,
	}
}

// Enabled reports whether the limiter is enforcing limits.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// SetPolicy validates and installs a policy under the given key.
// Existing buckets keyed under the policy pick it up on their next refill.
func (l *Limiter) SetPolicy(key string, p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("policy %q: %w", key, err)
	}

	l.mu.Lock()
	l.policies[key] = p
	l.mu.Unlock()

	l.logger.Info("rate limit policy set",
		zap.String("key", key),
		zap.Int("max_tokens", p.MaxTokens),
		zap.Float64("refill_rate", p.RefillRate),
		zap.Int("burst_size", p.BurstSize))
	return nil
}

// Check runs a request through the global, user and command tiers.
//
// The command string is expected in policy-key form ("command:/dona-task");
// pass "" for requests that have no command tier, such as events. When the
// limiter is disabled every request is allowed.
func (l *Limiter) Check(userID, command string) Decision {
	if !l.enabled {
		return Decision{Allowed: true}
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.metrics.IncrementAdmissionChecks(string(TierGlobal))
	if !l.checkLocked(globalKey, globalKey, now, 1) {
		l.hits[globalKey]++
		l.metrics.IncrementAdmissionRejects(string(TierGlobal))
		return Decision{
			Tier:       TierGlobal,
			RetryAfter: l.retryAfterLocked(globalKey, globalKey, 1),
		}
	}

	userKey := "user:" + userID
	l.metrics.IncrementAdmissionChecks(string(TierUser))
	if !l.checkLocked(userKey, userPolicyKey, now, 1) {
		l.hits[userKey]++
		l.metrics.IncrementAdmissionRejects(string(TierUser))
		return Decision{
			Tier:       TierUser,
			RetryAfter: l.retryAfterLocked(userKey, userPolicyKey, 1),
		}
	}

	if command != "" {
		if _, ok := l.policies[command]; ok {
			commandKey := command + ":" + userID
			l.metrics.IncrementAdmissionChecks(string(TierCommand))
			if !l.checkLocked(commandKey, command, now, 1) {
				l.hits[commandKey]++
				l.metrics.IncrementAdmissionRejects(string(TierCommand))
				return Decision{
					Tier:       TierCommand,
					Command:    command,
					RetryAfter: l.retryAfterLocked(commandKey, command, 1),
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// checkLocked refills and consumes from one bucket. Caller holds l.mu.
func (l *Limiter) checkLocked(bucketKey, policyKey string, now time.Time, n float64) bool {
	policy, ok := l.policies[policyKey]
	if !ok {
		// No limit configured for this key.
		return true
	}

	bucket, ok := l.buckets[bucketKey]
	if !ok {
		bucket = NewTokenBucket(policy, now)
		l.buckets[bucketKey] = bucket
		l.metrics.SetActiveBuckets(len(l.buckets))
	}

	bucket.Refill(policy, now)
	return bucket.Consume(n)
}

// retryAfterLocked computes the seconds until the bucket can cover n tokens,
// based on its balance after the failed consume. Caller holds l.mu.
func (l *Limiter) retryAfterLocked(bucketKey, policyKey string, n float64) float64 {
	policy, ok := l.policies[policyKey]
	if !ok {
		return 0
	}
	bucket, ok := l.buckets[bucketKey]
	if !ok {
		return 0
	}

	needed := n - bucket.Remaining()
	if needed <= 0 {
		return 0
	}
	return needed / policy.RefillRate
}

// TierInfo describes the state of one limit tier for a user.
type TierInfo struct {
	Command    string  `json:"command,omitempty"`
	Remaining  int     `json:"tokens_remaining"`
	MaxTokens  int     `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// Info reports the limit state a user can observe via /dona-limits.
type Info struct {
	User    *TierInfo `json:"user_limit,omitempty"`
	Command *TierInfo `json:"command_limit,omitempty"`
}

// LimitInfo reports remaining tokens for the user tier and, when a command is
// given and carries a policy, its command tier. Only buckets that already
// exist are reported; looking never creates one. Balances are refilled before
// reporting so the numbers reflect the current moment.
func (l *Limiter) LimitInfo(userID, command string) Info {
	now := time.Now()
	info := Info{}

	l.mu.Lock()
	defer l.mu.Unlock()

	userKey := "user:" + userID
	if bucket, ok := l.buckets[userKey]; ok {
		policy := l.policies[userPolicyKey]
		bucket.Refill(policy, now)
		info.User = &TierInfo{
			Remaining:  int(bucket.Remaining()),
			MaxTokens:  policy.MaxTokens,
			RefillRate: policy.RefillRate,
		}
	}

	if command != "" {
		if policy, ok := l.policies[command]; ok {
			commandKey := command + ":" + userID
			if bucket, ok := l.buckets[commandKey]; ok {
				bucket.Refill(policy, now)
				info.Command = &TierInfo{
					Command:    command,
					Remaining:  int(bucket.Remaining()),
					MaxTokens:  policy.MaxTokens,
					RefillRate: policy.RefillRate,
				}
			}
		}
	}

	return info
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	ActiveBuckets int              `json:"active_buckets"`
	LimitHits     map[string]int64 `json:"limit_hits"`
	WindowStart   time.Time        `json:"stats_window_start"`
}

// Stats returns the active bucket count and per-key rejection counters.
// Counters reset when the stats window is older than an hour.
func (l *Limiter) Stats() Stats {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) > statsWindow {
		l.hits = make(map[string]int64)
		l.windowStart = now
	}

	hits := make(map[string]int64, len(l.hits))
	for k, v := range l.hits {
		hits[k] = v
	}
	return Stats{
		ActiveBuckets: len(l.buckets),
		LimitHits:     hits,
		WindowStart:   l.windowStart,
	}
}

// CleanupOldBuckets drops buckets that have not been touched for maxAge,
// bounding memory for users and commands that went quiet.
//
// Returns the number of buckets removed.
func (l *Limiter) CleanupOldBuckets(maxAge time.Duration) int {
	now := time.Now()

	l.mu.Lock()
	removed := 0
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastRefill) > maxAge {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.metrics.SetActiveBuckets(len(l.buckets))
	}
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Info("cleaned up idle rate limit buckets", zap.Int("removed", removed))
	}
	return removed
}
