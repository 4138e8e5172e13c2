package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	return New(Config{Enabled: true}, zap.NewNop(), &observability.MockMetricsRegistry{})
}

func TestLimiter_CheckAllows(t *testing.T) {
	l := newTestLimiter(t)

	d := l.Check("U123", "command:/dona-task")
	if !d.Allowed {
		t.Fatalf("expected request to be allowed, rejected by %s", d.Tier)
	}
	if d.Tier != "" || d.RetryAfter != 0 {
		t.Errorf("expected a clean allow decision, got %+v", d)
	}
}

func TestLimiter_GlobalExhaustion(t *testing.T) {
	l := newTestLimiter(t)
	if err := l.SetPolicy("global", Policy{MaxTokens: 3, RefillRate: 0.01, BurstSize: 1}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if d := l.Check("U1", ""); !d.Allowed {
			t.Fatalf("expected request %d to pass, rejected by %s", i+1, d.Tier)
		}
	}

	d := l.Check("U1", "")
	if d.Allowed {
		t.Fatal("expected 4th request to be rejected")
	}
	if d.Tier != TierGlobal {
		t.Errorf("expected global tier rejection, got %s", d.Tier)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %v", d.RetryAfter)
	}
}

func TestLimiter_UserTierIsolation(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 5, UserBurst: 2}, zap.NewNop(), &observability.MockMetricsRegistry{})

	for i := 0; i < 5; i++ {
		if d := l.Check("user1", ""); !d.Allowed {
			t.Fatalf("expected request %d from user1 to pass, rejected by %s", i+1, d.Tier)
		}
	}

	d := l.Check("user1", "")
	if d.Allowed {
		t.Fatal("expected 6th request from user1 to be rejected")
	}
	if d.Tier != TierUser {
		t.Errorf("expected user tier rejection, got %s", d.Tier)
	}

	// Another user has their own bucket and is unaffected
	if d := l.Check("user2", ""); !d.Allowed {
		t.Errorf("expected user2 to be allowed, rejected by %s", d.Tier)
	}
}

func TestLimiter_CommandTier(t *testing.T) {
	l := newTestLimiter(t)
	if err := l.SetPolicy("command:/test", Policy{MaxTokens: 3, RefillRate: 0.1, BurstSize: 1}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if d := l.Check("U1", "command:/test"); !d.Allowed {
			t.Fatalf("expected request %d to pass, rejected by %s", i+1, d.Tier)
		}
	}

	d := l.Check("U1", "command:/test")
	if d.Allowed {
		t.Fatal("expected 4th command to be rejected")
	}
	if d.Tier != TierCommand {
		t.Errorf("expected command tier rejection, got %s", d.Tier)
	}
	if d.Command != "command:/test" {
		t.Errorf("expected the rejecting command to be reported, got %q", d.Command)
	}

	// The same user can still run other commands
	if d := l.Check("U1", "command:/dona-task"); !d.Allowed {
		t.Errorf("expected a different command to pass, rejected by %s", d.Tier)
	}
}

func TestLimiter_CommandWithoutPolicyOnlyChecksTwoTiers(t *testing.T) {
	l := newTestLimiter(t)

	if d := l.Check("U1", "command:/unlimited"); !d.Allowed {
		t.Fatalf("expected command without a policy to pass, rejected by %s", d.Tier)
	}

	// Only the global and user buckets should exist
	stats := l.Stats()
	if stats.ActiveBuckets != 2 {
		t.Errorf("expected 2 buckets for a policy-less command, got %d", stats.ActiveBuckets)
	}
}

func TestLimiter_NoRollbackOnRejection(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 10, UserBurst: 2}, zap.NewNop(), &observability.MockMetricsRegistry{})
	if err := l.SetPolicy("command:/test", Policy{MaxTokens: 1, RefillRate: 0.001, BurstSize: 1}); err != nil {
		t.Fatal(err)
	}

	if d := l.Check("U1", "command:/test"); !d.Allowed {
		t.Fatalf("expected first request to pass, rejected by %s", d.Tier)
	}
	d := l.Check("U1", "command:/test")
	if d.Allowed || d.Tier != TierCommand {
		t.Fatalf("expected a command tier rejection, got %+v", d)
	}

	// Both requests spent a user token, including the rejected one
	info := l.LimitInfo("U1", "")
	if info.User == nil {
		t.Fatal("expected a user bucket to exist")
	}
	if info.User.Remaining != 8 {
		t.Errorf("expected 8 user tokens after two spends, got %d", info.User.Remaining)
	}
}

func TestLimiter_RefillAllowsAgain(t *testing.T) {
	l := newTestLimiter(t)
	if err := l.SetPolicy("command:/burst", Policy{MaxTokens: 1, RefillRate: 2, BurstSize: 1}); err != nil {
		t.Fatal(err)
	}

	if d := l.Check("U1", "command:/burst"); !d.Allowed {
		t.Fatalf("expected first request to pass, rejected by %s", d.Tier)
	}
	if d := l.Check("U1", "command:/burst"); d.Allowed {
		t.Fatal("expected second request to be rejected")
	}

	// 0.6s * 2 tokens/sec = 1.2 tokens
	time.Sleep(600 * time.Millisecond)

	if d := l.Check("U1", "command:/burst"); !d.Allowed {
		t.Errorf("expected request to pass after refill, rejected by %s", d.Tier)
	}
}

func TestLimiter_RetryAfter(t *testing.T) {
	l := newTestLimiter(t)
	if err := l.SetPolicy("command:/slow", Policy{MaxTokens: 1, RefillRate: 0.5, BurstSize: 1}); err != nil {
		t.Fatal(err)
	}

	l.Check("U1", "command:/slow")
	d := l.Check("U1", "command:/slow")
	if d.Allowed {
		t.Fatal("expected rejection")
	}

	// One token at 0.5 tokens/sec is two seconds away, minus whatever
	// refilled between the two calls.
	if d.RetryAfter <= 0 || d.RetryAfter > 2.0 {
		t.Errorf("expected retry-after in (0, 2], got %v", d.RetryAfter)
	}
}

func TestLimiter_LimitInfo(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 10, UserBurst: 2}, zap.NewNop(), &observability.MockMetricsRegistry{})

	// Looking never creates buckets
	info := l.LimitInfo("U1", "command:/dona-task")
	if info.User != nil || info.Command != nil {
		t.Fatalf("expected empty info before any requests, got %+v", info)
	}
	if got := l.Stats().ActiveBuckets; got != 0 {
		t.Fatalf("expected LimitInfo to create no buckets, found %d", got)
	}

	l.Check("U1", "command:/dona-task")
	l.Check("U1", "command:/dona-task")

	info = l.LimitInfo("U1", "command:/dona-task")
	if info.User == nil {
		t.Fatal("expected user limit info")
	}
	if info.User.Remaining != 8 {
		t.Errorf("expected 8 user tokens remaining, got %d", info.User.Remaining)
	}
	if info.User.MaxTokens != 10 {
		t.Errorf("expected user max of 10, got %d", info.User.MaxTokens)
	}
	if info.Command == nil {
		t.Fatal("expected command limit info")
	}
	if info.Command.Remaining != 28 {
		t.Errorf("expected 28 command tokens remaining, got %d", info.Command.Remaining)
	}
	if info.Command.Command != "command:/dona-task" {
		t.Errorf("unexpected command key %q", info.Command.Command)
	}
}

func TestLimiter_CleanupOldBuckets(t *testing.T) {
	l := newTestLimiter(t)

	l.Check("user1", "")
	l.Check("user2", "")

	// Age the user buckets two hours; the global bucket stays fresh
	past := time.Now().Add(-2 * time.Hour)
	l.mu.Lock()
	l.buckets["user:user1"].lastRefill = past
	l.buckets["user:user2"].lastRefill = past
	l.mu.Unlock()

	removed := l.CleanupOldBuckets(time.Hour)
	if removed != 2 {
		t.Errorf("expected 2 buckets removed, got %d", removed)
	}
	if got := l.Stats().ActiveBuckets; got != 1 {
		t.Errorf("expected only the global bucket to survive, got %d", got)
	}
}

func TestLimiter_Stats(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 1, UserBurst: 1}, zap.NewNop(), &observability.MockMetricsRegistry{})

	l.Check("user1", "")
	if d := l.Check("user1", ""); d.Allowed {
		t.Fatal("expected second request to be rejected")
	}

	stats := l.Stats()
	if stats.ActiveBuckets != 2 {
		t.Errorf("expected 2 active buckets, got %d", stats.ActiveBuckets)
	}
	if stats.LimitHits["user:user1"] != 1 {
		t.Errorf("expected 1 hit for user:user1, got %d", stats.LimitHits["user:user1"])
	}
	if stats.WindowStart.IsZero() {
		t.Error("expected a stats window start time")
	}
}

func TestLimiter_StatsWindowReset(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 1, UserBurst: 1}, zap.NewNop(), &observability.MockMetricsRegistry{})

	l.Check("user1", "")
	l.Check("user1", "")

	l.mu.Lock()
	l.windowStart = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()

	stats := l.Stats()
	if len(stats.LimitHits) != 0 {
		t.Errorf("expected hit counters to reset after the window expired, got %v", stats.LimitHits)
	}
	if time.Since(stats.WindowStart) > time.Minute {
		t.Error("expected the stats window to restart")
	}
}

func TestLimiter_DisabledAllowsEverything(t *testing.T) {
	l := New(Config{Enabled: false, UserMax: 1, UserBurst: 1}, zap.NewNop(), &observability.MockMetricsRegistry{})

	for i := 0; i < 100; i++ {
		if d := l.Check("user1", "command:/dona-metrics"); !d.Allowed {
			t.Fatalf("expected request %d to pass with limiting disabled", i+1)
		}
	}
	if got := l.Stats().ActiveBuckets; got != 0 {
		t.Errorf("expected no buckets with limiting disabled, got %d", got)
	}
}

func TestLimiter_SetPolicyValidates(t *testing.T) {
	l := newTestLimiter(t)

	if err := l.SetPolicy("user", Policy{MaxTokens: 0, RefillRate: 1, BurstSize: 1}); err == nil {
		t.Fatal("expected invalid policy to be rejected")
	}
}

func TestLimiter_UserMaxOverride(t *testing.T) {
	l := New(Config{Enabled: true, UserMax: 120, UserBurst: 20}, zap.NewNop(), &observability.MockMetricsRegistry{})

	l.mu.Lock()
	p := l.policies[userPolicyKey]
	l.mu.Unlock()

	if p.MaxTokens != 120 {
		t.Errorf("expected user max of 120, got %d", p.MaxTokens)
	}
	// Refill scales to replenish the full allowance over a minute
	if p.RefillRate != 2.0 {
		t.Errorf("expected refill rate of 2 tokens/sec, got %v", p.RefillRate)
	}
	if p.BurstSize != 20 {
		t.Errorf("expected burst of 20, got %d", p.BurstSize)
	}
}
