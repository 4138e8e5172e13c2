package middleware

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/observability"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
)

func newTestAdmission(t *testing.T, cfg ratelimit.Config) (*Admission, *metrics.Collector) {
	t.Helper()
	limiter := ratelimit.New(cfg, zap.NewNop(), &observability.MockMetricsRegistry{})
	collector := metrics.NewCollector(metrics.DefaultWindow, zap.NewNop())
	return NewAdmission(limiter, collector, nil, zap.NewNop()), collector
}

func TestAdmission_AllowsUnderLimit(t *testing.T) {
	adm, _ := newTestAdmission(t, ratelimit.Config{Enabled: true})

	req := Request{Kind: KindCommand, Command: "/dona-task", UserID: "U1"}
	ran := false
	responded := false

	h := adm.Wrap(req, func(string) error { responded = true; return nil }, func(context.Context) error {
		ran = true
		return nil
	})
	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ran {
		t.Error("expected the handler to run")
	}
	if responded {
		t.Error("expected no rejection message for an allowed request")
	}
}

func TestAdmission_RejectsAndResponds(t *testing.T) {
	adm, collector := newTestAdmission(t, ratelimit.Config{Enabled: true, UserMax: 1, UserBurst: 1})

	req := Request{Kind: KindCommand, Command: "/dona-task", UserID: "U1"}
	var messages []string
	runs := 0

	h := adm.Wrap(req, func(msg string) error { messages = append(messages, msg); return nil }, func(context.Context) error {
		runs++
		return nil
	})

	if err := h(context.Background()); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if err := h(context.Background()); err != nil {
		t.Fatalf("a rejection must not surface as an error, got %v", err)
	}

	if runs != 1 {
		t.Errorf("expected the handler to run once, ran %d times", runs)
	}
	if len(messages) != 1 {
		t.Fatalf("expected exactly one rejection message, got %d", len(messages))
	}
	if !strings.Contains(messages[0], "🚦") {
		t.Errorf("expected the user tier wording, got %q", messages[0])
	}

	stats := collector.Summary().RequestTypes["command:/dona-task"]
	if stats.Count != 1 {
		t.Errorf("expected 1 recorded sample for the rejection, got %d", stats.Count)
	}
	if stats.SuccessCount != 0 || stats.ErrorCount != 0 {
		t.Errorf("expected the rejection to count as rate_limited, got %+v", stats)
	}
}

func TestAdmission_EventsBypassRateLimit(t *testing.T) {
	adm, _ := newTestAdmission(t, ratelimit.Config{Enabled: true, UserMax: 1, UserBurst: 1})

	req := Request{Kind: KindEvent, Event: "app_mention", UserID: "U1"}
	runs := 0
	h := adm.Wrap(req, nil, func(context.Context) error { runs++; return nil })

	for i := 0; i < 10; i++ {
		if err := h(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if runs != 10 {
		t.Errorf("expected all 10 events to reach the handler, got %d", runs)
	}
}

func TestAdmission_MissingUserIDPassesThrough(t *testing.T) {
	adm, _ := newTestAdmission(t, ratelimit.Config{Enabled: true, UserMax: 1, UserBurst: 1})

	req := Request{Kind: KindCommand, Command: "/dona-task"}
	runs := 0
	h := adm.Wrap(req, nil, func(context.Context) error { runs++; return nil })

	for i := 0; i < 3; i++ {
		if err := h(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if runs != 3 {
		t.Errorf("expected commands without a user id to pass through, got %d runs", runs)
	}
}

func TestRejectionMessage(t *testing.T) {
	tests := []struct {
		name     string
		decision ratelimit.Decision
		contains []string
	}{
		{
			"global tier",
			ratelimit.Decision{Tier: ratelimit.TierGlobal, RetryAfter: 30},
			[]string{"⚠️", "mucho tráfico", "1 minuto."},
		},
		{
			"command tier strips prefix",
			ratelimit.Decision{Tier: ratelimit.TierCommand, Command: "command:/dona-task", RetryAfter: 90},
			[]string{"⏱️", "`/dona-task`", "1 minuto "},
		},
		{
			"user tier with tip",
			ratelimit.Decision{Tier: ratelimit.TierUser, RetryAfter: 180},
			[]string{"🚦", "3 minutos", "_Tip: Puedes agrupar múltiples tareas en un solo comando._"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := RejectionMessage(tt.decision)
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("expected message to contain %q, got %q", want, msg)
				}
			}
		})
	}
}

func TestRetryAfterMinutes(t *testing.T) {
	tests := []struct {
		seconds float64
		want    int
	}{
		{0, 1},
		{30, 1},
		{59, 1},
		{60, 1},
		{119, 1},
		{120, 2},
		{3600, 60},
	}

	for _, tt := range tests {
		if got := retryAfterMinutes(tt.seconds); got != tt.want {
			t.Errorf("retryAfterMinutes(%v) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestStatusText_Disabled(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: false}, zap.NewNop(), &observability.MockMetricsRegistry{})

	got := StatusText(limiter, "U1", "")
	if got != "Rate limiting is currently disabled." {
		t.Errorf("unexpected disabled notice: %q", got)
	}
}

func TestStatusText(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, UserMax: 10, UserBurst: 2}, zap.NewNop(), &observability.MockMetricsRegistry{})

	limiter.Check("U1", "command:/dona-task")
	limiter.Check("U1", "command:/dona-task")

	got := StatusText(limiter, "U1", "command:/dona-task")

	for _, want := range []string{
		"*📊 Rate Limit Status*",
		"• Remaining: 8/10 (80%)",
		"• Refill rate: 10 requests/min",
		"*Límite de `/dona-task`:*",
		"• Remaining: 28/30",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected status to contain %q, got:\n%s", want, got)
		}
	}
}

func TestStatusText_NoActivity(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: true}, zap.NewNop(), &observability.MockMetricsRegistry{})

	got := StatusText(limiter, "UNSEEN", "")
	if !strings.Contains(got, "Aún no has realizado solicitudes") {
		t.Errorf("expected the no-activity notice, got:\n%s", got)
	}
}
