package middleware

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/analytics"
	"github.com/AutonomosCdM/autonomos-dona/internal/metrics"
	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
)

// Admission rejects commands that exceed the rate limits before they reach
// business logic. Events pass through unchecked, as do commands arriving
// without a user ID.
type Admission struct {
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	sink      analytics.EventSink
	logger    *zap.Logger
}

// NewAdmission builds the admission middleware. sink may be nil when no
// analytics backend is configured.
func NewAdmission(limiter *ratelimit.Limiter, collector *metrics.Collector, sink analytics.EventSink, logger *zap.Logger) *Admission {
	return &Admission{
		limiter:   limiter,
		collector: collector,
		sink:      sink,
		logger:    logger,
	}
}

// Wrap returns a handler that admission-checks req before running next.
// A rejected request is answered via respond, recorded as rate_limited and
// never reaches next; the rejection itself is not an error.
func (a *Admission) Wrap(req Request, respond Responder, next Handler) Handler {
	return func(ctx context.Context) error {
		if req.Kind != KindCommand {
			return next(ctx)
		}
		if req.UserID == "" {
			a.logger.Warn("command without user id, skipping rate limit",
				zap.String("command", req.Command))
			return next(ctx)
		}

		decision := a.limiter.Check(req.UserID, "command:"+req.Command)
		if decision.Allowed {
			return next(ctx)
		}

		meta := map[string]string{
			"limit_type":  string(decision.Tier),
			"retry_after": fmt.Sprintf("%.1f", decision.RetryAfter),
		}
		a.collector.RecordRequest(req.Type(), 0, metrics.StatusRateLimited, req.UserID, meta)
		if a.sink != nil {
			// Sink failures are logged and counted inside the sink.
			_ = a.sink.RecordRequestEvent(ctx, analytics.RequestEvent{
				RequestType: req.Type(),
				UserID:      req.UserID,
				Status:      string(metrics.StatusRateLimited),
				Meta:        meta,
			})
		}
		a.logger.Warn("request rate limited",
			zap.String("user_id", req.UserID),
			zap.String("command", req.Command),
			zap.String("limit_type", string(decision.Tier)),
			zap.Float64("retry_after", decision.RetryAfter))

		if respond != nil {
			if err := respond(RejectionMessage(decision)); err != nil {
				a.logger.Error("failed to deliver rate limit notice",
					zap.String("user_id", req.UserID),
					zap.Error(err))
			}
		}
		return nil
	}
}

// RejectionMessage renders the user-facing text for a rejection, worded per
// tier. Replies are in Spanish, matching the rest of the bot.
func RejectionMessage(d ratelimit.Decision) string {
	minutes := retryAfterMinutes(d.RetryAfter)
	unit := "minuto"
	if minutes != 1 {
		unit = "minutos"
	}

	switch d.Tier {
	case ratelimit.TierGlobal:
		return fmt.Sprintf("⚠️ El sistema está experimentando mucho tráfico en este momento. Por favor, intenta de nuevo en %d %s.", minutes, unit)
	case ratelimit.TierCommand:
		command := strings.TrimPrefix(d.Command, "command:")
		return fmt.Sprintf("⏱️ Has usado el comando `%s` demasiadas veces. Por favor, espera %d %s antes de usarlo de nuevo.", command, minutes, unit)
	default:
		return fmt.Sprintf("🚦 Has alcanzado el límite de solicitudes. Por favor, espera %d %s antes de continuar.\n\n_Tip: Puedes agrupar múltiples tareas en un solo comando._", minutes, unit)
	}
}

// retryAfterMinutes floors seconds to whole minutes with a minimum of one,
// so users are never told to wait zero minutes.
func retryAfterMinutes(seconds float64) int {
	minutes := int(seconds / 60)
	if minutes < 1 {
		return 1
	}
	return minutes
}

// StatusText renders the body of the /dona-limits command from the limiter's
// view of one user. Only tiers with existing buckets are shown.
func StatusText(l *ratelimit.Limiter, userID, command string) string {
	if !l.Enabled() {
		return "Rate limiting is currently disabled."
	}

	info := l.LimitInfo(userID, command)

	var b strings.Builder
	b.WriteString("*📊 Rate Limit Status*\n")

	if info.User != nil {
		pct := float64(info.User.Remaining) / float64(info.User.MaxTokens) * 100
		b.WriteString("\n*Límite personal:*\n")
		fmt.Fprintf(&b, "• Remaining: %d/%d (%.0f%%)\n", info.User.Remaining, info.User.MaxTokens, pct)
		fmt.Fprintf(&b, "• Refill rate: %.0f requests/min\n", info.User.RefillRate*60)
	} else {
		b.WriteString("\nAún no has realizado solicitudes en esta ventana.\n")
	}

	if info.Command != nil {
		name := strings.TrimPrefix(info.Command.Command, "command:")
		fmt.Fprintf(&b, "\n*Límite de `%s`:*\n", name)
		fmt.Fprintf(&b, "• Remaining: %d/%d\n", info.Command.Remaining, info.Command.MaxTokens)
		fmt.Fprintf(&b, "• Refill rate: %.0f requests/min\n", info.Command.RefillRate*60)
	}

	return b.String()
}
