// Package scheduler owns Dona's periodic work: delivering due reminders as
// DMs and sweeping idle rate-limit buckets.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/AutonomosCdM/autonomos-dona/internal/ratelimit"
	"github.com/AutonomosCdM/autonomos-dona/internal/store"
)

// reminderSchedule checks for due reminders once a minute, the resolution
// reminders are stored at.
const reminderSchedule = "* * * * *"

// Notifier delivers a direct message to a Slack user. The bot satisfies it.
type Notifier interface {
	DM(ctx context.Context, slackUserID, message string) error
}

// Scheduler runs the cron jobs. Build with New, then Start once.
type Scheduler struct {
	store    *store.Store
	limiter  *ratelimit.Limiter
	notifier Notifier
	cron     *cron.Cron
	logger   *zap.Logger

	// cleanupEvery is both the sweep cadence and the idle age at which a
	// bucket is dropped. Zero disables the sweep.
	cleanupEvery time.Duration

	mu      sync.Mutex
	running bool
}

// New builds a scheduler. cleanupEvery of zero disables bucket cleanup.
func New(st *store.Store, limiter *ratelimit.Limiter, notifier Notifier, cleanupEvery time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:        st,
		limiter:      limiter,
		notifier:     notifier,
		cron:         cron.New(),
		logger:       logger,
		cleanupEvery: cleanupEvery,
	}
}

// Start registers the jobs and begins running them. The scheduler stops
// itself when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(reminderSchedule, func() {
		s.deliverReminders(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reminder delivery: %w", err)
	}

	if s.cleanupEvery > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cleanupEvery), func() {
			s.cleanupBuckets()
		}); err != nil {
			return fmt.Errorf("schedule bucket cleanup: %w", err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		zap.Duration("bucket_cleanup_interval", s.cleanupEvery))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether jobs are being scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// deliverReminders DMs every due reminder and marks it sent. Delivery
// failures are left unmarked so the next tick retries them.
func (s *Scheduler) deliverReminders(ctx context.Context) {
	due, err := s.store.DueReminders(ctx, time.Now())
	if err != nil {
		s.logger.Error("could not query due reminders", zap.Error(err))
		return
	}

	delivered := 0
	for _, r := range due {
		msg := fmt.Sprintf(":alarm_clock: *Recordatorio:* %s", r.Task.Description)
		if err := s.notifier.DM(ctx, r.SlackUserID, msg); err != nil {
			s.logger.Warn("could not deliver reminder",
				zap.Int64("task_id", r.Task.ID),
				zap.String("user", r.SlackUserID),
				zap.Error(err))
			continue
		}
		if err := s.store.MarkReminded(ctx, r.Task.ID); err != nil {
			s.logger.Error("could not mark reminder delivered",
				zap.Int64("task_id", r.Task.ID),
				zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered > 0 {
		s.logger.Info("reminders delivered", zap.Int("count", delivered))
	}
}

// cleanupBuckets drops buckets idle for at least one full sweep interval.
func (s *Scheduler) cleanupBuckets() {
	removed := s.limiter.CleanupOldBuckets(s.cleanupEvery)
	if removed > 0 {
		s.logger.Info("cleaned up idle rate limit buckets", zap.Int("removed", removed))
	}
}
