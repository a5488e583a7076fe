// Package scheduler orchestrates one notification run per external
// trigger: evaluate the global gates, compute a budget, drive the
// dispatcher over a bounded batch and settle the daily counter.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/dispatch"
	"github.com/ananyav-dev/coursepulse/internal/eligibility"
	"github.com/ananyav-dev/coursepulse/internal/metrics"
)

// MaxPerRun caps a single run's transport load regardless of how much
// daily quota is left, keeping every run inside the trigger platform's
// execution budget.
const MaxPerRun = 50

// Run outcomes.
const (
	OutcomeCompleted            = "completed"
	OutcomeSkippedDisabled      = "skipped_disabled"
	OutcomeSkippedOutsideWindow = "skipped_outside_window"
	OutcomeSkippedQuotaExceeded = "skipped_quota_exceeded"
)

// RunResult is the terminal outcome of one scheduler run.
type RunResult struct {
	Outcome    string
	EmailsSent int
	Attempted  int
	Message    string
}

// ConfigStore is the policy slice the scheduler needs.
type ConfigStore interface {
	GetConfig(ctx context.Context) (*db.NotificationConfig, error)
	IncrementSentToday(ctx context.Context, n int) error
}

// Selector yields the batch of recipients for a run.
type Selector interface {
	Select(ctx context.Context, notificationType string, limit int) ([]*eligibility.Recipient, error)
}

// Dispatcher performs one send attempt per recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient *eligibility.Recipient, notificationType string) dispatch.Result
}

// Config holds scheduler parameters.
type Config struct {
	// NotificationType is the lifecycle email this scheduler instance
	// drives. Each type gets its own trigger cadence.
	NotificationType string
}

// Scheduler runs sequentially: one invocation, one bounded batch,
// one counter increment.
type Scheduler struct {
	store      ConfigStore
	selector   Selector
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger

	// now is swappable in tests to pin the window checks.
	now func() time.Time
}

func New(store ConfigStore, selector Selector, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.NotificationType == "" {
		cfg.NotificationType = db.TypeInactivityReminder
	}

	return &Scheduler{
		store:      store,
		selector:   selector,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one scheduling pass. All skip outcomes are normal
// completions; an error is returned only when the run could not evaluate
// at all (config unreadable, eligibility store down) — in that case
// nothing was sent and nothing was counted.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result, err := s.run(ctx)
	if err != nil {
		metrics.RecordSchedulerRun("error", time.Since(start))
		return nil, err
	}

	metrics.RecordSchedulerRun(result.Outcome, time.Since(start))
	return result, nil
}

func (s *Scheduler) run(ctx context.Context) (*RunResult, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sending policy: %w", err)
	}

	if !cfg.Enabled {
		s.logger.Info("run skipped: sending disabled")
		return &RunResult{
			Outcome: OutcomeSkippedDisabled,
			Message: "notifications are disabled",
		}, nil
	}

	now := s.now().UTC()
	if now.Hour() < cfg.WindowStartHour || now.Hour() >= cfg.WindowEndHour || !cfg.WeekdayAllowed(now.Weekday()) {
		s.logger.Info("run skipped: outside sending window",
			zap.Int("hour", now.Hour()),
			zap.Stringer("weekday", now.Weekday()),
			zap.Int("window_start_hour", cfg.WindowStartHour),
			zap.Int("window_end_hour", cfg.WindowEndHour),
		)
		return &RunResult{
			Outcome: OutcomeSkippedOutsideWindow,
			Message: fmt.Sprintf("outside sending window (now %02d:00 UTC %s)", now.Hour(), now.Weekday()),
		}, nil
	}

	remaining := cfg.DailyLimit - cfg.SentToday
	if remaining <= 0 {
		s.logger.Info("run skipped: daily quota exhausted",
			zap.Int("daily_limit", cfg.DailyLimit),
			zap.Int("sent_today", cfg.SentToday),
		)
		return &RunResult{
			Outcome: OutcomeSkippedQuotaExceeded,
			Message: fmt.Sprintf("daily quota exhausted (%d/%d)", cfg.SentToday, cfg.DailyLimit),
		}, nil
	}

	budget := remaining
	if budget > MaxPerRun {
		budget = MaxPerRun
	}

	recipients, err := s.selector.Select(ctx, s.config.NotificationType, budget)
	if err != nil {
		// Abort before any send: nothing dispatched, nothing counted.
		return nil, fmt.Errorf("select recipients: %w", err)
	}

	var sent int
	var attempted int
	for _, recipient := range recipients {
		if ctx.Err() != nil {
			s.logger.Warn("run cancelled mid-batch",
				zap.Int("attempted", attempted),
				zap.Int("sent", sent),
			)
			break
		}

		attempted++
		result := s.dispatcher.Dispatch(ctx, recipient, s.config.NotificationType)
		if result.Sent() {
			sent++
			metrics.RecordDispatch(s.config.NotificationType, "sent")
		} else {
			metrics.RecordDispatch(s.config.NotificationType, "failed")
		}
	}

	// One atomic increment for the whole batch; a lost per-item add under
	// concurrent runs would let the quota drift.
	if sent > 0 {
		if err := s.store.IncrementSentToday(ctx, sent); err != nil {
			s.logger.Error("failed to update daily counter after batch",
				zap.Error(err),
				zap.Int("sent", sent),
			)
		}
	}
	metrics.SetDailyQuotaUsed(cfg.SentToday + sent)

	s.logger.Info("run completed",
		zap.String("notification_type", s.config.NotificationType),
		zap.Int("eligible", len(recipients)),
		zap.Int("attempted", attempted),
		zap.Int("sent", sent),
		zap.Int("budget", budget),
	)

	return &RunResult{
		Outcome:    OutcomeCompleted,
		EmailsSent: sent,
		Attempted:  attempted,
		Message:    fmt.Sprintf("sent %d of %d attempted", sent, attempted),
	}, nil
}
