package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrConfigNotFound is returned when the policy singleton row is missing
// (unprovisioned database).
var ErrConfigNotFound = errors.New("notification config not found")

// ErrInvalidConfig marks a rejected policy update. Nothing is persisted
// when an update fails validation.
var ErrInvalidConfig = errors.New("invalid notification config")

// ConfigUpdate is a partial update of the sending policy. Nil fields are
// left unchanged.
type ConfigUpdate struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	DailyLimit      *int   `json:"daily_limit,omitempty"`
	WindowStartHour *int   `json:"window_start_hour,omitempty"`
	WindowEndHour   *int   `json:"window_end_hour,omitempty"`
	AllowedWeekdays *[]int `json:"allowed_weekdays,omitempty"`
}

// Validate checks field ranges before anything touches the database.
func (u *ConfigUpdate) Validate() error {
	if u.DailyLimit != nil && *u.DailyLimit <= 0 {
		return fmt.Errorf("%w: daily_limit must be > 0, got %d", ErrInvalidConfig, *u.DailyLimit)
	}
	if u.WindowStartHour != nil && (*u.WindowStartHour < 0 || *u.WindowStartHour > 23) {
		return fmt.Errorf("%w: window_start_hour must be in [0,23], got %d", ErrInvalidConfig, *u.WindowStartHour)
	}
	if u.WindowEndHour != nil && (*u.WindowEndHour < 0 || *u.WindowEndHour > 23) {
		return fmt.Errorf("%w: window_end_hour must be in [0,23], got %d", ErrInvalidConfig, *u.WindowEndHour)
	}
	if u.AllowedWeekdays != nil {
		for _, d := range *u.AllowedWeekdays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: allowed_weekdays must be in [0,6], got %d", ErrInvalidConfig, d)
			}
		}
	}
	return nil
}

const configColumns = `
	enabled, daily_limit, window_start_hour, window_end_hour,
	allowed_weekdays, sent_today, last_reset_on, updated_at
`

// GetConfig loads the singleton sending policy.
func (r *Repository) GetConfig(ctx context.Context) (*NotificationConfig, error) {
	query := `SELECT ` + configColumns + ` FROM notification_config WHERE id = 1`

	var cfg NotificationConfig
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&cfg.Enabled,
		&cfg.DailyLimit,
		&cfg.WindowStartHour,
		&cfg.WindowEndHour,
		&cfg.AllowedWeekdays,
		&cfg.SentToday,
		&cfg.LastResetOn,
		&cfg.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query notification config: %w", err)
	}

	return &cfg, nil
}

// UpdateConfig applies a validated partial update and returns the new
// policy. Invalid input is rejected up front with ErrInvalidConfig.
func (r *Repository) UpdateConfig(ctx context.Context, update *ConfigUpdate) (*NotificationConfig, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE notification_config
		SET enabled           = COALESCE($1, enabled),
		    daily_limit       = COALESCE($2, daily_limit),
		    window_start_hour = COALESCE($3, window_start_hour),
		    window_end_hour   = COALESCE($4, window_end_hour),
		    allowed_weekdays  = COALESCE($5, allowed_weekdays),
		    updated_at        = NOW()
		WHERE id = 1
		RETURNING ` + configColumns

	var weekdays any
	if update.AllowedWeekdays != nil {
		weekdays = *update.AllowedWeekdays
	}

	var cfg NotificationConfig
	err := r.db.Pool().QueryRow(
		ctx,
		query,
		update.Enabled,
		update.DailyLimit,
		update.WindowStartHour,
		update.WindowEndHour,
		weekdays,
	).Scan(
		&cfg.Enabled,
		&cfg.DailyLimit,
		&cfg.WindowStartHour,
		&cfg.WindowEndHour,
		&cfg.AllowedWeekdays,
		&cfg.SentToday,
		&cfg.LastResetOn,
		&cfg.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}

	if err != nil {
		r.logger.Error("failed to update notification config", zap.Error(err))
		return nil, fmt.Errorf("update notification config: %w", err)
	}

	r.logger.Info("notification config updated",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("daily_limit", cfg.DailyLimit),
		zap.Int("window_start_hour", cfg.WindowStartHour),
		zap.Int("window_end_hour", cfg.WindowEndHour),
	)

	return &cfg, nil
}

// ResetDailyCounter zeroes sent_today once per UTC calendar day. Repeat
// invocations the same day are no-ops, so the maintenance trigger can fire
// as often as it likes.
func (r *Repository) ResetDailyCounter(ctx context.Context) error {
	query := `
		UPDATE notification_config
		SET sent_today = 0,
		    last_reset_on = (NOW() AT TIME ZONE 'utc')::date,
		    updated_at = NOW()
		WHERE id = 1
		  AND (last_reset_on IS NULL OR last_reset_on < (NOW() AT TIME ZONE 'utc')::date)
	`

	result, err := r.db.Pool().Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("reset daily counter: %w", err)
	}

	if result.RowsAffected() > 0 {
		r.logger.Info("daily send counter reset")
	}

	return nil
}

// IncrementSentToday adds n to the daily counter in a single statement so
// concurrent callers cannot lose updates.
func (r *Repository) IncrementSentToday(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	query := `
		UPDATE notification_config
		SET sent_today = sent_today + $1, updated_at = NOW()
		WHERE id = 1
	`

	result, err := r.db.Pool().Exec(ctx, query, n)
	if err != nil {
		return fmt.Errorf("increment sent_today: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrConfigNotFound
	}

	return nil
}
