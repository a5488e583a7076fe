// Package eligibility computes, per notification type, which users should
// receive a message right now.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
)

// Recipient is an ephemeral selection result. It is recomputed on every
// scheduler run and never persisted.
type Recipient struct {
	UserID         uuid.UUID
	Address        string
	DisplayName    string
	DaysInactive   int
	LastNotifiedAt *time.Time
}

// ProgressStore is the slice of the external course-progress contract the
// selector needs.
type ProgressStore interface {
	ListUsersInactiveSince(ctx context.Context, days int, notificationType string) ([]*db.InactiveUser, error)
}

// Preferences reads per-type opt-outs. May be nil when redis is not
// configured; selection then proceeds without the opt-out filter.
type Preferences interface {
	OptedOutSet(ctx context.Context, notificationType string) (map[string]struct{}, error)
}

// Config holds the eligibility policy knobs.
type Config struct {
	InactiveAfterDays int
	CooldownDays      int
}

// Selector filters the inactive-user listing down to deliverable,
// not-opted-out, out-of-cooldown recipients, most inactive first.
type Selector struct {
	store  ProgressStore
	prefs  Preferences
	config Config
	logger *zap.Logger
}

// New creates a selector. prefs may be nil.
func New(store ProgressStore, prefs Preferences, cfg Config, logger *zap.Logger) *Selector {
	if cfg.InactiveAfterDays <= 0 {
		cfg.InactiveAfterDays = 3
	}
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 7
	}

	return &Selector{
		store:  store,
		prefs:  prefs,
		config: cfg,
		logger: logger,
	}
}

// Select returns up to limit eligible recipients for the notification type,
// ordered most-inactive-first. The result is computed fresh per call; a
// store failure aborts selection entirely so the caller sends nothing on
// stale data.
func (s *Selector) Select(ctx context.Context, notificationType string, limit int) ([]*Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}

	users, err := s.store.ListUsersInactiveSince(ctx, s.config.InactiveAfterDays, notificationType)
	if err != nil {
		return nil, fmt.Errorf("eligibility lookup: %w", err)
	}

	optedOut := s.optedOutSet(ctx, notificationType)
	cooldownCutoff := time.Now().UTC().AddDate(0, 0, -s.config.CooldownDays)

	var recipients []*Recipient
	for _, u := range users {
		if len(recipients) >= limit {
			break
		}

		if u.Email == nil || *u.Email == "" {
			continue
		}

		if _, out := optedOut[u.UserID.String()]; out {
			continue
		}

		// Cooldown: skip anyone notified for this type too recently.
		if u.LastNotifiedAt != nil && u.LastNotifiedAt.After(cooldownCutoff) {
			continue
		}

		recipients = append(recipients, &Recipient{
			UserID:         u.UserID,
			Address:        *u.Email,
			DisplayName:    u.DisplayName,
			DaysInactive:   u.DaysInactive,
			LastNotifiedAt: u.LastNotifiedAt,
		})
	}

	s.logger.Debug("eligibility selection completed",
		zap.String("notification_type", notificationType),
		zap.Int("candidates", len(users)),
		zap.Int("selected", len(recipients)),
	)

	return recipients, nil
}

// optedOutSet is fail-open: a preference store outage must not block every
// send, it only disables that one filter for the run.
func (s *Selector) optedOutSet(ctx context.Context, notificationType string) map[string]struct{} {
	if s.prefs == nil {
		return nil
	}

	set, err := s.prefs.OptedOutSet(ctx, notificationType)
	if err != nil {
		s.logger.Warn("opt-out lookup failed, continuing without filter",
			zap.Error(err),
			zap.String("notification_type", notificationType),
		)
		return nil
	}

	return set
}
