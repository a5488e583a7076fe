package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InactiveUser is one row of the eligibility query: a user whose last
// activity is older than the requested threshold, joined with the most
// recent notification of the type under consideration.
type InactiveUser struct {
	UserID         uuid.UUID
	Email          *string
	DisplayName    string
	DaysInactive   int
	LastNotifiedAt *time.Time
}

// ListUsersInactiveSince returns users inactive for at least the given
// number of days, most inactive first. LastNotifiedAt reflects the last
// send of notificationType to that user, if any.
func (r *Repository) ListUsersInactiveSince(ctx context.Context, days int, notificationType string) ([]*InactiveUser, error) {
	query := `
		SELECT
			u.id,
			u.email,
			u.display_name,
			EXTRACT(DAY FROM NOW() - u.last_active_at)::int AS days_inactive,
			s.last_notified_at
		FROM users u
		LEFT JOIN user_notification_state s
			ON s.user_id = u.id AND s.notification_type = $2
		WHERE u.last_active_at IS NOT NULL
		  AND u.last_active_at <= NOW() - make_interval(days => $1)
		ORDER BY u.last_active_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, days, notificationType)
	if err != nil {
		return nil, fmt.Errorf("query inactive users: %w", err)
	}
	defer rows.Close()

	var users []*InactiveUser
	for rows.Next() {
		var u InactiveUser
		if err := rows.Scan(&u.UserID, &u.Email, &u.DisplayName, &u.DaysInactive, &u.LastNotifiedAt); err != nil {
			return nil, fmt.Errorf("scan inactive user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// MarkNotified records that a notification of the given type went out to a
// user, which feeds the cooldown filter on future runs.
func (r *Repository) MarkNotified(ctx context.Context, userID uuid.UUID, notificationType string, at time.Time) error {
	query := `
		INSERT INTO user_notification_state (user_id, notification_type, last_notified_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, notification_type)
		DO UPDATE SET last_notified_at = EXCLUDED.last_notified_at
	`

	if _, err := r.db.Pool().Exec(ctx, query, userID, notificationType, at); err != nil {
		r.logger.Error("failed to mark user notified",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("notification_type", notificationType),
		)
		return fmt.Errorf("mark notified: %w", err)
	}

	return nil
}
