package redis

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PreferenceService tracks per-notification-type opt-outs as Redis sets,
// one set per type, keyed by user id. It backs the service contract the
// platform's preference UI writes through; the eligibility selector only
// reads it.
type PreferenceService struct {
	client *Client
	logger *zap.Logger
}

// NewPreferenceService creates a new preference service.
func NewPreferenceService(client *Client, logger *zap.Logger) *PreferenceService {
	return &PreferenceService{
		client: client,
		logger: logger,
	}
}

func (s *PreferenceService) buildKey(notificationType string) string {
	return fmt.Sprintf("optout:%s", notificationType)
}

// OptOut excludes a user from future sends of the given notification type.
func (s *PreferenceService) OptOut(ctx context.Context, userID, notificationType string) error {
	key := s.buildKey(notificationType)

	if err := s.client.rdb.SAdd(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis sadd failed: %w", err)
	}

	s.logger.Info("user opted out",
		zap.String("user_id", userID),
		zap.String("notification_type", notificationType),
	)

	return nil
}

// OptIn removes a previously recorded opt-out. Removing an absent member
// is a no-op.
func (s *PreferenceService) OptIn(ctx context.Context, userID, notificationType string) error {
	key := s.buildKey(notificationType)

	if err := s.client.rdb.SRem(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis srem failed: %w", err)
	}

	s.logger.Info("user opted back in",
		zap.String("user_id", userID),
		zap.String("notification_type", notificationType),
	)

	return nil
}

// IsOptedOut reports whether the user has opted out of the type.
func (s *PreferenceService) IsOptedOut(ctx context.Context, userID, notificationType string) (bool, error) {
	key := s.buildKey(notificationType)

	member, err := s.client.rdb.SIsMember(ctx, key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember failed: %w", err)
	}

	return member, nil
}

// OptedOutSet returns every opted-out user id for the type in one round
// trip, for callers filtering a whole batch.
func (s *PreferenceService) OptedOutSet(ctx context.Context, notificationType string) (map[string]struct{}, error) {
	key := s.buildKey(notificationType)

	ids, err := s.client.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set, nil
}
