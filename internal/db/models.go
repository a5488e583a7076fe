package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationConfig is the singleton sending policy row. All hours and
// weekdays are interpreted in UTC; weekday 0 is Sunday.
type NotificationConfig struct {
	Enabled         bool       `json:"enabled"`
	DailyLimit      int        `json:"daily_limit"`
	WindowStartHour int        `json:"window_start_hour"`
	WindowEndHour   int        `json:"window_end_hour"`
	AllowedWeekdays []int      `json:"allowed_weekdays"`
	SentToday       int        `json:"sent_today"`
	LastResetOn     *time.Time `json:"last_reset_on,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// WeekdayAllowed reports whether the given UTC weekday is in the policy.
func (c *NotificationConfig) WeekdayAllowed(weekday time.Weekday) bool {
	for _, d := range c.AllowedWeekdays {
		if d == int(weekday) {
			return true
		}
	}
	return false
}

// DeliveryRecord is one send attempt and its lifecycle. Records are
// append-only: created at dispatch time, advanced by webhook events,
// never deleted.
type DeliveryRecord struct {
	ID                uuid.UUID       `json:"id"`
	RecipientAddress  string          `json:"recipient_address"`
	UserID            *uuid.UUID      `json:"user_id,omitempty"`
	NotificationType  string          `json:"notification_type"`
	Subject           string          `json:"subject"`
	TemplateData      json.RawMessage `json:"template_data"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	Status            string          `json:"status"`
	CampaignID        *string         `json:"campaign_id,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time      `json:"opened_at,omitempty"`
	ClickedAt         *time.Time      `json:"clicked_at,omitempty"`
}

// Status constants
const (
	StatusPending    = "pending"
	StatusSent       = "sent"
	StatusDelivered  = "delivered"
	StatusOpened     = "opened"
	StatusClicked    = "clicked"
	StatusBounced    = "bounced"
	StatusComplained = "complained"
	StatusFailed     = "failed"
)

// Notification type constants
const (
	TypeInactivityReminder = "inactivity_reminder"
	TypeNewContent         = "new_content"
	TypeWeeklySummary      = "weekly_summary"
	TypeWelcome            = "welcome"
)

// ValidNotificationType reports whether t is a known notification type.
func ValidNotificationType(t string) bool {
	switch t {
	case TypeInactivityReminder, TypeNewContent, TypeWeeklySummary, TypeWelcome:
		return true
	}
	return false
}

// statusRank orders the progressive delivery states. Terminal failure
// branches (bounced, complained, failed) are not ranked; they are only
// reachable while the record has not progressed past "sent".
var statusRank = map[string]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusClicked:   4,
}

func terminalStatus(s string) bool {
	return s == StatusBounced || s == StatusComplained || s == StatusFailed
}

// NextStatus applies the delivery state machine: from current, an event
// carrying target either advances the record or leaves it unchanged.
// It returns the resulting status and whether the status actually changed.
// Status never regresses; replaying an event is a no-op.
func NextStatus(current, target string) (string, bool) {
	if current == target {
		return current, false
	}

	// Terminal states absorb everything.
	if terminalStatus(current) {
		return current, false
	}

	// Failure branches only make sense before positive confirmation of
	// engagement; a bounce after "opened" is provider noise.
	if terminalStatus(target) {
		if statusRank[current] <= statusRank[StatusSent] {
			return target, true
		}
		return current, false
	}

	if statusRank[target] > statusRank[current] {
		return target, true
	}
	return current, false
}
