// Package dispatch turns one eligible recipient into one send attempt and
// one delivery journal entry.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/eligibility"
	"github.com/ananyav-dev/coursepulse/internal/sender"
)

// DeliveryLog is the journal slice the dispatcher writes to.
type DeliveryLog interface {
	CreateDelivery(ctx context.Context, rec *db.DeliveryRecord) error
}

// ProgressStore is the slice of the course-progress contract the dispatcher
// needs: recording that a user was notified, which drives the cooldown.
type ProgressStore interface {
	MarkNotified(ctx context.Context, userID uuid.UUID, notificationType string, at time.Time) error
}

// Result is the outcome of dispatching to one recipient. Failures are data,
// not control flow: the scheduler collects results and keeps going.
type Result struct {
	Recipient  *eligibility.Recipient
	DeliveryID uuid.UUID
	Err        error
}

// Sent reports whether the attempt reached the transport successfully.
func (r Result) Sent() bool {
	return r.Err == nil
}

// Dispatcher sends one message per recipient and journals every attempt.
type Dispatcher struct {
	sender   sender.Sender
	renderer Renderer
	log      DeliveryLog
	progress ProgressStore
	logger   *zap.Logger
}

func New(s sender.Sender, renderer Renderer, log DeliveryLog, progress ProgressStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   s,
		renderer: renderer,
		log:      log,
		progress: progress,
		logger:   logger,
	}
}

// Dispatch renders and sends one message. Success creates a
// status=sent record and marks the user notified; any failure creates a
// status=failed record. Errors never propagate past the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient *eligibility.Recipient, notificationType string) Result {
	result := Result{Recipient: recipient}

	data := TemplateData{
		DisplayName:  recipient.DisplayName,
		DaysInactive: recipient.DaysInactive,
	}
	snapshot, _ := json.Marshal(data)

	subject, body, err := d.renderer.Render(notificationType, data)
	if err != nil {
		result.Err = err
		result.DeliveryID = d.journalFailure(ctx, recipient, notificationType, subject, snapshot, err)
		return result
	}

	providerID, err := d.sender.Send(ctx, recipient.Address, subject, body)
	if err != nil {
		d.logger.Warn("send failed",
			zap.Error(err),
			zap.String("user_id", recipient.UserID.String()),
			zap.String("notification_type", notificationType),
		)
		result.Err = err
		result.DeliveryID = d.journalFailure(ctx, recipient, notificationType, subject, snapshot, err)
		return result
	}

	now := time.Now().UTC()
	userID := recipient.UserID
	rec := &db.DeliveryRecord{
		ID:                uuid.New(),
		RecipientAddress:  recipient.Address,
		UserID:            &userID,
		NotificationType:  notificationType,
		Subject:           subject,
		TemplateData:      snapshot,
		ProviderMessageID: &providerID,
		Status:            db.StatusSent,
		SentAt:            &now,
	}

	if err := d.log.CreateDelivery(ctx, rec); err != nil {
		// The message is already on the wire, so the send still counts
		// toward the quota; log loudly and move on.
		d.logger.Error("failed to journal successful send",
			zap.Error(err),
			zap.String("provider_message_id", providerID),
		)
	}
	result.DeliveryID = rec.ID

	if err := d.progress.MarkNotified(ctx, recipient.UserID, notificationType, now); err != nil {
		// Non-fatal: the user may be re-selected a run early.
		d.logger.Warn("failed to mark user notified",
			zap.Error(err),
			zap.String("user_id", recipient.UserID.String()),
		)
	}

	d.logger.Info("notification dispatched",
		zap.String("delivery_id", rec.ID.String()),
		zap.String("user_id", recipient.UserID.String()),
		zap.String("notification_type", notificationType),
		zap.String("provider_message_id", providerID),
	)

	return result
}

func (d *Dispatcher) journalFailure(ctx context.Context, recipient *eligibility.Recipient, notificationType, subject string, snapshot []byte, cause error) uuid.UUID {
	msg := cause.Error()
	userID := recipient.UserID
	rec := &db.DeliveryRecord{
		ID:               uuid.New(),
		RecipientAddress: recipient.Address,
		UserID:           &userID,
		NotificationType: notificationType,
		Subject:          subject,
		TemplateData:     snapshot,
		Status:           db.StatusFailed,
		ErrorMessage:     &msg,
	}

	if err := d.log.CreateDelivery(ctx, rec); err != nil {
		d.logger.Error("failed to journal failed send",
			zap.Error(err),
			zap.String("user_id", recipient.UserID.String()),
		)
	}

	return rec.ID
}
