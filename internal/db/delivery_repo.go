package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrDeliveryNotFound is returned when a lookup misses. Webhook handling
// treats this as a graceful no-op, not a failure.
var ErrDeliveryNotFound = errors.New("delivery record not found")

const deliveryColumns = `
	id, recipient_address, user_id, notification_type, subject,
	template_data, provider_message_id, status, campaign_id, error_message,
	created_at, sent_at, delivered_at, opened_at, clicked_at
`

func scanDelivery(row pgx.Row) (*DeliveryRecord, error) {
	var rec DeliveryRecord
	err := row.Scan(
		&rec.ID,
		&rec.RecipientAddress,
		&rec.UserID,
		&rec.NotificationType,
		&rec.Subject,
		&rec.TemplateData,
		&rec.ProviderMessageID,
		&rec.Status,
		&rec.CampaignID,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.SentAt,
		&rec.DeliveredAt,
		&rec.OpenedAt,
		&rec.ClickedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateDelivery appends one send attempt to the journal.
func (r *Repository) CreateDelivery(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			id, recipient_address, user_id, notification_type, subject,
			template_data, provider_message_id, status, campaign_id,
			error_message, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.RecipientAddress,
		rec.UserID,
		rec.NotificationType,
		rec.Subject,
		rec.TemplateData,
		rec.ProviderMessageID,
		rec.Status,
		rec.CampaignID,
		rec.ErrorMessage,
		rec.SentAt,
	).Scan(&rec.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create delivery record",
			zap.Error(err),
			zap.String("delivery_id", rec.ID.String()),
		)
		return fmt.Errorf("insert delivery record: %w", err)
	}

	r.logger.Info("delivery record created",
		zap.String("delivery_id", rec.ID.String()),
		zap.String("notification_type", rec.NotificationType),
		zap.String("status", rec.Status),
	)

	return nil
}

// GetDelivery retrieves a delivery record by internal id.
func (r *Repository) GetDelivery(ctx context.Context, id uuid.UUID) (*DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE id = $1`

	rec, err := scanDelivery(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery record: %w", err)
	}

	return rec, nil
}

// GetDeliveryByProviderMessageID retrieves a delivery record via the
// transport-assigned id carried by webhook events.
func (r *Repository) GetDeliveryByProviderMessageID(ctx context.Context, providerMessageID string) (*DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE provider_message_id = $1`

	rec, err := scanDelivery(r.db.Pool().QueryRow(ctx, query, providerMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery record by provider id: %w", err)
	}

	return rec, nil
}

// ListDeliveries retrieves recent delivery records, optionally filtered by
// status, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, status string, limit, offset int) ([]*DeliveryRecord, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_records
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// ApplyDeliveryEvent advances the record identified by providerMessageID to
// target (per the state machine in NextStatus) and stamps the timestamp
// field for target if it is still unset. The row is locked for the duration
// so concurrent webhook deliveries for the same message serialize, and
// replays are no-ops. note, when non-empty, is recorded into error_message
// unless one is already present (first write wins there too).
func (r *Repository) ApplyDeliveryEvent(ctx context.Context, providerMessageID, target, note string, at time.Time) (*DeliveryRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `SELECT ` + deliveryColumns + `
		FROM delivery_records WHERE provider_message_id = $1 FOR UPDATE`

	rec, err := scanDelivery(tx.QueryRow(ctx, lockQuery, providerMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock delivery record: %w", err)
	}

	next, _ := NextStatus(rec.Status, target)

	// Timestamps are set-if-absent: only the first report of each lifecycle
	// event sticks, which makes replayed and out-of-order webhooks safe.
	updateQuery := `
		UPDATE delivery_records
		SET status        = $2,
		    sent_at       = CASE WHEN $3 = 'sent'      THEN COALESCE(sent_at, $4)      ELSE sent_at      END,
		    delivered_at  = CASE WHEN $3 = 'delivered' THEN COALESCE(delivered_at, $4) ELSE delivered_at END,
		    opened_at     = CASE WHEN $3 = 'opened'    THEN COALESCE(opened_at, $4)    ELSE opened_at    END,
		    clicked_at    = CASE WHEN $3 = 'clicked'   THEN COALESCE(clicked_at, $4)   ELSE clicked_at   END,
		    error_message = CASE WHEN $5 <> '' THEN COALESCE(error_message, $5) ELSE error_message END
		WHERE id = $1
		RETURNING ` + deliveryColumns

	updated, err := scanDelivery(tx.QueryRow(ctx, updateQuery, rec.ID, next, target, at, note))
	if err != nil {
		return nil, fmt.Errorf("apply delivery event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if updated.Status != rec.Status {
		r.logger.Info("delivery status advanced",
			zap.String("delivery_id", updated.ID.String()),
			zap.String("from", rec.Status),
			zap.String("to", updated.Status),
		)
	}

	return updated, nil
}
