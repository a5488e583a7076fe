package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/metrics"
)

// Provider header names (svix wire format, used by Resend).
const (
	headerID        = "svix-id"
	headerTimestamp = "svix-timestamp"
	headerSignature = "svix-signature"
)

const maxBodyBytes = 1 << 20

// DeliveryLog is the journal slice the receiver needs.
type DeliveryLog interface {
	ApplyDeliveryEvent(ctx context.Context, providerMessageID, target, note string, at time.Time) (*db.DeliveryRecord, error)
}

// Event is the provider's webhook payload.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the message identity; remaining provider fields are
// ignored.
type EventData struct {
	EmailID string   `json:"email_id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
}

// eventStatus maps provider event types onto the delivery state machine.
// delivery_delayed carries no new state, so it maps back to sent.
var eventStatus = map[string]string{
	"email.sent":             db.StatusSent,
	"email.delivered":        db.StatusDelivered,
	"email.delivery_delayed": db.StatusSent,
	"email.opened":           db.StatusOpened,
	"email.clicked":          db.StatusClicked,
	"email.bounced":          db.StatusBounced,
	"email.complained":       db.StatusComplained,
	"email.failed":           db.StatusFailed,
}

// Handler terminates the provider's webhook endpoint.
type Handler struct {
	log    DeliveryLog
	secret string
	logger *zap.Logger
}

// NewHandler creates a webhook handler. An empty secret disables signature
// verification — an explicit dev-mode exception, logged at startup by the
// caller, never the default in production.
func NewHandler(log DeliveryLog, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		log:    log,
		secret: secret,
		logger: logger,
	}
}

// HandleEvent handles POST /webhooks/email.
//
// Signature failures get 401 and mutate nothing. Unknown event types and
// unknown message ids are acknowledged with 200 so the provider does not
// retry-storm us over events we will never consume.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	msgID := r.Header.Get(headerID)
	timestamp := r.Header.Get(headerTimestamp)
	signature := r.Header.Get(headerSignature)

	if h.secret != "" {
		if msgID == "" || timestamp == "" || signature == "" {
			h.logger.Warn("webhook rejected: missing signature headers")
			metrics.RecordWebhookEvent("unknown", "rejected")
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing signature headers"})
			return
		}

		if !Verify(h.secret, msgID, timestamp, body, signature) {
			h.logger.Warn("webhook rejected: signature mismatch",
				zap.String("svix_id", msgID),
			)
			metrics.RecordWebhookEvent("unknown", "rejected")
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	target, known := eventStatus[event.Type]
	if !known {
		h.logger.Info("ignoring unrecognized webhook event type",
			zap.String("event_type", event.Type),
		)
		metrics.RecordWebhookEvent(event.Type, "ignored")
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if event.Data.EmailID == "" {
		h.logger.Warn("webhook event missing email_id",
			zap.String("event_type", event.Type),
		)
		metrics.RecordWebhookEvent(event.Type, "ignored")
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	var note string
	if event.Type == "email.delivery_delayed" {
		note = "delivery delayed by provider"
	}

	rec, err := h.log.ApplyDeliveryEvent(r.Context(), event.Data.EmailID, target, note, time.Now().UTC())
	if errors.Is(err, db.ErrDeliveryNotFound) {
		// Probably a message sent outside this engine (or a journal write
		// that failed). Acknowledge anyway; no record is created.
		h.logger.Info("webhook event for unknown message",
			zap.String("event_type", event.Type),
			zap.String("email_id", event.Data.EmailID),
		)
		metrics.RecordWebhookEvent(event.Type, "miss")
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		h.logger.Error("failed to apply webhook event",
			zap.Error(err),
			zap.String("event_type", event.Type),
			zap.String("email_id", event.Data.EmailID),
		)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not applied"})
		return
	}

	h.logger.Debug("webhook event applied",
		zap.String("event_type", event.Type),
		zap.String("delivery_id", rec.ID.String()),
		zap.String("status", rec.Status),
	)
	metrics.RecordWebhookEvent(event.Type, "applied")

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Live handles GET /webhooks/email, the provider-facing liveness probe.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
