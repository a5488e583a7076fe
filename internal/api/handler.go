package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/scheduler"
)

// Runner triggers one scheduler pass.
type Runner interface {
	Run(ctx context.Context) (*scheduler.RunResult, error)
}

// ConfigStore is the policy slice the admin surface needs.
type ConfigStore interface {
	GetConfig(ctx context.Context) (*db.NotificationConfig, error)
	UpdateConfig(ctx context.Context, update *db.ConfigUpdate) (*db.NotificationConfig, error)
	ResetDailyCounter(ctx context.Context) error
}

// DeliveryLog is the read-only journal slice for the admin surface.
type DeliveryLog interface {
	GetDelivery(ctx context.Context, id uuid.UUID) (*db.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, status string, limit, offset int) ([]*db.DeliveryRecord, error)
}

// Preferences writes per-type opt-outs. Nil when redis is not configured.
type Preferences interface {
	OptOut(ctx context.Context, userID, notificationType string) error
	OptIn(ctx context.Context, userID, notificationType string) error
}

// TriggerResponse is returned by the scheduler trigger endpoint for every
// terminal outcome, including skips.
type TriggerResponse struct {
	Success    bool   `json:"success"`
	EmailsSent int    `json:"emailsSent"`
	Message    string `json:"message"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	runner     Runner
	store      ConfigStore
	deliveries DeliveryLog
	prefs      Preferences // nil if Redis not configured
	cronSecret string
	env        string
}

// NewHandler creates a new API handler. prefs may be nil.
func NewHandler(logger *zap.Logger, runner Runner, store ConfigStore, deliveries DeliveryLog, prefs Preferences, cronSecret, env string) *Handler {
	return &Handler{
		logger:     logger,
		runner:     runner,
		store:      store,
		deliveries: deliveries,
		prefs:      prefs,
		cronSecret: cronSecret,
		env:        env,
	}
}

// RunNotifications handles GET /jobs/notifications/run — the external
// timer's trigger. Every terminal outcome (including skips) is a 200; only
// an aborted run is a 500.
func (h *Handler) RunNotifications(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrigger(r) {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid trigger secret", "")
		return
	}

	result, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("scheduler run aborted", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(TriggerResponse{
			Success: false,
			Message: "run aborted before any sends",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(TriggerResponse{
		Success:    true,
		EmailsSent: result.EmailsSent,
		Message:    result.Message,
	})
}

// authorizeTrigger compares the bearer token in constant time. With no
// secret configured outside production the check is skipped — a deliberate
// dev-environment exception, not general policy.
func (h *Handler) authorizeTrigger(r *http.Request) bool {
	if h.cronSecret == "" {
		if h.env == "production" {
			return false
		}
		h.logger.Warn("trigger invoked without secret configured (non-production relaxed mode)")
		return true
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// GetConfig handles GET /v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetConfig(r.Context())
	if errors.Is(err, db.ErrConfigNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification config not provisioned", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to load config", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load config", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cfg)
}

// UpdateConfig handles PATCH /v1/config with a partial policy update.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update db.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	cfg, err := h.store.UpdateConfig(r.Context(), &update)
	if errors.Is(err, db.ErrInvalidConfig) {
		h.writeError(w, http.StatusBadRequest, "invalid_config", "Rejected config update", err.Error())
		return
	}
	if errors.Is(err, db.ErrConfigNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification config not provisioned", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to update config", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update config", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cfg)
}

// ResetDailyCounter handles POST /v1/config/reset-counter, the maintenance
// trigger that zeroes sent_today once per UTC day.
func (h *Handler) ResetDailyCounter(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetDailyCounter(r.Context()); err != nil {
		h.logger.Error("failed to reset daily counter", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to reset counter", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

// ListDeliveries handles GET /v1/deliveries?status=x&limit=20&offset=0
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	records, err := h.deliveries.ListDeliveries(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list deliveries", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   records,
		"limit":  limit,
		"offset": offset,
		"count":  len(records),
	})
}

// GetDelivery handles GET /v1/deliveries/{id}
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid delivery ID", "ID must be a valid UUID")
		return
	}

	rec, err := h.deliveries.GetDelivery(r.Context(), id)
	if errors.Is(err, db.ErrDeliveryNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Delivery record not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get delivery", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load delivery", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// OptOut handles PUT /v1/users/{id}/optout/{type}
func (h *Handler) OptOut(w http.ResponseWriter, r *http.Request) {
	h.setOptOut(w, r, true)
}

// OptIn handles DELETE /v1/users/{id}/optout/{type}
func (h *Handler) OptIn(w http.ResponseWriter, r *http.Request) {
	h.setOptOut(w, r, false)
}

func (h *Handler) setOptOut(w http.ResponseWriter, r *http.Request, out bool) {
	if h.prefs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "preferences_unavailable", "Preference store not configured", "")
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "ID must be a valid UUID")
		return
	}

	notificationType := chi.URLParam(r, "type")
	if !db.ValidNotificationType(notificationType) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown notification type", notificationType)
		return
	}

	if out {
		err = h.prefs.OptOut(r.Context(), userID.String(), notificationType)
	} else {
		err = h.prefs.OptIn(r.Context(), userID.String(), notificationType)
	}
	if err != nil {
		h.logger.Error("failed to update preference", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "preferences_error", "Failed to update preference", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id":           userID.String(),
		"notification_type": notificationType,
		"opted_out":         out,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
