package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ananyav-dev/coursepulse/internal/db"
	"github.com/ananyav-dev/coursepulse/internal/scheduler"
)

var errDatabase = errors.New("database error")

type mockRunner struct {
	result *scheduler.RunResult
	runErr error
	calls  int
}

func (m *mockRunner) Run(ctx context.Context) (*scheduler.RunResult, error) {
	m.calls++
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.result, nil
}

type mockConfigStore struct {
	config     *db.NotificationConfig
	getErr     error
	lastUpdate *db.ConfigUpdate
	resetCalls int
}

func (m *mockConfigStore) GetConfig(ctx context.Context) (*db.NotificationConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.config, nil
}

func (m *mockConfigStore) UpdateConfig(ctx context.Context, update *db.ConfigUpdate) (*db.NotificationConfig, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastUpdate = update
	return m.config, nil
}

func (m *mockConfigStore) ResetDailyCounter(ctx context.Context) error {
	m.resetCalls++
	return nil
}

type mockDeliveryLog struct {
	records map[uuid.UUID]*db.DeliveryRecord
}

func newMockDeliveryLog() *mockDeliveryLog {
	return &mockDeliveryLog{records: make(map[uuid.UUID]*db.DeliveryRecord)}
}

func (m *mockDeliveryLog) GetDelivery(ctx context.Context, id uuid.UUID) (*db.DeliveryRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, db.ErrDeliveryNotFound
	}
	return rec, nil
}

func (m *mockDeliveryLog) ListDeliveries(ctx context.Context, status string, limit, offset int) ([]*db.DeliveryRecord, error) {
	var out []*db.DeliveryRecord
	for _, rec := range m.records {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

type mockPreferences struct {
	optedOut map[string]bool
	failWith error
}

func newMockPreferences() *mockPreferences {
	return &mockPreferences{optedOut: make(map[string]bool)}
}

func (m *mockPreferences) OptOut(ctx context.Context, userID, notificationType string) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.optedOut[userID+":"+notificationType] = true
	return nil
}

func (m *mockPreferences) OptIn(ctx context.Context, userID, notificationType string) error {
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.optedOut, userID+":"+notificationType)
	return nil
}

func testConfig() *db.NotificationConfig {
	return &db.NotificationConfig{
		Enabled:         true,
		DailyLimit:      100,
		WindowStartHour: 9,
		WindowEndHour:   17,
		AllowedWeekdays: []int{1, 2, 3, 4, 5},
		SentToday:       12,
		UpdatedAt:       time.Now().UTC(),
	}
}

func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/jobs/notifications/run", h.RunNotifications)
	r.Get("/v1/config", h.GetConfig)
	r.Patch("/v1/config", h.UpdateConfig)
	r.Post("/v1/config/reset-counter", h.ResetDailyCounter)
	r.Get("/v1/deliveries", h.ListDeliveries)
	r.Get("/v1/deliveries/{id}", h.GetDelivery)
	r.Put("/v1/users/{id}/optout/{type}", h.OptOut)
	r.Delete("/v1/users/{id}/optout/{type}", h.OptIn)
	return r
}

func TestRunNotifications_Success(t *testing.T) {
	runner := &mockRunner{result: &scheduler.RunResult{
		Outcome:    scheduler.OutcomeCompleted,
		EmailsSent: 5,
		Attempted:  6,
		Message:    "sent 5 of 6 attempted",
	}}
	h := NewHandler(zap.NewNop(), runner, &mockConfigStore{}, newMockDeliveryLog(), nil, "cron-secret", "production")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/notifications/run", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp TriggerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.EmailsSent != 5 {
		t.Errorf("emailsSent = %d, want 5", resp.EmailsSent)
	}
}

func TestRunNotifications_SkipOutcomeIsStill200(t *testing.T) {
	runner := &mockRunner{result: &scheduler.RunResult{
		Outcome: scheduler.OutcomeSkippedQuotaExceeded,
		Message: "daily quota exhausted (100/100)",
	}}
	h := NewHandler(zap.NewNop(), runner, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/notifications/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp TriggerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EmailsSent != 0 {
		t.Errorf("emailsSent = %d, want 0", resp.EmailsSent)
	}
}

func TestRunNotifications_RunErrorIs500(t *testing.T) {
	runner := &mockRunner{runErr: errDatabase}
	h := NewHandler(zap.NewNop(), runner, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/notifications/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp TriggerResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("success = true on aborted run")
	}
}

func TestRunNotifications_WrongSecretRejected(t *testing.T) {
	runner := &mockRunner{result: &scheduler.RunResult{Outcome: scheduler.OutcomeCompleted}}
	h := NewHandler(zap.NewNop(), runner, &mockConfigStore{}, newMockDeliveryLog(), nil, "cron-secret", "production")
	r := testRouter(h)

	for _, auth := range []string{"", "Bearer wrong", "cron-secret", "Basic cron-secret"} {
		req := httptest.NewRequest(http.MethodGet, "/jobs/notifications/run", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, w.Code)
		}
	}
	if runner.calls != 0 {
		t.Error("unauthorized requests must not trigger a run")
	}
}

func TestRunNotifications_NoSecretInProductionRejected(t *testing.T) {
	runner := &mockRunner{result: &scheduler.RunResult{Outcome: scheduler.OutcomeCompleted}}
	h := NewHandler(zap.NewNop(), runner, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "production")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/notifications/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	store := &mockConfigStore{config: testConfig()}
	h := NewHandler(zap.NewNop(), &mockRunner{}, store, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var cfg db.NotificationConfig
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg.DailyLimit != 100 || cfg.SentToday != 12 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestGetConfig_NotProvisioned(t *testing.T) {
	store := &mockConfigStore{getErr: db.ErrConfigNotFound}
	h := NewHandler(zap.NewNop(), &mockRunner{}, store, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestUpdateConfig_PartialUpdate(t *testing.T) {
	store := &mockConfigStore{config: testConfig()}
	h := NewHandler(zap.NewNop(), &mockRunner{}, store, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	body := bytes.NewBufferString(`{"daily_limit": 200}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/config", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if store.lastUpdate == nil || store.lastUpdate.DailyLimit == nil || *store.lastUpdate.DailyLimit != 200 {
		t.Error("daily_limit not passed through")
	}
	if store.lastUpdate.Enabled != nil {
		t.Error("absent fields must stay nil")
	}
}

func TestUpdateConfig_RejectsInvalidValues(t *testing.T) {
	store := &mockConfigStore{config: testConfig()}
	h := NewHandler(zap.NewNop(), &mockRunner{}, store, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	for _, body := range []string{
		`{"daily_limit": 0}`,
		`{"window_start_hour": 24}`,
		`{"allowed_weekdays": [7]}`,
		`{not json`,
	} {
		req := httptest.NewRequest(http.MethodPatch, "/v1/config", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
	if store.lastUpdate != nil {
		t.Error("rejected update must not be persisted")
	}
}

func TestResetDailyCounter(t *testing.T) {
	store := &mockConfigStore{config: testConfig()}
	h := NewHandler(zap.NewNop(), &mockRunner{}, store, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/config/reset-counter", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if store.resetCalls != 1 {
		t.Errorf("reset calls = %d, want 1", store.resetCalls)
	}
}

func TestGetDelivery(t *testing.T) {
	log := newMockDeliveryLog()
	rec := &db.DeliveryRecord{
		ID:               uuid.New(),
		RecipientAddress: "learner@example.com",
		NotificationType: db.TypeInactivityReminder,
		Status:           db.StatusDelivered,
	}
	log.records[rec.ID] = rec

	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, log, nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries/"+rec.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got db.DeliveryRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != rec.ID || got.Status != db.StatusDelivered {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestGetDelivery_NotFound(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetDelivery_InvalidID(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListDeliveries(t *testing.T) {
	log := newMockDeliveryLog()
	for i := 0; i < 3; i++ {
		rec := &db.DeliveryRecord{ID: uuid.New(), Status: db.StatusSent}
		log.records[rec.ID] = rec
	}

	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, log, nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries?status=sent&limit=10", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if resp.Limit != 10 {
		t.Errorf("limit = %d, want 10", resp.Limit)
	}
}

func TestOptOutAndBackIn(t *testing.T) {
	prefs := newMockPreferences()
	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, newMockDeliveryLog(), prefs, "", "development")
	r := testRouter(h)

	userID := uuid.NewString()
	key := userID + ":" + db.TypeInactivityReminder

	req := httptest.NewRequest(http.MethodPut, "/v1/users/"+userID+"/optout/inactivity_reminder", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("opt-out status = %d, want 200", w.Code)
	}
	if !prefs.optedOut[key] {
		t.Fatal("opt-out not recorded")
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/users/"+userID+"/optout/inactivity_reminder", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("opt-in status = %d, want 200", w.Code)
	}
	if prefs.optedOut[key] {
		t.Fatal("opt-in did not clear the opt-out")
	}
}

func TestOptOut_ValidationErrors(t *testing.T) {
	prefs := newMockPreferences()
	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, newMockDeliveryLog(), prefs, "", "development")
	r := testRouter(h)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/users/not-a-uuid/optout/inactivity_reminder", http.StatusBadRequest},
		{"/v1/users/" + uuid.NewString() + "/optout/spam", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPut, tt.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestOptOut_UnavailableWithoutPreferenceStore(t *testing.T) {
	h := NewHandler(zap.NewNop(), &mockRunner{}, &mockConfigStore{}, newMockDeliveryLog(), nil, "", "development")
	r := testRouter(h)

	req := httptest.NewRequest(http.MethodPut, "/v1/users/"+uuid.NewString()+"/optout/inactivity_reminder", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
