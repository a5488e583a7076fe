package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ResendSender delivers email through the Resend HTTP API. Delivery
// lifecycle events for messages sent this way arrive on the webhook
// receiver keyed by the returned message id.
type ResendSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
	logger  *zap.Logger
}

type ResendConfig struct {
	BaseURL   string
	APIKey    string
	FromEmail string
	FromName  string
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewResendSender creates a Resend API sender with a bounded request
// timeout.
func NewResendSender(cfg ResendConfig, logger *zap.Logger) *ResendSender {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}

	return &ResendSender{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		from:    from,
		logger:  logger,
	}
}

// Send posts one email and returns the provider message id.
func (s *ResendSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	payload, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return "", fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read resend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr resendError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("resend rejected message (%d %s): %s", resp.StatusCode, apiErr.Name, apiErr.Message)
		}
		return "", fmt.Errorf("resend rejected message: status %d", resp.StatusCode)
	}

	var result resendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode resend response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("resend response missing message id")
	}

	s.logger.Info("email sent via resend",
		zap.String("to", to),
		zap.String("message_id", result.ID),
	)

	return result.ID, nil
}
