// Package sender abstracts the outbound email transport.
package sender

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sender is the transport contract: deliver one message, return the
// provider-assigned id used to correlate webhook events later. Retry and
// queueing are the transport's business, not ours.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (providerMessageID string, err error)
}

// LogSender writes messages to the log instead of sending them. Used in
// development and tests.
type LogSender struct {
	logger *zap.Logger
	seq    int
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	s.seq++
	id := localMessageID(s.seq)

	s.logger.Info("email logged (development mode)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
		zap.String("message_id", id),
	)

	return id, nil
}

func localMessageID(seq int) string {
	return fmt.Sprintf("local-%d-%d", time.Now().UnixNano(), seq)
}
