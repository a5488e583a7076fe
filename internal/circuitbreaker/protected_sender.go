package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sender mirrors the sender.Sender interface to avoid circular imports.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// ProtectedSender wraps a transport with a CircuitBreaker. An open circuit
// surfaces as an ordinary send error, so the dispatcher records it as one
// more failed attempt and the run keeps going.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts one delivery through the circuit breaker. If the circuit
// is open it returns ErrCircuitOpen immediately without touching the
// transport.
func (p *ProtectedSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	id, err := p.sender.Send(ctx, to, subject, body)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return "", err
	}

	p.breaker.RecordSuccess()
	return id, nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
