package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds an in-process triggered run the way a serverless
// platform's execution budget would.
const runTimeout = 5 * time.Minute

// StartCron wires an in-process trigger for deployments without an
// external timer. The returned cron is already started; callers stop it on
// shutdown.
func StartCron(spec string, s *Scheduler, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		result, err := s.Run(ctx)
		if err != nil {
			logger.Error("cron-triggered run failed", zap.Error(err))
			return
		}

		logger.Info("cron-triggered run finished",
			zap.String("outcome", result.Outcome),
			zap.Int("emails_sent", result.EmailsSent),
		)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	logger.Info("in-process trigger started", zap.String("spec", spec))

	return c, nil
}
