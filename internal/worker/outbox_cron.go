package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartOutboxCron periodically drains the correction outbox as a safety net.
// The completion path enqueues a drain nudge through Redis; if that nudge is
// lost (Redis down, worker crash mid-job) this ticker still converges every
// pending correction.
func StartOutboxCron(ctx context.Context, corrections *CorrectionWorker, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Info().Dur("interval", interval).Msg("correction outbox cron started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("correction outbox cron stopped")
				return
			case <-ticker.C:
				corrections.Drain(ctx)
			}
		}
	}()
}
