package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TickFunc advances one job by a single step.
type TickFunc func(ctx context.Context, jobID string) error

// StartPool runs workers that take due job ids from the channel and tick
// them. Each tick waits on the shared limiter before running. Workers exit
// when ctx is cancelled or the channel is closed.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	due <-chan string,
	tick TickFunc,
	limiter *rate.Limiter,
	logger *zap.Logger,
) {
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Info("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					logger.Info("worker shutting down", zap.Int("worker_id", id))
					return

				case jobID, ok := <-due:
					if !ok {
						logger.Info("due channel closed", zap.Int("worker_id", id))
						return
					}

					// ----------------------------
					// Rate Limit
					// ----------------------------
					if limiter != nil {
						if err := limiter.Wait(ctx); err != nil {
							logger.Warn("rate limiter stopped by context",
								zap.Int("worker_id", id),
								zap.String("job_id", jobID),
								zap.Error(err),
							)
							return
						}
					}

					// ----------------------------
					// Tick
					// ----------------------------
					if err := tick(ctx, jobID); err != nil {
						logger.Error("tick failed",
							zap.Int("worker_id", id),
							zap.String("job_id", jobID),
							zap.Error(err),
						)
					}
				}
			}
		}(i)
	}
}
