package server

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the part of the session service the background sweep needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// RunSweeper hard-deletes expired and long-idle sessions every interval until
// ctx is cancelled.
func RunSweeper(ctx context.Context, sweeper Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping session sweep task")
			return
		case <-ticker.C:
			sweepOnce(ctx, sweeper)
		}
	}
}

func sweepOnce(ctx context.Context, sweeper Sweeper) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := sweeper.SweepExpired(sweepCtx)
	if err != nil {
		slog.Error("session sweep failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("session sweep completed", slog.Int64("sessions_deleted", count))
}
