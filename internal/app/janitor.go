package app

import (
	"context"
	"log/slog"
	"time"
)

// runJanitor deletes expired codes and tokens every interval until ctx is done
func runJanitor(ctx context.Context, log *slog.Logger, purger Purger, interval time.Duration) {
	const op = "app.runJanitor"

	log = log.With(slog.String("op", op))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				log.Error("failed to purge expired artifacts", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				log.Info("purged expired artifacts", slog.Int64("count", n))
			}
		}
	}
}
