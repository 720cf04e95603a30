// Copyright 2025 James Ross
package obs

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartOutboxPendingUpdater samples the outbox table's unprocessed-row
// count and updates a gauge, the read-model analogue of the teacher's
// StartQueueLengthUpdater (which sampled Redis LLEN instead).
func StartOutboxPendingUpdater(ctx context.Context, db *sql.DB, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var n int
				if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_entries WHERE processed_at IS NULL`).Scan(&n); err != nil {
					log.Debug("outbox pending poll error", Err(err))
					continue
				}
				OutboxPending.Set(float64(n))
			}
		}
	}()
}
