// Copyright 2025 James Ross
package lock

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes expired lock rows, keeping the table
// bounded. Not required for correctness -- TryAcquire already treats an
// expired row as free -- but grounded on internal/reaper/reaper.go's
// ticker-driven cleanup idiom.
type Sweeper struct {
	db       *Lock
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(l *Lock, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{db: l, interval: interval, log: log}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepOnce(ctx)
			if err != nil {
				s.log.Warn("lock sweep error", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("swept expired locks", zap.Int64("count", n))
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int64, error) {
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM processing_locks WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
