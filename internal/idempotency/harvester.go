// Copyright 2025 James Ross
package idempotency

import (
	"context"
	"database/sql"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Harvester runs Store.HarvestExpired on a cron schedule. A low-frequency
// housekeeping task is a better fit for robfig/cron's expression-driven
// scheduling than a bare ticker; contrast with the tight ticker loop used
// by the lock TTL sweeper (internal/lock/sweeper.go), which must react
// within seconds.
type Harvester struct {
	store *Store
	db    *sql.DB
	log   *zap.Logger
	cron  *cron.Cron
}

// NewHarvester builds a harvester that will run on the given cron
// expression once Start is called, e.g. "0 * * * *" for hourly.
func NewHarvester(store *Store, db *sql.DB, schedule string, log *zap.Logger) (*Harvester, error) {
	c := cron.New()
	h := &Harvester{store: store, db: db, log: log, cron: c}
	_, err := c.AddFunc(schedule, h.runOnce)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Harvester) runOnce() {
	n, err := h.store.HarvestExpired(context.Background(), h.db)
	if err != nil {
		h.log.Warn("idempotency harvest failed", zap.Error(err))
		return
	}
	if n > 0 {
		h.log.Info("harvested expired idempotency keys", zap.Int64("count", n))
	}
}

// Start begins the cron scheduler in the background.
func (h *Harvester) Start() { h.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (h *Harvester) Stop() { <-h.cron.Stop().Done() }
