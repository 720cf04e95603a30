// Copyright 2025 James Ross
//
// Package dispatcher implements component G, the Outbox Dispatcher: a
// long-lived poll loop that claims unprocessed outbox rows and relays them
// onto the FIFO transport, grounded on the teacher's worker.Worker.Run poll
// loop shape (goroutine-driven ticker, breaker-free here since the queue
// backend is the only downstream dependency) and on
// internal/exactly_once/outbox.go's own ProcessPending, generalized from a
// single-process loop to the claim-then-enqueue-then-mark sequence spec.md
// §4.10 and §9 require for safe multi-replica operation.
package dispatcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/transport"
)

// Dispatcher relays outbox rows to the FIFO transport.
type Dispatcher struct {
	db         *sql.DB
	outboxes   *outbox.Store
	queue      transport.Queue
	batchSize  int
	pollEvery  time.Duration
	pruneAfter time.Duration
	pruneEvery time.Duration
	log        *zap.Logger
}

func New(db *sql.DB, outboxes *outbox.Store, queue transport.Queue, batchSize int, pollEvery, pruneAfter, pruneEvery time.Duration, log *zap.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	return &Dispatcher{
		db:         db,
		outboxes:   outboxes,
		queue:      queue,
		batchSize:  batchSize,
		pollEvery:  pollEvery,
		pruneAfter: pruneAfter,
		pruneEvery: pruneEvery,
		log:        log,
	}
}

// Run polls until ctx is canceled. It also starts the prune ticker if
// pruneEvery is set.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.pruneEvery > 0 {
		go d.runPruneLoop(ctx)
	}

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.dispatchOnce(ctx); err != nil {
				d.log.Warn("dispatch batch error", obs.Err(err))
			}
		}
	}
}

// dispatchOnce claims up to batchSize rows, enqueues each onto the FIFO
// transport, and marks it processed -- all inside the claim transaction, so
// a crash mid-batch leaves unprocessed rows for the next poll to reclaim
// (spec.md §4.10's at-least-once relay contract).
func (d *Dispatcher) dispatchOnce(ctx context.Context) error {
	tx, entries, err := d.outboxes.ClaimUnprocessed(ctx, d.db, d.batchSize)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(entries) == 0 {
		return tx.Commit()
	}

	for _, entry := range entries {
		groupID, dedupID, err := dispatchKeys(entry)
		if err != nil {
			d.log.Error("malformed outbox entry, skipping", zap.Int64("id", entry.ID), obs.Err(err))
			continue
		}

		_, span := obs.StartDispatchSpan(ctx, entry.MessageType)
		enqErr := d.queue.Enqueue(ctx, groupID, dedupID, entry.Payload)
		if enqErr != nil {
			obs.RecordError(ctx, enqErr)
			span.End()
			return enqErr
		}
		obs.SetSpanSuccess(ctx)
		span.End()

		if err := d.outboxes.MarkProcessed(ctx, tx, entry.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	obs.AuthRequestsQueued.Add(float64(len(entries)))
	return nil
}

func (d *Dispatcher) runPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.outboxes.PruneProcessed(ctx, d.db, time.Now().Add(-d.pruneAfter))
			if err != nil {
				d.log.Warn("outbox prune error", obs.Err(err))
				continue
			}
			if n > 0 {
				d.log.Info("pruned processed outbox rows", zap.Int64("count", n))
			}
		}
	}
}

// dispatchKeys derives the FIFO group and dedup IDs from an outbox entry.
// group_id is the restaurant id carried in the payload, so SQS/NATS
// preserve per-restaurant order; dedup id is the outbox row id itself,
// stable across redelivery of the same row so a dispatcher crash-and-retry
// never double-enqueues.
func dispatchKeys(entry domain.OutboxEntry) (groupID, dedupID string, err error) {
	var payload domain.AuthRequestQueuedPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return "", "", err
	}
	return payload.RestaurantID, strconv.FormatInt(entry.ID, 10), nil
}
