// Copyright 2025 James Ross
//
// Package queueconsumer implements component H, the Queue Consumer:
// long-polls the FIFO transport, decodes each delivery's payload, and
// dispatches to the Worker Orchestrator, deleting the message for every
// result except RETRYABLE_FAILURE so visibility timeout re-exposes it for
// redelivery (spec.md §4.8). Grounded on the teacher's worker.Worker.runOne
// poll loop -- one goroutine per configured worker count, each independently
// draining the queue.
package queueconsumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/orchestrator"
	"github.com/ssh-randy/payments-core/internal/transport"
)

// Consumer pulls deliveries off a transport.Queue and runs them through an
// Orchestrator.
type Consumer struct {
	queue        transport.Queue
	orchestrator *orchestrator.Orchestrator
	workerCount  int
	batchSize    int
	log          *zap.Logger
}

func New(queue transport.Queue, orch *orchestrator.Orchestrator, workerCount, batchSize int, log *zap.Logger) *Consumer {
	if workerCount <= 0 {
		workerCount = 1
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Consumer{queue: queue, orchestrator: orch, workerCount: workerCount, batchSize: batchSize, log: log}
}

// Run starts workerCount poll loops and blocks until ctx is canceled or all
// loops have returned (graceful shutdown: in-flight invocations finish
// before the loop exits).
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			c.pollLoop(ctx)
		}()
	}
	wg.Wait()
}

func (c *Consumer) pollLoop(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, err := c.queue.ReceiveBatch(ctx, c.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("receive batch error", obs.Err(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

// handle dispatches one delivery to the orchestrator. A recover() guards
// this call as defense in depth: orchestrator.Process already recovers
// panics from its own collaborators into a terminal UNEXPECTED_ERROR
// result, but an unrecovered panic here would otherwise crash this poll
// loop's goroutine -- and an unrecovered panic in any goroutine takes the
// whole worker process down with it (spec.md §7's Unexpected entry).
func (c *Consumer) handle(ctx context.Context, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("recovered panic handling queue message", zap.Any("panic", r))
		}
	}()

	var payload domain.AuthRequestQueuedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		// Poison pill: delete rather than retry forever.
		c.log.Error("malformed queue message, deleting", obs.Err(err))
		if delErr := c.queue.Delete(ctx, msg); delErr != nil {
			c.log.Warn("delete malformed message failed", obs.Err(delErr))
		}
		return
	}

	result := c.orchestrator.Process(ctx, payload.AuthRequestID, payload.RestaurantID, msg.ReceiveCount)
	if result == orchestrator.ResultRetryableFailure {
		return
	}
	if err := c.queue.Delete(ctx, msg); err != nil {
		c.log.Warn("delete processed message failed", zap.String("auth_request_id", payload.AuthRequestID), obs.Err(err))
	}
}
