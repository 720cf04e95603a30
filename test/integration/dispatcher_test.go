//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssh-randy/payments-core/internal/dispatcher"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/transport"
)

// fakeQueue is an in-memory transport.Queue for dispatcher/consumer tests;
// EnqueueErr lets a test fault-inject a downstream transport failure.
type fakeQueue struct {
	mu         sync.Mutex
	enqueued   []transport.Message
	deleted    []transport.Message
	EnqueueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, groupID, dedupID string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.enqueued = append(q.enqueued, transport.Message{ID: dedupID, GroupID: groupID, Payload: payload})
	return nil
}

func (q *fakeQueue) ReceiveBatch(ctx context.Context, maxMessages int) ([]transport.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(ctx context.Context, msg transport.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, msg)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

// TestDispatcherRelaysAndMarksProcessed confirms a pending outbox row is
// enqueued onto the transport and marked processed in one poll.
func TestDispatcherRelaysAndMarksProcessed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	outboxes := outbox.New()
	queue := &fakeQueue{}

	aggregateID := uuid.New().String()
	payload, err := marshalQueuedPayload(aggregateID, uuid.New().String())
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = outboxes.Append(ctx, tx, aggregateID, domain.MessageTypeAuthRequestQueued, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	d := dispatcher.New(db, outboxes, queue, 10, 10*time.Millisecond, time.Hour, 0, zap.NewNop())
	runDispatchOnce(t, ctx, d)

	assert.Equal(t, 1, queue.count())
	pending, err := outboxes.PendingCount(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

// TestDispatcherLeavesRowUnprocessedOnEnqueueFailure fault-injects a
// transport failure: the claimed row must remain unprocessed (visible to
// the next poll) rather than being marked processed despite never reaching
// the queue, preserving the at-least-once relay contract of spec.md §4.10.
func TestDispatcherLeavesRowUnprocessedOnEnqueueFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	outboxes := outbox.New()
	queue := &fakeQueue{EnqueueErr: errors.New("transport unavailable")}

	aggregateID := uuid.New().String()
	payload, err := marshalQueuedPayload(aggregateID, uuid.New().String())
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = outboxes.Append(ctx, tx, aggregateID, domain.MessageTypeAuthRequestQueued, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	d := dispatcher.New(db, outboxes, queue, 10, 10*time.Millisecond, time.Hour, 0, zap.NewNop())
	runDispatchOnce(t, ctx, d)

	pending, err := outboxes.PendingCount(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "a row that failed to enqueue must stay pending for the next poll")
}

// runDispatchOnce runs the dispatcher for one poll interval then cancels,
// since dispatchOnce itself is unexported outside the package.
func runDispatchOnce(t *testing.T, ctx context.Context, d *dispatcher.Dispatcher) {
	t.Helper()
	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = d.Run(runCtx)
}

func marshalQueuedPayload(authRequestID, restaurantID string) ([]byte, error) {
	return json.Marshal(domain.AuthRequestQueuedPayload{
		AuthRequestID: authRequestID,
		RestaurantID:  restaurantID,
		CreatedAt:     time.Now(),
	})
}
