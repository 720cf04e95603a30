//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/eventstore"
)

// TestEventStoreAppendAssignsAndPersists confirms NextSequence/Append round
// trip an event, including the payload-compression marker (this payload is
// below the compression threshold, so it is stored uncompressed).
func TestEventStoreAppendAssignsAndPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := eventstore.New()
	aggregateID := uuid.New().String()

	seqTx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	seq, err := store.NextSequence(ctx, seqTx, aggregateID)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
	require.NoError(t, seqTx.Rollback())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	ev := domain.Event{
		EventID:        eventstore.NewEventID(),
		AggregateID:    aggregateID,
		AggregateType:  domain.AggregateTypeAuthRequest,
		EventType:      domain.EventAuthRequestCreated,
		EventData:      []byte(`{"restaurant_id":"r1"}`),
		SequenceNumber: 1,
	}
	require.NoError(t, store.Append(ctx, tx, ev))
	require.NoError(t, tx.Commit())

	events, err := store.ListByAggregate(ctx, db, aggregateID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.EventID, events[0].EventID)
	assert.JSONEq(t, string(ev.EventData), string(events[0].EventData))
}

// TestEventStoreAppendRejectsDuplicateSequence confirms two writers racing
// for the same (aggregate_id, sequence_number) pair: the loser's Append
// fails with ErrDuplicateSequence rather than silently overwriting.
func TestEventStoreAppendRejectsDuplicateSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := eventstore.New()
	aggregateID := uuid.New().String()

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	ev1 := domain.Event{EventID: eventstore.NewEventID(), AggregateID: aggregateID, AggregateType: domain.AggregateTypeAuthRequest, EventType: domain.EventAuthRequestCreated, EventData: []byte(`{}`), SequenceNumber: 1}
	require.NoError(t, store.Append(ctx, tx1, ev1))
	require.NoError(t, tx1.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback() }()
	ev2 := domain.Event{EventID: eventstore.NewEventID(), AggregateID: aggregateID, AggregateType: domain.AggregateTypeAuthRequest, EventType: domain.EventAuthAttemptStarted, EventData: []byte(`{}`), SequenceNumber: 1}
	err = store.Append(ctx, tx2, ev2)
	require.Error(t, err)
	var dup *apperrors.ErrDuplicateSequence
	assert.ErrorAs(t, err, &dup)
}

// TestEventStoreHasVoidEvent confirms the void-race guard sees a
// previously-appended AuthVoidRequested event.
func TestEventStoreHasVoidEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := eventstore.New()
	aggregateID := uuid.New().String()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	voided, err := store.HasVoidEvent(ctx, tx, aggregateID)
	require.NoError(t, err)
	assert.False(t, voided)
	require.NoError(t, tx.Rollback())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	ev := domain.Event{EventID: eventstore.NewEventID(), AggregateID: aggregateID, AggregateType: domain.AggregateTypeAuthRequest, EventType: domain.EventAuthVoidRequested, EventData: []byte(`{}`), SequenceNumber: 1}
	require.NoError(t, store.Append(ctx, tx, ev))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	voided, err = store.HasVoidEvent(ctx, tx, aggregateID)
	require.NoError(t, err)
	assert.True(t, voided)
}
