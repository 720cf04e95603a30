//go:build integration_tests
// +build integration_tests

// Copyright 2025 James Ross
package integration

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-randy/payments-core/internal/coordinator"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/eventstore"
	"github.com/ssh-randy/payments-core/internal/idempotency"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/readmodel"
)

func newCoordinator(db *sql.DB) *coordinator.Coordinator {
	return coordinator.New(db, eventstore.New(), readmodel.New(), outbox.New(), idempotency.New())
}

func createData(restaurantID, idemKey string) domain.AuthRequestCreatedData {
	return domain.AuthRequestCreatedData{
		RestaurantID:   restaurantID,
		PaymentToken:   "tok_test",
		AmountCents:    2500,
		Currency:       "USD",
		IdempotencyKey: idemKey,
	}
}

// TestCoordinatorRecordCreatedCommitsAllFourWrites confirms a successful
// RecordCreated leaves behind exactly one event, one PENDING read-model
// row, one outbox entry, and one idempotency mapping.
func TestCoordinatorRecordCreatedCommitsAllFourWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	coord := newCoordinator(db)

	authRequestID := uuid.New().String()
	restaurantID := uuid.New().String()
	idemKey := uuid.New().String()

	result, err := coord.RecordCreated(ctx, authRequestID, createData(restaurantID, idemKey), domain.IdempotencyKey{
		IdempotencyKey: idemKey,
		RestaurantID:   restaurantID,
		AuthRequestID:  authRequestID,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, result.Existing)
	assert.Equal(t, authRequestID, result.AuthRequestID)

	events, err := eventstore.New().ListByAggregate(ctx, db, authRequestID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, domain.EventAuthRequestCreated, events[0].EventType)

	state, err := coord.Get(ctx, authRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, state.Status)

	pending, err := outbox.New().PendingCount(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	foundID, found, err := idempotency.New().Lookup(ctx, db, idemKey, restaurantID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, authRequestID, foundID)
}

// TestCoordinatorRecordCreatedAtomicOnConflict fault-injects a failure into
// the middle of RecordCreated's single transaction (a pre-existing
// auth_request_state row collides with the read-model insert) and confirms
// the event already appended earlier in the same transaction does not
// survive the rollback -- the atomicity property of spec.md §8: either all
// of the create's writes land, or none do.
func TestCoordinatorRecordCreatedAtomicOnConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	coord := newCoordinator(db)
	rm := readmodel.New()

	authRequestID := uuid.New().String()
	restaurantID := uuid.New().String()

	// Pre-create the read-model row out of band, so the coordinator's own
	// CreatePending insert inside RecordCreated's transaction collides on
	// the primary key -- after its event append has already run in that
	// same, still-uncommitted transaction.
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, rm.CreatePending(ctx, tx, domain.AuthRequestState{
		AuthRequestID:     authRequestID,
		RestaurantID:      restaurantID,
		PaymentToken:      "tok_preexisting",
		AmountCents:       100,
		Currency:          "USD",
		LastEventSequence: 1,
		LastEventID:       uuid.New().String(),
	}))
	require.NoError(t, tx.Commit())

	_, err = coord.RecordCreated(ctx, authRequestID, createData(restaurantID, uuid.New().String()), domain.IdempotencyKey{
		IdempotencyKey: uuid.New().String(),
		RestaurantID:   restaurantID,
		AuthRequestID:  authRequestID,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	})
	require.Error(t, err)

	events, err := eventstore.New().ListByAggregate(ctx, db, authRequestID)
	require.NoError(t, err)
	assert.Empty(t, events, "the event appended earlier in the failed transaction must not survive rollback")

	pending, err := outbox.New().PendingCount(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, pending, "the outbox entry from the failed transaction must not survive rollback")
}

// TestCoordinatorRecordCreatedConcurrentDuplicateRacesSafely submits the
// same (restaurant_id, idempotency_key) pair from five concurrent callers.
// Exactly one must win and create its aggregate; the other must roll back
// entirely and be redirected to the winner's auth_request_id -- closing the
// double-charge risk a split create-then-insert would reopen.
func TestCoordinatorRecordCreatedConcurrentDuplicateRacesSafely(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	coord := newCoordinator(db)

	restaurantID := uuid.New().String()
	idemKey := uuid.New().String()

	const racers = 5
	ids := make([]string, racers)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	results := make([]*coordinator.CreateResult, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = coord.RecordCreated(ctx, ids[n], createData(restaurantID, idemKey), domain.IdempotencyKey{
				IdempotencyKey: idemKey,
				RestaurantID:   restaurantID,
				AuthRequestID:  ids[n],
				ExpiresAt:      time.Now().Add(24 * time.Hour),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	var winnerID string
	for i, res := range results {
		require.NoError(t, errs[i])
		if !res.Existing {
			winners++
			winnerID = res.AuthRequestID
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent create should win the idempotency-key race")

	for i, res := range results {
		if res.Existing {
			assert.Equal(t, winnerID, res.AuthRequestID, "losers must be redirected to the winner's aggregate")
			events, err := eventstore.New().ListByAggregate(ctx, db, ids[i])
			require.NoError(t, err)
			assert.Empty(t, events, "a losing racer's own aggregate must never have been created")
		}
	}
}

// TestCoordinatorWorkerLifecycle exercises RecordStarted/RecordAuthorized,
// following the happy-path scenario of spec.md §8.
func TestCoordinatorWorkerLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	coord := newCoordinator(db)

	authRequestID := uuid.New().String()
	restaurantID := uuid.New().String()
	idemKey := uuid.New().String()

	_, err := coord.RecordCreated(ctx, authRequestID, createData(restaurantID, idemKey), domain.IdempotencyKey{
		IdempotencyKey: idemKey,
		RestaurantID:   restaurantID,
		AuthRequestID:  authRequestID,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	voided, err := coord.HasVoidEvent(ctx, authRequestID)
	require.NoError(t, err)
	assert.False(t, voided)

	_, err = coord.RecordStarted(ctx, authRequestID, 1, "worker-1")
	require.NoError(t, err)

	_, err = coord.RecordAuthorized(ctx, authRequestID, domain.AuthorizedOutcome{
		ProcessorName:         "mock",
		ProcessorAuthID:       "auth_1",
		AuthorizedAmountCents: 2500,
		AuthorizationCode:     "123456",
	})
	require.NoError(t, err)

	state, err := coord.Get(ctx, authRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, state.Status)
}
