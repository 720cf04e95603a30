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
	"github.com/ssh-randy/payments-core/internal/readmodel"
)

func newPendingState(id string) domain.AuthRequestState {
	return domain.AuthRequestState{
		AuthRequestID:     id,
		RestaurantID:      uuid.New().String(),
		PaymentToken:      "tok_test",
		AmountCents:       1500,
		Currency:          "USD",
		LastEventSequence: 1,
		LastEventID:       uuid.New().String(),
	}
}

// TestReadModelCreatePendingAndGet confirms a fresh row reads back with
// status PENDING and the fields it was created with.
func TestReadModelCreatePendingAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := readmodel.New()
	id := uuid.New().String()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreatePending(ctx, tx, newPendingState(id)))
	require.NoError(t, tx.Commit())

	got, err := store.Get(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, int64(1500), got.AmountCents)
}

// TestReadModelTransitionsFollowCanTransition confirms the legal path
// PENDING -> PROCESSING -> AUTHORIZED succeeds end to end through the store.
func TestReadModelTransitionsFollowCanTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := readmodel.New()
	id := uuid.New().String()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreatePending(ctx, tx, newPendingState(id)))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateToProcessing(ctx, tx, id, 2, uuid.New().String()))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateToAuthorized(ctx, tx, id, 3, uuid.New().String(), domain.AuthorizedOutcome{
		ProcessorName:         "mock",
		ProcessorAuthID:       "auth_1",
		AuthorizedAmountCents: 1500,
		AuthorizationCode:     "123456",
	}))
	require.NoError(t, tx.Commit())

	got, err := store.Get(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, got.Status)
	require.NotNil(t, got.ProcessorAuthID)
	assert.Equal(t, "auth_1", *got.ProcessorAuthID)
	assert.NotNil(t, got.CompletedAt)
}

// TestReadModelRejectsIllegalTransitionFromTerminal confirms a terminal row
// (AUTHORIZED) can never transition again, including back to PROCESSING --
// domain.CanTransition's "terminal states never transition" rule.
func TestReadModelRejectsIllegalTransitionFromTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := startPostgresContainer(t, ctx)
	store := readmodel.New()
	id := uuid.New().String()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreatePending(ctx, tx, newPendingState(id)))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateToProcessing(ctx, tx, id, 2, uuid.New().String()))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateToFailed(ctx, tx, id, 3, uuid.New().String()))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	err = store.UpdateToProcessing(ctx, tx, id, 4, uuid.New().String())
	require.Error(t, err)
	var invalid *apperrors.ErrInvalidStateTransition
	assert.ErrorAs(t, err, &invalid)
}
