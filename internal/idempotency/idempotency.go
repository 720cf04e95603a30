// Copyright 2025 James Ross
//
// Package idempotency implements the IdempotencyKey table of spec.md §3
// and the intake-path lookup of spec.md §4.6 step 1. The Postgres-backed
// Store is the system of record; RedisCache is an optional read-through
// cache in front of it for the hot re-submit path, grounded on
// internal/exactly_once/idempotency.go's RedisIdempotencyManager (the
// SETEX-on-miss idiom is reused, minus its own distinct namespace-as-lock
// semantics, which this domain's Postgres row already provides).
package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ssh-randy/payments-core/internal/domain"
)

// Store is the Postgres-backed IdempotencyKey table.
type Store struct{}

func New() *Store { return &Store{} }

// Lookup returns the existing auth_request_id for (key, restaurantID), if
// any and not expired.
func (s *Store) Lookup(ctx context.Context, conn Queryer, key, restaurantID string) (string, bool, error) {
	var authRequestID string
	var expiresAt time.Time
	err := conn.QueryRowContext(ctx, `
		SELECT auth_request_id, expires_at FROM idempotency_keys
		WHERE idempotency_key = $1 AND restaurant_id = $2
	`, key, restaurantID).Scan(&authRequestID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if time.Now().After(expiresAt) {
		return "", false, nil
	}
	return authRequestID, true, nil
}

// Insert records a new mapping inside the caller's transaction. A
// uniqueness failure here means a concurrent duplicate submit raced us and
// the caller should fall back to the Lookup path (spec.md §4.6 step 2).
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, k domain.IdempotencyKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, restaurant_id, auth_request_id, expires_at)
		VALUES ($1, $2, $3, $4)
	`, k.IdempotencyKey, k.RestaurantID, k.AuthRequestID, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// HarvestExpired deletes entries past expires_at, returning the count
// removed. Invoked on a low-frequency cron schedule (see
// internal/idempotency/harvester.go), not the hot path.
func (s *Store) HarvestExpired(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("harvest expired idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
