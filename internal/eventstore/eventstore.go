// Copyright 2025 James Ross
//
// Package eventstore implements component A of the payment authorization
// core: an append-only per-aggregate event log with gap-free sequence
// numbers. Grounded on the transactional-insert idiom of
// internal/exactly_once/outbox.go and internal/exactly-once-patterns/outbox_storage.go
// in the teacher repo, adapted from an outbox table to an event log.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/dbx"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/payloadcompress"
)

// Store is the Event Store contract (spec.md §4.1).
type Store struct{}

// New returns an event store. It has no internal state: every method takes
// the caller's transaction handle explicitly, per spec.md §9's guidance
// against global mutable connection pools.
func New() *Store { return &Store{} }

// NextSequence returns max(sequence)+1 for the aggregate, or 1 if none.
// Must run inside the caller's transaction so the result is still valid at
// commit time.
func (s *Store) NextSequence(ctx context.Context, tx *sql.Tx, aggregateID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// Append inserts one immutable event row. Fails with ErrDuplicateSequence or
// ErrDuplicateEventID if the unique constraints are violated -- the caller's
// enclosing transaction must then be rolled back (spec.md §4.1).
func (s *Store) Append(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, event_data, metadata, sequence_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, ev.EventID, ev.AggregateID, ev.AggregateType, string(ev.EventType), payloadcompress.Compress(ev.EventData), metadataJSON, ev.SequenceNumber)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			// The unique index on (aggregate_id, sequence_number) and the
			// unique index on event_id both land here; the violated
			// constraint's name tells them apart.
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Constraint == "events_event_id_key" {
				return &apperrors.ErrDuplicateEventID{EventID: ev.EventID}
			}
			return &apperrors.ErrDuplicateSequence{AggregateID: ev.AggregateID, Sequence: ev.SequenceNumber}
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// HasVoidEvent reports whether any AuthVoidRequested event exists for the
// aggregate (spec.md §4.1, used by the worker's void-race check).
func (s *Store) HasVoidEvent(ctx context.Context, tx *sql.Tx, aggregateID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM events WHERE aggregate_id = $1 AND event_type = $2
		)
	`, aggregateID, string(domain.EventAuthVoidRequested)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has void event: %w", err)
	}
	return exists, nil
}

// ListByAggregate returns every event for an aggregate in sequence order.
// Used by tests to assert the universal invariants in spec.md §8 and by any
// future audit surface; not itself part of the worker/intake hot path.
func (s *Store) ListByAggregate(ctx context.Context, q Queryer, aggregateID string) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_data, metadata, sequence_number, created_at
		FROM events WHERE aggregate_id = $1 ORDER BY sequence_number ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var metadataJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.AggregateID, &ev.AggregateType, &ev.EventType, &ev.EventData, &metadataJSON, &ev.SequenceNumber, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.EventData, err = payloadcompress.Decompress(ev.EventData); err != nil {
			return nil, fmt.Errorf("decompress event data: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting callers read
// through either a plain connection or an in-flight transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// NewEventID generates a globally-unique event identifier.
func NewEventID() string { return uuid.New().String() }
