// Copyright 2025 James Ross
//
// Package outbox implements component C: the transactional outbox table.
// Grounded directly on internal/exactly_once/outbox.go's CreateOutboxTable /
// ExecuteWithOutbox / ProcessPending shape, generalized from a
// MySQL-placeholder, queue-coupled design to the Postgres, claim-then-mark
// idiom spec.md §4.3 and §9 call for (SELECT ... FOR UPDATE SKIP LOCKED so
// two dispatcher replicas don't double-claim the same row).
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/payloadcompress"
)

// Store is the Outbox Table contract.
type Store struct{}

func New() *Store { return &Store{} }

// Append inserts a pending outbox row inside the caller's transaction.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, aggregateID, messageType string, payload []byte) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO outbox_entries (aggregate_id, message_type, payload, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id
	`, aggregateID, messageType, payloadcompress.Compress(payload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append outbox entry: %w", err)
	}
	return id, nil
}

// ClaimUnprocessed returns up to `limit` unprocessed rows ordered by
// created_at ascending, locking them against concurrent dispatcher
// replicas for the lifetime of the returned transaction. The caller MUST
// commit or rollback tx; rows not explicitly marked processed revert to
// unprocessed on rollback.
//
// spec.md's own contract says claim_unprocessed "need not be row-locking";
// §9 separately flags the duplicate-enqueue risk and recommends
// SELECT ... FOR UPDATE SKIP LOCKED as the fix. This implementation adopts
// that recommendation rather than leaving the race open.
func (s *Store) ClaimUnprocessed(ctx context.Context, db *sql.DB, limit int) (*sql.Tx, []domain.OutboxEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin claim tx: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, message_type, payload, created_at
		FROM outbox_entries
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("claim unprocessed: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.MessageType, &e.Payload, &e.CreatedAt); err != nil {
			_ = tx.Rollback()
			return nil, nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if e.Payload, err = payloadcompress.Decompress(e.Payload); err != nil {
			_ = tx.Rollback()
			return nil, nil, fmt.Errorf("decompress outbox payload: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	return tx, out, nil
}

// MarkProcessed sets processed_at if still null. Called within the same
// transaction returned by ClaimUnprocessed, after a confirmed enqueue.
func (s *Store) MarkProcessed(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_entries SET processed_at = now() WHERE id = $1 AND processed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}
	return nil
}

// PendingCount reports the number of unprocessed rows, for admin/status
// surfaces.
func (s *Store) PendingCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_entries WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// PruneProcessed deletes processed rows older than `before`, bounding table
// growth. Not part of spec.md's core contract but necessary housekeeping
// any production deployment of an append-style outbox needs.
func (s *Store) PruneProcessed(ctx context.Context, db *sql.DB, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM outbox_entries WHERE processed_at IS NOT NULL AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return res.RowsAffected()
}
