// Copyright 2025 James Ross
//
// Package readmodel implements component B: CRUD on the denormalized
// per-request AuthRequestState row, row-scoped to one auth_request_id.
// Every mutator validates the source state against domain.CanTransition and
// fails with ErrInvalidStateTransition on an illegal move (spec.md §4.2).
package readmodel

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/domain"
)

// Store is the Read Model Store contract.
type Store struct{}

func New() *Store { return &Store{} }

// CreatePending inserts a new row with status=PENDING, last_event_sequence=1.
func (s *Store) CreatePending(ctx context.Context, tx *sql.Tx, st domain.AuthRequestState) error {
	metadataJSON, err := json.Marshal(st.Metadata)
	if err != nil {
		return fmt.Errorf("marshal state metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_request_state (
			auth_request_id, restaurant_id, payment_token, amount_cents, currency, metadata,
			status, created_at, updated_at, last_event_sequence, last_event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now(), $8, $9)
	`, st.AuthRequestID, st.RestaurantID, st.PaymentToken, st.AmountCents, st.Currency, metadataJSON,
		string(domain.StatusPending), st.LastEventSequence, st.LastEventID)
	if err != nil {
		return fmt.Errorf("create pending state: %w", err)
	}
	return nil
}

func (s *Store) currentStatus(ctx context.Context, tx *sql.Tx, id string) (domain.Status, error) {
	var status string
	// No explicit row lock here: exclusivity across the worker path is
	// already guaranteed by the distributed lock (component D), and the
	// intake path is the sole writer of PENDING rows.
	err := tx.QueryRowContext(ctx, `SELECT status FROM auth_request_state WHERE auth_request_id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", &apperrors.ErrNotFound{Resource: "auth_request_state", ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("read current status: %w", err)
	}
	return domain.Status(status), nil
}

func (s *Store) requireTransition(ctx context.Context, tx *sql.Tx, id string, to domain.Status) error {
	from, err := s.currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(from, to) {
		return &apperrors.ErrInvalidStateTransition{AuthRequestID: id, From: string(from), To: string(to)}
	}
	return nil
}

// UpdateToProcessing moves PENDING (or PROCESSING, on retry) -> PROCESSING,
// advancing last_event_sequence/last_event_id (spec.md §4.2, §4.7 step 3).
func (s *Store) UpdateToProcessing(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusProcessing); err != nil {
		return err
	}
	return s.touch(ctx, tx, id, domain.StatusProcessing, seq, eventID, nil)
}

// UpdateRetryAttempt keeps status PROCESSING but advances the event
// bookkeeping columns (spec.md §4.7 step 7, retryable path).
func (s *Store) UpdateRetryAttempt(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusProcessing); err != nil {
		return err
	}
	return s.touch(ctx, tx, id, domain.StatusProcessing, seq, eventID, nil)
}

// UpdateToAuthorized moves PROCESSING -> AUTHORIZED (terminal).
func (s *Store) UpdateToAuthorized(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string, outcome domain.AuthorizedOutcome) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusAuthorized); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE auth_request_state SET
			status = $1, processor_name = $2, processor_auth_id = $3,
			authorized_amount_cents = $4, authorization_code = $5,
			updated_at = now(), completed_at = now(),
			last_event_sequence = $6, last_event_id = $7
		WHERE auth_request_id = $8
	`, string(domain.StatusAuthorized), outcome.ProcessorName, outcome.ProcessorAuthID,
		outcome.AuthorizedAmountCents, outcome.AuthorizationCode, seq, eventID, id)
	if err != nil {
		return fmt.Errorf("update to authorized: %w", err)
	}
	return nil
}

// UpdateToDenied moves PROCESSING -> DENIED (terminal). A decline is not a
// failure (spec.md §4.7 step 6).
func (s *Store) UpdateToDenied(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string, denial domain.DeniedOutcome) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusDenied); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE auth_request_state SET
			status = $1, processor_name = $2, denial_code = $3, denial_reason = $4,
			updated_at = now(), completed_at = now(),
			last_event_sequence = $5, last_event_id = $6
		WHERE auth_request_id = $7
	`, string(domain.StatusDenied), denial.ProcessorName, denial.DenialCode, denial.DenialReason, seq, eventID, id)
	if err != nil {
		return fmt.Errorf("update to denied: %w", err)
	}
	return nil
}

// UpdateToFailed moves PROCESSING -> FAILED (terminal).
func (s *Store) UpdateToFailed(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusFailed); err != nil {
		return err
	}
	return s.touchTerminal(ctx, tx, id, domain.StatusFailed, seq, eventID)
}

// UpdateToExpired moves {PENDING,PROCESSING} -> EXPIRED (terminal).
func (s *Store) UpdateToExpired(ctx context.Context, tx *sql.Tx, id string, seq int, eventID string) error {
	if err := s.requireTransition(ctx, tx, id, domain.StatusExpired); err != nil {
		return err
	}
	return s.touchTerminal(ctx, tx, id, domain.StatusExpired, seq, eventID)
}

func (s *Store) touch(ctx context.Context, tx *sql.Tx, id string, status domain.Status, seq int, eventID string, completedAt *struct{}) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE auth_request_state SET status = $1, updated_at = now(), last_event_sequence = $2, last_event_id = $3
		WHERE auth_request_id = $4
	`, string(status), seq, eventID, id)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

func (s *Store) touchTerminal(ctx context.Context, tx *sql.Tx, id string, status domain.Status, seq int, eventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE auth_request_state SET status = $1, updated_at = now(), completed_at = now(),
			last_event_sequence = $2, last_event_id = $3
		WHERE auth_request_id = $4
	`, string(status), seq, eventID, id)
	if err != nil {
		return fmt.Errorf("update state terminal: %w", err)
	}
	return nil
}

// Get reads the current row. conn may be *sql.DB or *sql.Tx.
func (s *Store) Get(ctx context.Context, conn Queryer, id string) (*domain.AuthRequestState, error) {
	row := conn.QueryRowContext(ctx, `
		SELECT auth_request_id, restaurant_id, payment_token, amount_cents, currency, metadata,
			status, processor_name, processor_auth_id, authorized_amount_cents, authorization_code,
			denial_code, denial_reason, created_at, updated_at, completed_at, last_event_sequence, last_event_id
		FROM auth_request_state WHERE auth_request_id = $1
	`, id)

	var st domain.AuthRequestState
	var metadataJSON []byte
	var status string
	var processorName, processorAuthID, authorizationCode, denialCode, denialReason sql.NullString
	var authorizedAmountCents sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&st.AuthRequestID, &st.RestaurantID, &st.PaymentToken, &st.AmountCents, &st.Currency, &metadataJSON,
		&status, &processorName, &processorAuthID, &authorizedAmountCents, &authorizationCode,
		&denialCode, &denialReason, &st.CreatedAt, &st.UpdatedAt, &completedAt, &st.LastEventSequence, &st.LastEventID)
	if err == sql.ErrNoRows {
		return nil, &apperrors.ErrNotFound{Resource: "auth_request_state", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}

	st.Status = domain.Status(status)
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &st.Metadata)
	}
	if processorName.Valid {
		st.ProcessorName = &processorName.String
	}
	if processorAuthID.Valid {
		st.ProcessorAuthID = &processorAuthID.String
	}
	if authorizedAmountCents.Valid {
		st.AuthorizedAmountCents = &authorizedAmountCents.Int64
	}
	if authorizationCode.Valid {
		st.AuthorizationCode = &authorizationCode.String
	}
	if denialCode.Valid {
		st.DenialCode = &denialCode.String
	}
	if denialReason.Valid {
		st.DenialReason = &denialReason.String
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	return &st, nil
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
