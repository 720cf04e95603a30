// Copyright 2025 James Ross
//
// Package coordinator implements component E, the Transaction Coordinator.
// It composes the Event Store (A), the Read Model Store (B), and -- on the
// intake path only -- the Outbox Table (C), inside a single Postgres
// transaction so that every state transition is visible atomically: either
// the event, the read-model row, and (for intake) the outbox row all commit
// together, or none of them do (spec.md §4.5, universal invariant in §8).
//
// Every method here opens its own transaction; callers never see a *sql.Tx.
// This mirrors the teacher repo's dependency-injection style of composing
// narrow, single-purpose stores behind one facade (c.f.
// internal/exactly_once/outbox.go's ExecuteWithOutbox), generalized from one
// store to three.
package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ssh-randy/payments-core/internal/dbx"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/eventstore"
	"github.com/ssh-randy/payments-core/internal/idempotency"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/readmodel"
)

// Coordinator is the single entry point intake and the worker use to mutate
// an auth request's event stream and read-model row.
type Coordinator struct {
	db          *sql.DB
	events      *eventstore.Store
	readmodels  *readmodel.Store
	outboxes    *outbox.Store
	idempotency *idempotency.Store
}

func New(db *sql.DB, events *eventstore.Store, readmodels *readmodel.Store, outboxes *outbox.Store, idempotency *idempotency.Store) *Coordinator {
	return &Coordinator{db: db, events: events, readmodels: readmodels, outboxes: outboxes, idempotency: idempotency}
}

// CreateResult is returned by RecordCreated. Existing is true when a
// concurrent duplicate submission won the idempotency-key race: AuthRequestID
// then names the *other* racer's aggregate, not the one the caller asked to
// create.
type CreateResult struct {
	AuthRequestID string
	Event         domain.Event
	Existing      bool
}

// RecordCreated implements spec.md §4.6 step 2/3 as a single transaction:
// append AuthRequestCreated, create the PENDING read-model row, append an
// outbox entry so the dispatcher can enqueue the request, and insert the
// idempotency-key mapping -- all four writes commit atomically or none do.
// A uniqueness failure on the idempotency-key insert means a concurrent
// duplicate submit won the race; the whole transaction is rolled back
// (so no event, read-model row, or outbox entry from this attempt survives)
// and the caller is pointed at the winning racer's existing aggregate
// instead (spec.md §4.6 step 2, §8 idempotency property).
func (c *Coordinator) RecordCreated(ctx context.Context, authRequestID string, data domain.AuthRequestCreatedData, idemKey domain.IdempotencyKey) (*CreateResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal auth request created payload: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record created tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := c.events.NextSequence(ctx, tx, authRequestID)
	if err != nil {
		return nil, err
	}
	ev := domain.Event{
		EventID:        eventstore.NewEventID(),
		AggregateID:    authRequestID,
		AggregateType:  domain.AggregateTypeAuthRequest,
		EventType:      domain.EventAuthRequestCreated,
		EventData:      payload,
		SequenceNumber: seq,
	}
	if err := c.events.Append(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := c.readmodels.CreatePending(ctx, tx, domain.AuthRequestState{
		AuthRequestID:     authRequestID,
		RestaurantID:      data.RestaurantID,
		PaymentToken:      data.PaymentToken,
		AmountCents:       data.AmountCents,
		Currency:          data.Currency,
		Metadata:          data.Metadata,
		LastEventSequence: seq,
		LastEventID:       ev.EventID,
	}); err != nil {
		return nil, err
	}

	outboxPayload, err := json.Marshal(domain.AuthRequestQueuedPayload{
		AuthRequestID: authRequestID,
		RestaurantID:  data.RestaurantID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	if _, err := c.outboxes.Append(ctx, tx, authRequestID, domain.MessageTypeAuthRequestQueued, outboxPayload); err != nil {
		return nil, err
	}

	if err := c.idempotency.Insert(ctx, tx, idemKey); err != nil {
		if dbx.IsUniqueViolation(err) {
			// A concurrent duplicate submit won the (idempotency_key,
			// restaurant_id) race. Roll back this entire attempt -- its
			// event, read-model row, and outbox entry must not survive --
			// and hand the caller the winner's existing aggregate instead.
			_ = tx.Rollback()
			existingID, found, lookupErr := c.idempotency.Lookup(ctx, c.db, idemKey.IdempotencyKey, idemKey.RestaurantID)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup existing idempotency mapping after race: %w", lookupErr)
			}
			if !found {
				return nil, fmt.Errorf("idempotency key insert conflicted but no existing mapping found")
			}
			return &CreateResult{AuthRequestID: existingID, Existing: true}, nil
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record created tx: %w", err)
	}
	return &CreateResult{AuthRequestID: authRequestID, Event: ev}, nil
}

// RecordStarted implements spec.md §4.7 step 3/7: append AuthAttemptStarted
// and move the read model to PROCESSING (first attempt) or keep it there
// while bumping the event bookkeeping columns (retry attempt).
func (c *Coordinator) RecordStarted(ctx context.Context, authRequestID string, attemptNumber int, workerID string) (*domain.Event, error) {
	data := domain.AuthAttemptStartedData{AttemptNumber: attemptNumber, WorkerID: workerID}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt started payload: %w", err)
	}

	return c.withTx(ctx, authRequestID, domain.EventAuthAttemptStarted, payload, func(tx *sql.Tx, ev domain.Event) error {
		if attemptNumber <= 1 {
			return c.readmodels.UpdateToProcessing(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID)
		}
		return c.readmodels.UpdateRetryAttempt(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID)
	})
}

// RecordAuthorized implements the successful branch of spec.md §4.7 step 6:
// append AuthResponseReceived(AUTHORIZED) and move the row to AUTHORIZED.
func (c *Coordinator) RecordAuthorized(ctx context.Context, authRequestID string, outcome domain.AuthorizedOutcome) (*domain.Event, error) {
	data := domain.AuthResponseReceivedData{
		Outcome:               domain.OutcomeAuthorized,
		ProcessorName:         outcome.ProcessorName,
		ProcessorAuthID:       outcome.ProcessorAuthID,
		AuthorizedAmountCents: outcome.AuthorizedAmountCents,
		AuthorizationCode:     outcome.AuthorizationCode,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal authorized payload: %w", err)
	}
	return c.withTx(ctx, authRequestID, domain.EventAuthResponseReceived, payload, func(tx *sql.Tx, ev domain.Event) error {
		return c.readmodels.UpdateToAuthorized(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID, outcome)
	})
}

// RecordDenied implements the decline branch of spec.md §4.7 step 6: a
// decline is a business outcome, not a failure.
func (c *Coordinator) RecordDenied(ctx context.Context, authRequestID string, denial domain.DeniedOutcome) (*domain.Event, error) {
	data := domain.AuthResponseReceivedData{
		Outcome:       domain.OutcomeDenied,
		ProcessorName: denial.ProcessorName,
		DenialCode:    denial.DenialCode,
		DenialReason:  denial.DenialReason,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal denied payload: %w", err)
	}
	return c.withTx(ctx, authRequestID, domain.EventAuthResponseReceived, payload, func(tx *sql.Tx, ev domain.Event) error {
		return c.readmodels.UpdateToDenied(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID, denial)
	})
}

// RecordFailedRetryable implements spec.md §4.7 step 7's retryable path:
// append AuthAttemptFailed and leave the row in PROCESSING (per spec.md §9,
// kept as specified: the next queue redelivery will retry).
func (c *Coordinator) RecordFailedRetryable(ctx context.Context, authRequestID string, code, message string, retryCount int) (*domain.Event, error) {
	data := domain.AuthAttemptFailedData{IsRetryable: true, Code: code, Message: message, RetryCount: retryCount}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal failed-retryable payload: %w", err)
	}
	return c.withTx(ctx, authRequestID, domain.EventAuthAttemptFailed, payload, func(tx *sql.Tx, ev domain.Event) error {
		return c.readmodels.UpdateRetryAttempt(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID)
	})
}

// RecordFailedTerminal implements spec.md §4.7 step 7's terminal path:
// append AuthAttemptFailed and move the row to FAILED.
func (c *Coordinator) RecordFailedTerminal(ctx context.Context, authRequestID string, code, message string, retryCount int) (*domain.Event, error) {
	data := domain.AuthAttemptFailedData{IsRetryable: false, Code: code, Message: message, RetryCount: retryCount}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal failed-terminal payload: %w", err)
	}
	return c.withTx(ctx, authRequestID, domain.EventAuthAttemptFailed, payload, func(tx *sql.Tx, ev domain.Event) error {
		return c.readmodels.UpdateToFailed(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID)
	})
}

// RecordExpired implements spec.md §4.7's expiry path: append
// AuthRequestExpired and move {PENDING,PROCESSING} -> EXPIRED.
func (c *Coordinator) RecordExpired(ctx context.Context, authRequestID, reason string) (*domain.Event, error) {
	data := domain.AuthRequestExpiredData{Reason: reason}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal expired payload: %w", err)
	}
	return c.withTx(ctx, authRequestID, domain.EventAuthRequestExpired, payload, func(tx *sql.Tx, ev domain.Event) error {
		return c.readmodels.UpdateToExpired(ctx, tx, authRequestID, ev.SequenceNumber, ev.EventID)
	})
}

// withTx is the shared append-then-mutate-read-model skeleton used by every
// RecordXxx method above: allocate the next sequence, append the event, run
// the caller's read-model mutation, commit. Any failure rolls the whole
// transaction back, satisfying the atomicity invariant in spec.md §8.
func (c *Coordinator) withTx(ctx context.Context, authRequestID string, eventType domain.EventType, payload []byte, mutate func(tx *sql.Tx, ev domain.Event) error) (*domain.Event, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s tx: %w", eventType, err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := c.events.NextSequence(ctx, tx, authRequestID)
	if err != nil {
		return nil, err
	}
	ev := domain.Event{
		EventID:        eventstore.NewEventID(),
		AggregateID:    authRequestID,
		AggregateType:  domain.AggregateTypeAuthRequest,
		EventType:      eventType,
		EventData:      payload,
		SequenceNumber: seq,
	}
	if err := c.events.Append(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := mutate(tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s tx: %w", eventType, err)
	}
	return &ev, nil
}

// HasVoidEvent exposes the event store's void check for the worker's
// pre-dispatch race guard (spec.md §4.7 step 2).
func (c *Coordinator) HasVoidEvent(ctx context.Context, authRequestID string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("begin void-check tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return c.events.HasVoidEvent(ctx, tx, authRequestID)
}

// Get returns the current read-model row for status queries (spec.md §4.6's
// GET /v1/authorize/{id}/status).
func (c *Coordinator) Get(ctx context.Context, authRequestID string) (*domain.AuthRequestState, error) {
	return c.readmodels.Get(ctx, c.db, authRequestID)
}
