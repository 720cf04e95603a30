// Copyright 2025 James Ross
package domain

import "time"

// AggregateType is fixed for this core; carried as a column rather than a
// constant-folded literal so the event table can host other aggregate types
// without a schema change.
const AggregateTypeAuthRequest = "auth_request"

// EventType enumerates the append-only event types for an AuthRequestAggregate.
type EventType string

const (
	EventAuthRequestCreated  EventType = "AuthRequestCreated"
	EventAuthAttemptStarted  EventType = "AuthAttemptStarted"
	EventAuthResponseReceived EventType = "AuthResponseReceived"
	EventAuthAttemptFailed   EventType = "AuthAttemptFailed"
	EventAuthRequestExpired  EventType = "AuthRequestExpired"
	EventAuthVoidRequested   EventType = "AuthVoidRequested"
)

// ResponseOutcome is the sub-outcome carried by an AuthResponseReceived event.
type ResponseOutcome string

const (
	OutcomeAuthorized ResponseOutcome = "AUTHORIZED"
	OutcomeDenied     ResponseOutcome = "DENIED"
)

// Event is one immutable, append-only row in the aggregate's event stream.
type Event struct {
	EventID        string
	AggregateID    string
	AggregateType  string
	EventType      EventType
	EventData      []byte
	Metadata       map[string]string
	SequenceNumber int
	CreatedAt      time.Time
	// GlobalSeq is the monotonic global ordering key (DB serial), assigned
	// by the store on insert and not meaningful to callers beyond ordering.
	GlobalSeq int64
}

// AuthRequestCreatedData is the event_data payload for EventAuthRequestCreated.
type AuthRequestCreatedData struct {
	RestaurantID    string            `json:"restaurant_id"`
	PaymentToken    string            `json:"payment_token"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `json:"currency"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// AuthAttemptStartedData is the event_data payload for EventAuthAttemptStarted.
type AuthAttemptStartedData struct {
	AttemptNumber int    `json:"attempt_number"`
	WorkerID      string `json:"worker_id"`
}

// AuthResponseReceivedData is the event_data payload for EventAuthResponseReceived.
type AuthResponseReceivedData struct {
	Outcome              ResponseOutcome `json:"outcome"`
	ProcessorName        string          `json:"processor_name"`
	ProcessorAuthID      string          `json:"processor_auth_id,omitempty"`
	AuthorizedAmountCents int64          `json:"authorized_amount_cents,omitempty"`
	AuthorizationCode    string          `json:"authorization_code,omitempty"`
	DenialCode           string          `json:"denial_code,omitempty"`
	DenialReason         string          `json:"denial_reason,omitempty"`
}

// AuthAttemptFailedData is the event_data payload for EventAuthAttemptFailed.
type AuthAttemptFailedData struct {
	IsRetryable bool   `json:"is_retryable"`
	Code        string `json:"code"`
	Message     string `json:"message,omitempty"`
	RetryCount  int    `json:"retry_count"`
}

// AuthRequestExpiredData is the event_data payload for EventAuthRequestExpired.
type AuthRequestExpiredData struct {
	Reason string `json:"reason"`
}

// AuthVoidRequestedData is the event_data payload for EventAuthVoidRequested.
type AuthVoidRequestedData struct {
	RequestedBy string `json:"requested_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
