// Copyright 2025 James Ross
package domain

import "time"

// Status is one node in the AuthRequestState machine (spec.md §4.7).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusDenied     Status = "DENIED"
	StatusFailed     Status = "FAILED"
	StatusVoided     Status = "VOIDED"
	StatusExpired    Status = "EXPIRED"
)

// IsTerminal reports whether status allows no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAuthorized, StatusDenied, StatusFailed, StatusVoided, StatusExpired:
		return true
	default:
		return false
	}
}

// terminalStatuses lists every terminal status for membership checks.
var terminalStatuses = map[Status]bool{
	StatusAuthorized: true,
	StatusDenied:     true,
	StatusFailed:     true,
	StatusVoided:     true,
	StatusExpired:    true,
}

// validTransitions enumerates the edges of the state machine in spec.md §4.7.
// Keys are the source status; values are the set of statuses reachable in
// one coordinator call.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusExpired:     true,
	},
	StatusProcessing: {
		StatusProcessing: true, // retryable failure / retry attempt started again
		StatusAuthorized: true,
		StatusDenied:     true,
		StatusFailed:     true,
		StatusExpired:    true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
// Terminal states never transition (including to themselves).
func CanTransition(from, to Status) bool {
	if terminalStatuses[from] {
		return false
	}
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// AuthRequestState is the denormalized per-request read model row.
type AuthRequestState struct {
	AuthRequestID string
	RestaurantID  string
	PaymentToken  string

	AmountCents int64
	Currency    string
	Metadata    map[string]string

	Status Status

	ProcessorName         *string
	ProcessorAuthID       *string
	AuthorizedAmountCents *int64
	AuthorizationCode     *string
	DenialCode            *string
	DenialReason          *string

	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	LastEventSequence int
	LastEventID       string
}

// AuthorizedOutcome is the payload needed to move a row to AUTHORIZED.
type AuthorizedOutcome struct {
	ProcessorName         string
	ProcessorAuthID       string
	AuthorizedAmountCents int64
	AuthorizationCode     string
}

// DeniedOutcome is the payload needed to move a row to DENIED.
type DeniedOutcome struct {
	ProcessorName string
	DenialCode    string
	DenialReason  string
}
