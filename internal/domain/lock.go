// Copyright 2025 James Ross
package domain

import "time"

// ProcessingLock is the CAS-style distributed lock row keyed by aggregate.
// At most one row exists per AuthRequestID; an expired row is semantically
// equivalent to "no lock" (spec.md §4.4).
type ProcessingLock struct {
	AuthRequestID string
	WorkerID      string
	LockedAt      time.Time
	ExpiresAt     time.Time
}
