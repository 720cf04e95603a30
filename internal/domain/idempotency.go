// Copyright 2025 James Ross
package domain

import "time"

// IdempotencyKey maps a client-submitted (idempotency_key, restaurant_id)
// pair to the auth_request_id it produced. Entries past ExpiresAt are
// harvestable (spec.md §3).
type IdempotencyKey struct {
	IdempotencyKey string
	RestaurantID   string
	AuthRequestID  string
	ExpiresAt      time.Time
}

// RestaurantPaymentConfig is read-only to the core; mutated out of band.
type RestaurantPaymentConfig struct {
	RestaurantID     string
	ProcessorName    string
	ProcessorConfig  map[string]string
	IsActive         bool
}
