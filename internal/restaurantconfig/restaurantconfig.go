// Copyright 2025 James Ross
//
// Package restaurantconfig reads RestaurantPaymentConfig rows. The table is
// read-only to the core and mutated out of band (spec.md §3); this package
// therefore exposes only a Get, optionally cached with a short TTL per
// spec.md §5 ("caches... MUST be invalidated or TTL'd").
package restaurantconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/domain"
)

// Store reads restaurant_payment_configs, with an optional in-memory TTL
// cache to avoid a database round trip on every worker invocation.
type Store struct {
	db       *sql.DB
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cfg       domain.RestaurantPaymentConfig
	expiresAt time.Time
}

func New(db *sql.DB, cacheTTL time.Duration) *Store {
	return &Store{db: db, cacheTTL: cacheTTL, cache: make(map[string]cacheEntry)}
}

// Get returns the config for restaurantID. Returns apperrors.ErrNotFound
// (mapped by the worker to CONFIG_NOT_FOUND) when no active config exists.
func (s *Store) Get(ctx context.Context, restaurantID string) (*domain.RestaurantPaymentConfig, error) {
	if s.cacheTTL > 0 {
		if cfg, ok := s.fromCache(restaurantID); ok {
			return &cfg, nil
		}
	}

	var cfg domain.RestaurantPaymentConfig
	var configJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT restaurant_id, processor_name, processor_config, is_active
		FROM restaurant_payment_configs WHERE restaurant_id = $1 AND is_active = true
	`, restaurantID).Scan(&cfg.RestaurantID, &cfg.ProcessorName, &configJSON, &cfg.IsActive)
	if err == sql.ErrNoRows {
		return nil, &apperrors.ErrNotFound{Resource: "restaurant_payment_config", ID: restaurantID}
	}
	if err != nil {
		return nil, fmt.Errorf("get restaurant config: %w", err)
	}
	if len(configJSON) > 0 {
		_ = json.Unmarshal(configJSON, &cfg.ProcessorConfig)
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[restaurantID] = cacheEntry{cfg: cfg, expiresAt: time.Now().Add(s.cacheTTL)}
		s.mu.Unlock()
	}
	return &cfg, nil
}

func (s *Store) fromCache(restaurantID string) (domain.RestaurantPaymentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[restaurantID]
	if !ok || time.Now().After(entry.expiresAt) {
		return domain.RestaurantPaymentConfig{}, false
	}
	return entry.cfg, true
}
