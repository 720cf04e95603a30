// Copyright 2025 James Ross
//
// Package redisclient constructs the single go-redis client this core uses,
// grounded on the teacher's redisclient.New -- ported from go-redis/v8 to
// go-redis/v9, since this domain no longer runs Redis as its primary queue
// (that is now the FIFO transport behind internal/transport), only as the
// idempotency read-through cache (internal/idempotency.RedisCache).
package redisclient

import (
	"runtime"

	"github.com/redis/go-redis/v9"

	"github.com/ssh-randy/payments-core/internal/config"
)

// New returns a configured go-redis client with pooling sized to CPU count,
// matching the teacher's default when cfg doesn't specify a pool size.
func New(cfg *config.Config) *redis.Client {
	poolSize := 10 * runtime.NumCPU()
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: poolSize,
	})
}
