// Package data provides data access layer implementations.
package data

import (
	"context"
	"time"

	"ToolSync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a new Redis client with connection pool configuration.
// It returns the client and a cleanup function.
// Connection failure does not prevent application startup: the consumer loop and
// the resilient store are built to ride out an unreachable Redis, so a failed
// ping is logged and the client is returned anyway.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	// Validate configuration
	if c == nil || c.Redis == nil {
		helper.Warn("Redis configuration is nil, skipping Redis initialization")
		return nil, func() {}, nil
	}

	addr := c.Redis.Addr
	if addr == "" {
		helper.Warn("Redis address is empty, skipping Redis initialization")
		return nil, func() {}, nil
	}

	// Create Redis client with connection pool settings
	// - MaxIdleConns = 10 (minimum idle connections)
	// - PoolSize = 100 (maximum active connections)
	// - DialTimeout = 3s (connection timeout)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "", // No password for local development
		DB:           0,  // Use default DB
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   -1, // Retry policy lives in the resilient store; client retries would stack on top of it
		DialTimeout:  3 * time.Second,
		ReadTimeout:  c.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Redis.WriteTimeout.AsDuration(),
		// ConnMaxLifetime is not directly supported in go-redis v9
		// Use ConnMaxIdleTime instead for idle connection cleanup
		ConnMaxIdleTime: 5 * time.Minute,
	})

	cleanup := func() {
		helper.Info("Closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("Failed to close Redis client: %v", err)
		}
	}

	// Health check: verify connection with ping
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("Failed to connect to Redis at %s: %v (circuit breaker will gate access until it recovers)", addr, err)
		return rdb, cleanup, nil
	}

	helper.Infof("Successfully connected to Redis at %s", addr)

	return rdb, cleanup, nil
}
