// Package redis connects to the Redis server that backs the optional
// Redis device store and the API rate limiter.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultPingTimeout = 3 * time.Second

	// DefaultKeyPrefix namespaces every key the service writes.
	DefaultKeyPrefix = "homelink"
)

// Client is a connected Redis client with the configured key prefix.
type Client struct {
	*goredis.Client
	prefix string
}

// Connect creates a client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrNotConfigured
	}

	dialTimeout := time.Duration(cfg.DialTimeout) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{Client: rdb, prefix: prefix}, nil
}

// KeyPrefix returns the namespace for this service's keys.
func (c *Client) KeyPrefix() string {
	return c.prefix
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
