package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"protokoll/internal/platform/config"
)

// Client is the shared redis connection handle. It carries the health probe
// the HTTP router exposes on /healthz.
type Client struct {
	*redis.Client
}

// New dials redis from the configured URL and verifies the connection with a
// ping. An empty URL means redis is not configured and the caller falls back
// to the in-memory store; New signals that by returning a nil client.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether the connection still answers a ping.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
