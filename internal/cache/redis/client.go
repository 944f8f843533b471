// Package redis holds the shared identity snapshot mirror and the signal
// bus that carries relayed notification events and player messages.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName       = "walletlink"
	startupPingLimit = 5 * time.Second
)

// ClientConfig describes the redis instance shared by walletlink replicas.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (c ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       c.Addr,
		Password:   c.Password,
		DB:         c.DB,
		PoolSize:   c.PoolSize,
		MaxRetries: c.MaxRetries,
		ClientName: clientName,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client owns the go-redis connection pool used by IdentityCache and
// SignalBus.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the server answers within a few seconds.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options())}

	pingCtx, cancel := context.WithTimeout(ctx, startupPingLimit)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// Close releases the pool. It is a no-op on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Underlying returns the go-redis client for IdentityCache and SignalBus.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
