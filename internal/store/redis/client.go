// Package redis implements the shared key/value store backends used by the
// tick cache and the PnL snapshot store: one Redis hash per key, merged
// field-by-field so partial updates never erase sibling fields.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ClientConfig configures the shared Redis connection.
type ClientConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(cfg ClientConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s (db=%d)", cfg.Addr, cfg.DB)
	return client, nil
}
