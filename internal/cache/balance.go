// Package cache provides a redis-backed read-through cache for token balance
// queries, keeping hot wallets off the RPC endpoint.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/decentracode/attendme/pkg/logger"
)

const balanceKeyPrefix = "attendme:balance:"

// BalanceCache caches formatted token balances with a short TTL.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewBalanceCache connects to redis. TTL defaults to 15 seconds; balances
// change on-chain so staleness must stay short.
func NewBalanceCache(addr string, ttl time.Duration, log *logger.Logger) *BalanceCache {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	if ttl == 0 {
		ttl = 15 * time.Second
	}
	return &BalanceCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		log:    log,
	}
}

// Healthy reports whether redis answers a ping.
func (c *BalanceCache) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// GetBalance returns a cached balance when present.
func (c *BalanceCache) GetBalance(ctx context.Context, address string) (string, bool) {
	value, err := c.client.Get(ctx, balanceKeyPrefix+address).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Debug("balance cache read failed")
		}
		return "", false
	}
	return value, true
}

// SetBalance stores a balance. Cache failures are logged, never surfaced.
func (c *BalanceCache) SetBalance(ctx context.Context, address, balance string) {
	if err := c.client.Set(ctx, balanceKeyPrefix+address, balance, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("balance cache write failed")
	}
}

// Close releases the redis connection.
func (c *BalanceCache) Close() error {
	return c.client.Close()
}
