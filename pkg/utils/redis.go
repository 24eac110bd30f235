package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the redis client. Redis is optional for this service;
// callers skip OpenRedis when no address is configured.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	// Read/write timeouts sit on the API key hot path: keep them short.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// OpenRedis builds a client and checks it with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns 1 when a slot was taken.
var inflightAcquire = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var inflightRelease = redis.NewScript(`
if redis.call('DECR', KEYS[1]) <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// InflightCap bounds concurrent work per key across every instance sharing
// the redis. Counters expire after ttl so a crashed holder cannot leak a slot
// forever.
type InflightCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewInflightCap(rdb *redis.Client, limit int, ttl time.Duration) (*InflightCap, error) {
	switch {
	case rdb == nil:
		return nil, errors.New("redis client is nil")
	case limit <= 0:
		return nil, errors.New("limit must be > 0")
	case ttl <= 0:
		return nil, errors.New("ttl must be > 0")
	}
	return &InflightCap{rdb: rdb, limit: limit, ttl: ttl}, nil
}

// Acquire takes a slot for key. ok is false at the limit. Release must be
// called exactly once for every successful Acquire.
func (c *InflightCap) Acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	n, err := inflightAcquire.Run(ctx, c.rdb, []string{key}, c.limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *InflightCap) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	return inflightRelease.Run(ctx, c.rdb, []string{key}).Err()
}
