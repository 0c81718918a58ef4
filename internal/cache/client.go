// Package cache is the hot-state store client. All mutable player and entity
// state lives here while its owner is online; the relational store only sees
// batched flushes. Multi-field updates that must be observed atomically go
// through the Lua scripts in scripts.go.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by script wrappers. Managers translate these into
// game-rule error codes; they never reach the wire directly.
var (
	ErrNotFound      = errors.New("cache: record not found")
	ErrConflict      = errors.New("cache: compare-and-update conflict")
	ErrInventoryFull = errors.New("cache: inventory full")
	ErrNoSpace       = errors.New("cache: no free slot for displaced item")
	ErrDead          = errors.New("cache: target already dead")
)

type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Client wraps the Redis connection and the loaded atomic scripts.
type Client struct {
	rdb *redis.Client
	log *zap.Logger
}

// New connects and pings the cache. The returned client is safe for
// concurrent use by all sessions and the game loop.
func New(ctx context.Context, opts Options, log *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping cache %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, log: log}, nil
}

// NewFromRedis wraps an existing connection. Used by tests running against
// an in-process server.
func NewFromRedis(rdb *redis.Client, log *zap.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

func (c *Client) Close() error { return c.rdb.Close() }

// ==================== hashes ====================

func (c *Client) HSet(ctx context.Context, key string, pairs ...any) error {
	return c.rdb.HSet(ctx, key, pairs...).Err()
}

// HGet returns (value, true, nil) when the field exists and ("", false, nil)
// when it does not. Errors are transport failures only.
func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	return c.rdb.HDel(ctx, key, fields...).Err()
}

func (c *Client) HLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.HLen(ctx, key).Result()
}

// ==================== sets ====================

func (c *Client) SAdd(ctx context.Context, key string, members ...any) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...any) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return c.rdb.SIsMember(ctx, key, member).Result()
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}

// ==================== sorted sets ====================

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

func (c *Client) ZRem(ctx context.Context, key string, members ...any) error {
	return c.rdb.ZRem(ctx, key, members...).Err()
}

// ==================== keys ====================

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *Client) Persist(ctx context.Context, key string) error {
	return c.rdb.Persist(ctx, key).Err()
}

// Incr drives the envelope/ground-item id sequences.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// SetMax raises a counter to at least value. Seeds id sequences at boot so
// restarted servers never reuse persisted ids.
func (c *Client) SetMax(ctx context.Context, key string, value int64) error {
	cur, err := c.rdb.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if cur >= value {
		return nil
	}
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// Pipeline groups independent reads into one round trip. Used by the AI tick
// and the state-update builder to fetch many entity hashes.
func (c *Client) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}
