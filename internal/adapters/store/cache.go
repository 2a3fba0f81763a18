package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// RedisCache holds the three snapshot fields under per-field keys with a
// fixed expiry refreshed on every write. It is purely a latency layer; a
// cold or stale cache is repaired by the durable fallback.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("module", "store.cache").Str("addr", addr).Msg("connected to redis")
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

func (c *RedisCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Client exposes the underlying connection so the event bus can share it.
func (c *RedisCache) Client() *redis.Client { return c.rdb }

func codeKey(id domain.RoomID) string   { return "room:code:" + string(id) }
func inputKey(id domain.RoomID) string  { return "room:input:" + string(id) }
func outputKey(id domain.RoomID) string { return "room:output:" + string(id) }

func (c *RedisCache) LoadSnapshot(ctx context.Context, id domain.RoomID) (core.CachedSnapshot, error) {
	var snap core.CachedSnapshot

	pipe := c.rdb.Pipeline()
	codeCmd := pipe.Get(ctx, codeKey(id))
	inputCmd := pipe.Get(ctx, inputKey(id))
	outputCmd := pipe.Get(ctx, outputKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("cache read %s: %w", id, err)
	}

	if v, err := codeCmd.Result(); err == nil {
		snap.Code, snap.HasCode = v, true
	}
	if v, err := inputCmd.Result(); err == nil {
		snap.Input, snap.HasInput = v, true
	}
	if v, err := outputCmd.Result(); err == nil {
		snap.Output, snap.HasOutput = v, true
	}
	return snap, nil
}

func (c *RedisCache) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, codeKey(snap.RoomID), snap.Code, c.ttl)
	pipe.Set(ctx, inputKey(snap.RoomID), snap.Input, c.ttl)
	pipe.Set(ctx, outputKey(snap.RoomID), snap.Output, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache write %s: %w", snap.RoomID, err)
	}
	return nil
}
