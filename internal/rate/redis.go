package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisCounter: ventana deslizante sobre un sorted set por clave
// (ZREMRANGEBYSCORE + ZADD + ZCARD en pipeline transaccional).
type RedisCounter struct {
	client *rdb.Client
	prefix string
	seq    atomic.Uint64 // desambigua miembros con el mismo nanosegundo
}

func NewRedisCounter(client *rdb.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(k string) string { return c.prefix + ":" + k }

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), c.seq.Add(1))
	k := c.key(key)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(now.Add(-window).UnixNano(), 10))
	pipe.ZAdd(ctx, k, rdb.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (c *RedisCounter) Peek(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	min := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	n, err := c.client.ZCount(ctx, c.key(key), min, "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}
