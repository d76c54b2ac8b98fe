package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on go-redis. Index expiry uses EXPIRE NX/GT and
// needs Redis 7 or later.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", utils.ErrCacheUnavailable, key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", utils.ErrCacheUnavailable, key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: del %d keys: %v", utils.ErrCacheUnavailable, len(keys), err)
	}
	return n, nil
}

func (c *RedisCache) SetAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, member)
		// NX covers a freshly created set, GT extends an existing one.
		pipe.ExpireNX(ctx, key, ttl)
		pipe.ExpireGT(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sadd %s: %v", utils.ErrCacheUnavailable, key, err)
	}
	return nil
}

func (c *RedisCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %v", utils.ErrCacheUnavailable, key, err)
	}
	return members, nil
}
