package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrRedisNotConfigured = errors.New("REDIS_ADDRESS not set")

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisOptionsFromEnv reads REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB and REDIS_POOL_SIZE.
// A missing address is reported as ErrRedisNotConfigured; callers decide whether
// to default to localhost or to fail.
func RedisOptionsFromEnv() (RedisOptions, error) {
	opts := RedisOptions{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intFromEnv("REDIS_DB", 0),
		PoolSize: intFromEnv("REDIS_POOL_SIZE", 100),
	}
	if opts.Addr == "" {
		return opts, ErrRedisNotConfigured
	}
	return opts, nil
}

// NewRedisClient connects and pings, retrying with capped exponential backoff.
// maxAttempts <= 0 retries until ctx is done.
func NewRedisClient(ctx context.Context, opts RedisOptions, maxAttempts int) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, ErrRedisNotConfigured
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	var attempt int
	for {
		attempt++
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, opts.Addr)
			return rdb, nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s after %d attempts: %w", opts.Addr, attempt, err)
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, opts.Addr, err, sleep)
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func NewRedisLock(rdb *redis.Client) *redislock.Client {
	if rdb == nil {
		return nil
	}
	return redislock.New(rdb)
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
