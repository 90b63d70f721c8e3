package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/dropgate/dropgate/config"
)

// RedisKV implements KV over a single Redis instance.
type RedisKV struct {
	rc *redis.Client
}

// NewRedisKV dials Redis from app config. The ping result is returned so the
// caller can decide whether a cold cache is fatal; the client works either
// way once Redis comes back.
func NewRedisKV(c cfgpkg.AppConfig) (*RedisKV, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		return &RedisKV{rc: rc}, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{rc: rc}, nil
}

func (r *RedisKV) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rc.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *RedisKV) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.rc.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// TakeBytes uses GETDEL so the read and removal are one server-side
// operation; concurrent takers cannot both observe the value.
func (r *RedisKV) TakeBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rc.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return b, true, nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rc.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
