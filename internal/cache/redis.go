package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBacking implements Backing on a single Redis node. Entries are stored
// under a namespace prefix with Redis-side TTL, so expiry never needs a
// sweep on this layer.
type RedisBacking struct {
	client    *goredis.Client
	namespace string
}

// RedisConfig holds configuration for the Redis backing.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// NewRedisBacking creates a Redis backing and verifies connectivity.
func NewRedisBacking(cfg RedisConfig) (*RedisBacking, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBacking{
		client:    client,
		namespace: cfg.Namespace,
	}, nil
}

func (b *RedisBacking) prefixKey(key string) string {
	if b.namespace == "" {
		return key
	}
	return b.namespace + ":" + key
}

// Fetch retrieves a serialized entry. Returns nil, nil on miss.
func (b *RedisBacking) Fetch(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Store persists a serialized entry with TTL.
func (b *RedisBacking) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.prefixKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes keys from the backing.
func (b *RedisBacking) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = b.prefixKey(key)
	}
	if err := b.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Flush removes every entry under this backing's namespace using SCAN, so it
// is safe on a shared Redis instance.
func (b *RedisBacking) Flush(ctx context.Context) error {
	pattern := b.prefixKey("*")
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks Redis connectivity.
func (b *RedisBacking) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (b *RedisBacking) Close() error {
	return b.client.Close()
}
