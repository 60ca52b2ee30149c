package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisRecordStore keeps records as plain string keys in redis.
type RedisRecordStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig configures a RedisRecordStore.
type RedisStoreConfig struct {
	Addr     string
	Password string
	Prefix   string
}

// NewRedisRecordStore connects lazily to the redis server at cfg.Addr.
func NewRedisRecordStore(cfg RedisStoreConfig) (*RedisRecordStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	return NewRedisRecordStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisRecordStoreFromClient wraps an existing client.
func NewRedisRecordStoreFromClient(client *redis.Client, prefix string) *RedisRecordStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "booknest"
	}
	return &RedisRecordStore{client: client, prefix: prefix}
}

// PutRecord overwrites the record stored under key.
func (r *RedisRecordStore) PutRecord(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

// GetRecord reads the record stored under key.
func (r *RedisRecordStore) GetRecord(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	return data, nil
}

// Close closes the redis client.
func (r *RedisRecordStore) Close() error { return r.client.Close() }

func (r *RedisRecordStore) key(name string) string {
	return r.prefix + ":record:" + name
}
