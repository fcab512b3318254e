package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a pooled client and checks connectivity.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, opts.Addr, err)
	}
	return client, nil
}

// RedisStore is a Store shared by every gateway instance pointed at the same
// redis. Claims use SET NX so only one instance wins a key.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. Keys are stored under prefix.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "paygate:ledger:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Begin implements Store.
func (r *RedisStore) Begin(ctx context.Context, key string) (*Entry, error) {
	now := time.Now().UTC()
	data, err := json.Marshal(Entry{Key: key, State: StateProcessing, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	// The existing key can expire between SETNX and GET; one more round settles it.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := r.client.SetNX(ctx, r.prefix+key, data, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: setnx: %v", ErrStoreUnavailable, err)
		}
		if claimed {
			return nil, nil
		}

		raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
		}

		var existing Entry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry %s: %w", key, err)
		}
		return &existing, nil
	}
	return nil, fmt.Errorf("%w: key %s kept expiring", ErrStoreUnavailable, key)
}

// Complete implements Store.
func (r *RedisStore) Complete(ctx context.Context, key string, statusCode int, body []byte) error {
	now := time.Now().UTC()
	entry := Entry{
		Key:        key,
		State:      StateComplete,
		StatusCode: statusCode,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if raw, err := r.client.Get(ctx, r.prefix+key).Bytes(); err == nil {
		var prev Entry
		if json.Unmarshal(raw, &prev) == nil && !prev.CreatedAt.IsZero() {
			entry.CreatedAt = prev.CreatedAt
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Release implements Store. Completed entries are kept.
func (r *RedisStore) Release(ctx context.Context, key string) error {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}
	var existing Entry
	if err := json.Unmarshal(raw, &existing); err == nil && existing.State == StateComplete {
		return nil
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrStoreUnavailable, err)
	}
	return nil
}
