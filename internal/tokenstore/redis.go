package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	jsonx "cadbridge/internal/shared/json"
)

// DefaultRedisKey holds the record when no key is configured.
const DefaultRedisKey = "cadbridge:token"

// Redis shares the record between processes through one Redis key.
type Redis struct {
	snapshot
	client *redis.Client
	key    string
}

// NewRedis loads the current record from key.
func NewRedis(ctx context.Context, client *redis.Client, key string) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	store := &Redis{client: client, key: key}
	if err := store.Refresh(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Refresh reloads the record written by another process.
func (r *Redis) Refresh(ctx context.Context) error {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.clear()
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var rec Record
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode token %s: %w", r.key, err)
	}
	if rec.Token.IsZero() {
		r.clear()
		return nil
	}
	r.set(rec)
	return nil
}

func (r *Redis) Save(ctx context.Context, rec Record) error {
	rec, err := r.stamp(rec)
	if err != nil {
		return err
	}
	payload, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := r.client.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	r.set(rec)
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	r.clear()
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
