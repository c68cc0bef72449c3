package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yashrajoria/storefront-core/models"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache persists the last known snapshot so it survives a restart.
type Cache interface {
	Get(ctx context.Context) (*models.CartSnapshot, error)
	Set(ctx context.Context, snap models.CartSnapshot) error
	Delete(ctx context.Context) error
}

func NewRedisCache(client *redis.Client, profile string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: fmt.Sprintf("cart:profile:%s", profile), ttl: ttl}
}

type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (r *RedisCache) Get(ctx context.Context) (*models.CartSnapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap models.CartSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &snap, nil
}

func (r *RedisCache) Set(ctx context.Context, snap models.CartSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
