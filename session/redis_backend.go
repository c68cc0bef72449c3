package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores tokens as JSON under session:profile:<id>.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) key(profile string) string {
	return fmt.Sprintf("session:profile:%s", profile)
}

func (r *RedisBackend) Load(ctx context.Context, profile string) (*SessionToken, error) {
	data, err := r.client.Get(ctx, r.key(profile)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var tok SessionToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &tok, nil
}

// Save also sets a key TTL so abandoned profiles do not accumulate; read-time expiry still applies.
func (r *RedisBackend) Save(ctx context.Context, profile string, tok SessionToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if err := r.client.Set(ctx, r.key(profile), data, TTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, profile string) error {
	if err := r.client.Del(ctx, r.key(profile)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
