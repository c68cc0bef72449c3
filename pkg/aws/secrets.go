package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DefaultSecretTTL bounds how long a rotated secret can be served from cache.
const DefaultSecretTTL = 15 * time.Minute

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// SecretsClient reads Secrets Manager values and caches them for ttl.
type SecretsClient struct {
	client secretsAPI
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg), DefaultSecretTTL)
}

func newSecretsClient(api secretsAPI, ttl time.Duration) *SecretsClient {
	return &SecretsClient{
		client: api,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSecret),
	}
}

// GetSecret returns the raw secret string.
func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if c, ok := s.cache[name]; ok && s.now().Sub(c.fetchedAt) < s.ttl {
		s.mu.Unlock()
		return c.value, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: *out.SecretString, fetchedAt: s.now()}
	s.mu.Unlock()
	return *out.SecretString, nil
}

// GetSecretField reads one key of a JSON key/value secret. An empty field returns the raw
// string.
func (s *SecretsClient) GetSecretField(ctx context.Context, name, field string) (string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil || field == "" {
		return raw, err
	}
	var kv map[string]string
	if err := json.Unmarshal([]byte(raw), &kv); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	v, ok := kv[field]
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s has no field %q", name, field)
	}
	return v, nil
}
