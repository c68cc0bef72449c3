package session

import (
	"context"
	"sync"
)

// MemoryBackend keeps tokens in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	tokens map[string]SessionToken
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tokens: make(map[string]SessionToken)}
}

func (m *MemoryBackend) Load(_ context.Context, profile string) (*SessionToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[profile]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (m *MemoryBackend) Save(_ context.Context, profile string, tok SessionToken) error {
	m.mu.Lock()
	m.tokens[profile] = tok
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, profile string) error {
	m.mu.Lock()
	delete(m.tokens, profile)
	m.mu.Unlock()
	return nil
}
