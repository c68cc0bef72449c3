// Package session persists the anonymous session credential that binds a client profile to a
// backend cart session. Expiry is enforced when the token is read; nothing runs in the background.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/storefront-core/common/logger"
)

// TTL is the maximum age of a session token.
const TTL = 7 * 24 * time.Hour

// ErrCorrupt is returned by backends when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record is unreadable")

// SessionToken is the persisted credential.
type SessionToken struct {
	Value     string    `json:"value" dynamodbav:"value"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Expired reports whether the token has reached TTL at now.
func (t SessionToken) Expired(now time.Time) bool {
	return !now.Before(t.CreatedAt.Add(TTL))
}

// Backend stores one token per profile. Load returns (nil, nil) when nothing is stored.
type Backend interface {
	Load(ctx context.Context, profile string) (*SessionToken, error)
	Save(ctx context.Context, profile string, tok SessionToken) error
	Delete(ctx context.Context, profile string) error
}

// Store is the session token store for one client profile.
type Store struct {
	backend  Backend
	profile  string
	now      func() time.Time
	logger   *zap.Logger
	onExpire func(ctx context.Context)
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithExpiryHook is called each time an expired token is discarded.
func WithExpiryHook(fn func(ctx context.Context)) Option {
	return func(s *Store) { s.onExpire = fn }
}

func NewStore(backend Backend, profile string, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		profile: profile,
		now:     time.Now,
		logger:  logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current token. Expired or unreadable tokens are deleted and reported as absent.
func (s *Store) Get(ctx context.Context) (string, bool) {
	tok, err := s.backend.Load(ctx, s.profile)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.logger.Warn("Discarding unreadable session token", zap.String("profile", s.profile))
			s.discard(ctx)
		} else {
			s.logger.Warn("Session token lookup failed", zap.String("profile", s.profile), zap.Error(err))
		}
		return "", false
	}
	if tok == nil || tok.Value == "" {
		return "", false
	}
	if tok.Expired(s.now()) {
		s.logger.Info("Session token expired",
			zap.String("profile", s.profile),
			zap.Time("created_at", tok.CreatedAt),
		)
		s.discard(ctx)
		if s.onExpire != nil {
			s.onExpire(ctx)
		}
		return "", false
	}
	return tok.Value, true
}

// Set persists raw with a fresh creation time. Empty values are ignored.
func (s *Store) Set(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.backend.Save(ctx, s.profile, SessionToken{Value: raw, CreatedAt: s.now()})
}

// Clear removes the token.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, s.profile)
}

func (s *Store) discard(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.profile); err != nil {
		s.logger.Warn("Failed to delete session token", zap.String("profile", s.profile), zap.Error(err))
	}
}
