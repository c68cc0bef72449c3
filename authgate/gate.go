// Package authgate guards protected flows behind a network-authoritative identity check.
package authgate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/storefront-core/common/auth"
	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/models"
)

// Origin says how the shopper arrived at a protected flow.
type Origin int

const (
	OriginNavigation Origin = iota
	// OriginLogin marks navigation straight after a login action; the backend may not
	// report the new identity yet.
	OriginLogin
)

type Reason string

const (
	ReasonAnonymous   Reason = "anonymous"
	ReasonAuthExpired Reason = "auth_expired"
	ReasonUnavailable Reason = "identity_unavailable"
)

// Decision is the outcome of a check. Anything other than Allow redirects to login.
type Decision struct {
	Allow    bool
	User     *models.User
	Reason   Reason
	Attempts int
	Err      error
}

func (d Decision) Redirect() bool { return !d.Allow }

type IdentitySource interface {
	CurrentUser(ctx context.Context) (*models.User, error)
}

// CredentialSource yields the bearer credential sent with identity checks, if any.
type CredentialSource interface {
	Get(ctx context.Context) (string, bool)
}

type Option func(*Gate)

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gate) { g.sleep = sleep }
}

func WithCredential(src CredentialSource) Option {
	return func(g *Gate) { g.credential = src }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

type Gate struct {
	identity   IdentitySource
	grace      time.Duration
	credential CredentialSource
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     *zap.Logger
}

func NewGate(identity IdentitySource, grace time.Duration, log *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		identity: identity,
		grace:    grace,
		sleep:    sleepCtx,
		now:      time.Now,
		logger:   logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check resolves the current identity. Navigation from login gets one retry after the grace
// delay; every other miss, error or ambiguity redirects.
func (g *Gate) Check(ctx context.Context, origin Origin) Decision {
	if d, expired := g.expiredCredential(ctx); expired {
		return d
	}

	d := g.attempt(ctx, 1)
	if d.Allow || origin != OriginLogin {
		g.log(ctx, d)
		return d
	}

	if err := g.sleep(ctx, g.grace); err != nil {
		d.Err = err
		g.log(ctx, d)
		return d
	}
	d = g.attempt(ctx, 2)
	g.log(ctx, d)
	return d
}

func (g *Gate) attempt(ctx context.Context, n int) Decision {
	user, err := g.identity.CurrentUser(ctx)
	switch {
	case err != nil && apperrors.Is(err, apperrors.KindAuthExpired):
		return Decision{Reason: ReasonAuthExpired, Attempts: n, Err: err}
	case err != nil:
		return Decision{Reason: ReasonUnavailable, Attempts: n, Err: err}
	case !user.Authenticated():
		return Decision{Reason: ReasonAnonymous, Attempts: n}
	}
	return Decision{Allow: true, User: user, Attempts: n}
}

// expiredCredential short-circuits when the stored bearer token is a JWT past its expiry, so
// an expired credential is never sent.
func (g *Gate) expiredCredential(ctx context.Context) (Decision, bool) {
	if g.credential == nil {
		return Decision{}, false
	}
	tok, ok := g.credential.Get(ctx)
	if !ok {
		return Decision{}, false
	}
	expired, err := auth.Expired(tok, g.now())
	if err != nil || !expired {
		return Decision{}, false
	}
	d := Decision{Reason: ReasonAuthExpired, Err: apperrors.AuthExpired("", nil)}
	g.log(ctx, d)
	return d, true
}

func (g *Gate) log(ctx context.Context, d Decision) {
	if d.Allow {
		g.logger.Debug("Identity confirmed",
			zap.String("request_id", logger.RequestID(ctx)),
			zap.String("user_id", d.User.ID),
		)
		return
	}
	fields := []zap.Field{
		zap.String("request_id", logger.RequestID(ctx)),
		zap.String("reason", string(d.Reason)),
		zap.Int("attempts", d.Attempts),
	}
	if d.Err != nil {
		fields = append(fields, zap.Error(d.Err))
	}
	g.logger.Info("Identity check redirecting to login", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
