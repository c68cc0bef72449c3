package authgate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/storefront-core/authgate"
	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/models"
)

// ---- identity fake ----

type scriptedIdentity struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

type reply struct {
	user *models.User
	err  error
}

func (s *scriptedIdentity) CurrentUser(context.Context) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	return r.user, r.err
}

type recordingSleeper struct {
	slept []time.Duration
	err   error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return r.err
}

var (
	guest    = &models.User{ID: models.GuestUserID}
	customer = &models.User{ID: "u-42", Email: "ada@example.com"}
)

func newGate(id *scriptedIdentity, sleeper *recordingSleeper, opts ...authgate.Option) *authgate.Gate {
	return authgate.NewGate(id, 1500*time.Millisecond, nil, append(opts, authgate.WithSleeper(sleeper.Sleep))...)
}

func TestCheck_AllowsAuthenticatedUser(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: customer}}}
	d := newGate(id, &recordingSleeper{}).Check(context.Background(), authgate.OriginNavigation)

	assert.True(t, d.Allow)
	assert.Equal(t, customer, d.User)
	assert.Equal(t, 1, id.calls)
}

func TestCheck_NavigationRedirectsWithoutRetry(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: guest}, {user: customer}}}
	sleeper := &recordingSleeper{}

	d := newGate(id, sleeper).Check(context.Background(), authgate.OriginNavigation)

	assert.True(t, d.Redirect())
	assert.Equal(t, authgate.ReasonAnonymous, d.Reason)
	assert.Equal(t, 1, id.calls)
	assert.Empty(t, sleeper.slept)
}

func TestCheck_LoginOriginWaitsGraceAndRetriesOnce(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: nil}, {user: customer}}}
	sleeper := &recordingSleeper{}

	d := newGate(id, sleeper).Check(context.Background(), authgate.OriginLogin)

	assert.True(t, d.Allow)
	assert.Equal(t, 2, d.Attempts)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, sleeper.slept)
}

func TestCheck_LoginOriginStillAnonymousRedirects(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: guest}}}
	sleeper := &recordingSleeper{}

	d := newGate(id, sleeper).Check(context.Background(), authgate.OriginLogin)

	assert.True(t, d.Redirect())
	assert.Equal(t, 2, id.calls)
	assert.Len(t, sleeper.slept, 1)
}

func TestCheck_FailsClosed(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{err: apperrors.Network("", errors.New("timeout"))}}}
	d := newGate(id, &recordingSleeper{}).Check(context.Background(), authgate.OriginNavigation)
	assert.True(t, d.Redirect())
	assert.Equal(t, authgate.ReasonUnavailable, d.Reason)

	id = &scriptedIdentity{replies: []reply{{user: guest}}}
	d = newGate(id, &recordingSleeper{err: context.Canceled}).Check(context.Background(), authgate.OriginLogin)
	assert.True(t, d.Redirect())
	assert.Equal(t, 1, id.calls)

	id = &scriptedIdentity{replies: []reply{{err: apperrors.AuthExpired("", nil)}}}
	d = newGate(id, &recordingSleeper{}).Check(context.Background(), authgate.OriginNavigation)
	assert.Equal(t, authgate.ReasonAuthExpired, d.Reason)
}

type staticCredential string

func (s staticCredential) Get(context.Context) (string, bool) { return string(s), s != "" }

func TestCheck_ExpiredCredentialNeverSent(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-42", "exp": now.Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	id := &scriptedIdentity{replies: []reply{{user: customer}}}
	d := newGate(id, &recordingSleeper{},
		authgate.WithCredential(staticCredential(tok)),
		authgate.WithClock(func() time.Time { return now }),
	).Check(context.Background(), authgate.OriginNavigation)

	assert.True(t, d.Redirect())
	assert.Equal(t, authgate.ReasonAuthExpired, d.Reason)
	assert.Equal(t, 0, id.calls)
}

// ---- middleware ----

func newRouter(gate *authgate.Gate, protectedHits *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/checkout", authgate.RequireIdentity(gate, "/login"), func(c *gin.Context) {
		*protectedHits++
		u, ok := authgate.UserFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, u.ID)
	})
	return r
}

func TestRequireIdentity_RedirectsExactlyOnce(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: guest}}}
	hits := 0
	r := newRouter(newGate(id, &recordingSleeper{}), &hits)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout?step=2", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fcheckout%3Fstep%3D2", w.Header().Get("Location"))
	assert.Equal(t, 0, hits)
	assert.Equal(t, 1, id.calls)
}

func TestRequireIdentity_LoginOriginWithinGrace(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: guest}, {user: customer}}}
	hits := 0
	r := newRouter(newGate(id, &recordingSleeper{}), &hits)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout?from=login", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-42", w.Body.String())
	assert.Equal(t, 1, hits)
}

func TestRequireIdentity_NextDropsLoginMarker(t *testing.T) {
	id := &scriptedIdentity{replies: []reply{{user: guest}}}
	hits := 0
	r := newRouter(newGate(id, &recordingSleeper{}), &hits)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checkout?from=login", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fcheckout", w.Header().Get("Location"))
}
