package authgate

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/storefront-core/models"
)

const (
	// UserKey is the gin context key holding the confirmed *models.User.
	UserKey = "storefront_user"
	// LoginOriginParam marks a navigation made right after login.
	LoginOriginParam = "from"
	loginOriginValue = "login"
)

// RequireIdentity redirects to loginPath?next=<original> unless the gate confirms an identity.
// Protected handlers never run while the check is outstanding.
func RequireIdentity(gate *Gate, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := OriginNavigation
		if c.Query(LoginOriginParam) == loginOriginValue {
			origin = OriginLogin
		}

		d := gate.Check(c.Request.Context(), origin)
		if d.Redirect() {
			c.Redirect(http.StatusFound, loginPath+"?next="+url.QueryEscape(nextTarget(c.Request.URL)))
			c.Abort()
			return
		}

		c.Set(UserKey, d.User)
		c.Next()
	}
}

// UserFrom returns the user stored by RequireIdentity.
func UserFrom(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok && u != nil
}

// nextTarget drops the login marker so a failed post-login check cannot loop.
func nextTarget(u *url.URL) string {
	cp := *u
	q := cp.Query()
	q.Del(LoginOriginParam)
	cp.RawQuery = q.Encode()
	return cp.RequestURI()
}
