package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrNotJWT is returned for opaque credentials that carry no readable claims.
var ErrNotJWT = errors.New("credential is not a JWT")

// Claims reads the claims of a bearer token without verifying its signature.
// Signature checks belong to the backend; the client only inspects expiry.
func Claims(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, ErrNotJWT
	}
	return claims, nil
}

// Expired reports whether tokenStr is a JWT whose exp claim is at or before now.
// Opaque tokens return false with ErrNotJWT.
func Expired(tokenStr string, now time.Time) (bool, error) {
	claims, err := Claims(tokenStr)
	if err != nil {
		return false, err
	}
	if _, ok := claims["exp"]; !ok {
		return false, nil
	}
	return !claims.VerifyExpiresAt(now.Unix(), true), nil
}
