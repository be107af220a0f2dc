package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenTTL returns the access token's remaining lifetime. expires_in
// wins when present; otherwise the unverified JWT exp claim is used.
// Zero means unknown.
func accessTokenTTL(accessToken string, expiresIn int64, now time.Time) time.Duration {
	if expiresIn > 0 {
		return seconds(expiresIn)
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	if d := exp.Time.Sub(now); d > 0 {
		return d
	}
	// Already expired; record an expiry in the past so the next call refreshes.
	return time.Nanosecond
}
