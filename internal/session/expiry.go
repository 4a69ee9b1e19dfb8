package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry extracts the expiry claim from a JWT access token without
// verifying the signature. The server remains the authority on validity —
// the claim only feeds pre-expiry refresh scheduling, where a forged value
// costs nothing. Returns the zero time when the token is not a JWT or
// carries no exp claim (refresh responses omit the expiresIn hint, so this
// is the only expiry source after a refresh).
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}
