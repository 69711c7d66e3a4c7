package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenClaims struct {
	Subject string
	Email   string
	Issuer  string
	Expires time.Time
}

// Claims extracts display claims from a token without verifying it
func Claims(raw string) (TokenClaims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return TokenClaims{}, fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, fmt.Errorf("invalid token claims")
	}

	tc := TokenClaims{}
	tc.Subject, _ = claims.GetSubject()
	tc.Issuer, _ = claims.GetIssuer()
	if email, ok := claims["email"].(string); ok {
		tc.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.Expires = exp.Time
	}
	return tc, nil
}

// Name is the best human readable name for the token holder
func (c TokenClaims) Name() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}
