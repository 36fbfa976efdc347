// Package token reads the claims of the provider's bearer token. It never
// verifies signatures, so everything it returns is informational only.
package token

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissing is returned when there is no token to inspect.
var ErrMissing = errors.New("token missing")

// SubjectClaim holds the account identifier in provider tokens.
const SubjectClaim = "name"

// Claims is a read-only view over a decoded token payload.
type Claims struct {
	claims jwt.MapClaims
}

// Parse decodes the payload segment of raw. Padding on the base64url segments
// is tolerated.
func Parse(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrMissing
	}
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	tok, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	// an unknown alg still leaves readable claims
	if err != nil && (tok == nil || !errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid token claims")
	}
	return Claims{claims: claims}, nil
}

// Field returns the raw claim value or nil.
func (c Claims) Field(key string) any {
	if c.claims == nil {
		return nil
	}
	return c.claims[key]
}

// Subject returns the account identifier or "".
func (c Claims) Subject() string {
	s, _ := c.Field(SubjectClaim).(string)
	return s
}

// Expiry returns the exp claim. ok is false when it's missing or not a number.
func (c Claims) Expiry() (time.Time, bool) {
	if c.claims == nil {
		return time.Time{}, false
	}
	exp, err := c.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiredAt reports whether the token is expired at now. A token without an
// expiry is always expired.
func (c Claims) ExpiredAt(now time.Time) bool {
	exp, ok := c.Expiry()
	if !ok {
		return true
	}
	return !now.Before(exp)
}

// TTL returns how long until expiry, never negative.
func (c Claims) TTL(now time.Time) time.Duration {
	exp, ok := c.Expiry()
	if !ok {
		return 0
	}
	return time.Duration(math.Max(0, float64(exp.Sub(now))))
}
