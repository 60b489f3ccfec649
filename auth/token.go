package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidTokenPair means a pair violates its invariants; it is a programming or data error.
	ErrInvalidTokenPair = errors.New("invalid token pair")
	// ErrSessionExpired means there is no usable refresh token; the user must sign in again.
	ErrSessionExpired = errors.New("session expired")
)

// TokenPair is the credential set for the signed-in identity.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Validate checks that both tokens are present and the access token does not outlive the refresh token.
func (p TokenPair) Validate() error {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidTokenPair)
	}
	if p.AccessExpiresAt.IsZero() || p.RefreshExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidTokenPair)
	}
	if p.AccessExpiresAt.After(p.RefreshExpiresAt) {
		return fmt.Errorf("%w: access token expires after refresh token", ErrInvalidTokenPair)
	}
	return nil
}

// RefreshExpired reports whether the refresh token is no longer usable at now.
func (p TokenPair) RefreshExpired(now time.Time) bool {
	return now.After(p.RefreshExpiresAt)
}

// utc drops the monotonic reading and location so a stored pair compares equal after a round trip.
func (p TokenPair) utc() TokenPair {
	p.AccessExpiresAt = p.AccessExpiresAt.UTC()
	p.RefreshExpiresAt = p.RefreshExpiresAt.UTC()
	return p
}

// Grant is what the login and refresh endpoints return. Lifetimes are in seconds;
// zero means the server did not say.
type Grant struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresIn int64
}

// jwtExpiry reads the exp claim of a JWT without verifying it. Opaque tokens report false.
func jwtExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// pairFromGrant turns a grant into absolute expiry timestamps.
// prev, when set, supplies the refresh token for servers that do not rotate it.
func pairFromGrant(g Grant, prev *TokenPair, now time.Time, refreshTTL time.Duration) (TokenPair, error) {
	if g.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("%w: grant has no access token", ErrInvalidTokenPair)
	}

	pair := TokenPair{AccessToken: g.AccessToken, RefreshToken: g.RefreshToken}

	switch {
	case g.RefreshExpiresIn > 0:
		pair.RefreshExpiresAt = now.Add(time.Duration(g.RefreshExpiresIn) * time.Second)
	case g.RefreshToken == "" && prev != nil:
		pair.RefreshToken = prev.RefreshToken
		pair.RefreshExpiresAt = prev.RefreshExpiresAt
	default:
		if exp, ok := jwtExpiry(g.RefreshToken); ok {
			pair.RefreshExpiresAt = exp
		} else {
			pair.RefreshExpiresAt = now.Add(refreshTTL)
		}
	}
	if pair.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: grant has no refresh token", ErrInvalidTokenPair)
	}

	switch {
	case g.ExpiresIn > 0:
		pair.AccessExpiresAt = now.Add(time.Duration(g.ExpiresIn) * time.Second)
	default:
		if exp, ok := jwtExpiry(g.AccessToken); ok {
			pair.AccessExpiresAt = exp
		} else {
			pair.AccessExpiresAt = now
		}
	}
	if pair.AccessExpiresAt.After(pair.RefreshExpiresAt) {
		pair.AccessExpiresAt = pair.RefreshExpiresAt
	}
	return pair, nil
}
