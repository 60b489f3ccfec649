package auth

import "context"

// TokenStorer defines the contract for any component that can persist the current token pair.
// LoadTokens returns nil, nil when nothing is stored.
type TokenStorer interface {
	LoadTokens(ctx context.Context) (*TokenPair, error)
	SaveTokens(ctx context.Context, pair *TokenPair) error
	DeleteTokens(ctx context.Context) error
}

// TokenRefresher defines the contract for any component that can exchange a refresh token
// for a new grant.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*Grant, error)
}
