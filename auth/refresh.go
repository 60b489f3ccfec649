package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const refreshFlight = "refresh"

// EnsureValidAccessToken returns an access token that is valid now, refreshing it
// if only the access token has expired. It fails with ErrSessionExpired when there
// is no session or the refresh token is expired or rejected; in that case the
// session is purged and listeners are notified.
func (m *Manager) EnsureValidAccessToken(ctx context.Context) (string, error) {
	pair, gen, ok := m.snapshot(ctx)
	if !ok {
		return "", ErrSessionExpired
	}

	now := m.now()
	if pair.RefreshExpired(now) {
		return "", m.expireGen(ctx, gen, fmt.Errorf("%w: refresh token expired at %s",
			ErrSessionExpired, pair.RefreshExpiresAt.Format(time.RFC3339)))
	}
	if m.accessFresh(pair, now) {
		return pair.AccessToken, nil
	}
	return m.refresh(ctx, pair.AccessToken)
}

// ForceRefresh obtains a new access token after the server rejected stale, whatever
// the clock says. If the current token already differs from stale, another caller has
// refreshed it and that token is returned without a network call.
func (m *Manager) ForceRefresh(ctx context.Context, stale string) (string, error) {
	pair, gen, ok := m.snapshot(ctx)
	if !ok {
		return "", ErrSessionExpired
	}

	now := m.now()
	if pair.RefreshExpired(now) {
		return "", m.expireGen(ctx, gen, fmt.Errorf("%w: refresh token expired at %s",
			ErrSessionExpired, pair.RefreshExpiresAt.Format(time.RFC3339)))
	}
	if pair.AccessToken != stale && m.accessFresh(pair, now) {
		return pair.AccessToken, nil
	}
	return m.refresh(ctx, stale)
}

func (m *Manager) accessFresh(p TokenPair, now time.Time) bool {
	return !now.After(p.AccessExpiresAt.Add(-m.skew))
}

// refresh joins the in-flight refresh or starts one. A caller whose ctx ends stops
// waiting; the refresh itself keeps running for the other waiters.
func (m *Manager) refresh(ctx context.Context, bad string) (string, error) {
	ch := m.group.DoChan(refreshFlight, func() (interface{}, error) {
		return m.runRefresh(ctx, bad)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) runRefresh(parent context.Context, bad string) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.timeout)
	defer cancel()

	pair, gen, ok := m.snapshot(ctx)
	if !ok {
		return "", ErrSessionExpired
	}
	now := m.now()
	if pair.RefreshExpired(now) {
		return "", m.expireGen(ctx, gen, fmt.Errorf("%w: refresh token expired", ErrSessionExpired))
	}
	// A refresh that finished just before this one started already replaced the token.
	if pair.AccessToken != bad && m.accessFresh(pair, now) {
		return pair.AccessToken, nil
	}

	log.Info().Msg("Access token expired or rejected, refreshing...")
	grant, err := m.refresher.RefreshTokens(ctx, pair.RefreshToken)
	if err == nil && grant == nil {
		err = errors.New("empty refresh response")
	}
	if err != nil {
		log.Warn().Err(err).Msg("Token refresh failed, ending session")
		return "", m.expireGen(ctx, gen, fmt.Errorf("%w: refresh failed: %w", ErrSessionExpired, err))
	}

	next, err := pairFromGrant(*grant, &pair, m.now(), m.refreshTTL)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		log.Error().Err(err).Msg("Refresh returned unusable tokens, ending session")
		return "", m.expireGen(ctx, gen, fmt.Errorf("%w: %w", ErrSessionExpired, err))
	}

	if !m.commit(ctx, next.utc(), gen, true) {
		log.Info().Msg("Session changed during refresh, refreshed tokens were not stored")
		return next.AccessToken, nil
	}
	log.Info().Time("access_expires_at", next.AccessExpiresAt).Msg("Token refreshed and saved successfully.")
	return next.AccessToken, nil
}
