package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshTTL     = 30 * 24 * time.Hour
	defaultRefreshTimeout = 30 * time.Second
)

// Manager owns the token pair of the signed-in identity: the in-memory copy,
// the persisted copy (through a TokenStorer), and the refresh of expired access tokens.
//
// Reads take a short read lock on an immutable snapshot and never wait on the network.
// At most one refresh runs at a time; concurrent callers that need a new access token
// wait for it instead of starting their own.
type Manager struct {
	storer    TokenStorer
	refresher TokenRefresher

	now        func() time.Time
	skew       time.Duration
	refreshTTL time.Duration
	timeout    time.Duration

	// persistMu keeps the storer's writes in the same order as the in-memory swaps.
	persistMu sync.Mutex

	mu     sync.RWMutex
	pair   *TokenPair
	loaded bool
	// gen changes on every Save and Purge; a refresh only commits if it is unchanged.
	gen uint64

	group singleflight.Group

	listenersMu sync.Mutex
	listeners   []func(reason error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithExpirySkew treats access tokens as expired d before their actual expiry.
func WithExpirySkew(d time.Duration) Option {
	return func(m *Manager) { m.skew = d }
}

// WithRefreshTTL sets the refresh token lifetime assumed when the server reports none.
func WithRefreshTTL(d time.Duration) Option {
	return func(m *Manager) { m.refreshTTL = d }
}

// WithRefreshTimeout bounds each refresh call. It should match the ordinary request timeout.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager is the constructor for the token lifecycle manager.
func NewManager(storer TokenStorer, refresher TokenRefresher, opts ...Option) *Manager {
	m := &Manager{
		storer:     storer,
		refresher:  refresher,
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
		timeout:    defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's notion of the current time.
func (m *Manager) Now() time.Time { return m.now() }

// OnSessionExpired registers fn to be called once each time the session is
// terminated by the manager (refresh token expired or rejected).
func (m *Manager) OnSessionExpired(fn func(reason error)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notifyExpired(reason error) {
	m.listenersMu.Lock()
	listeners := append([]func(error){}, m.listeners...)
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

// Save validates pair and makes it the current session. Persistence is best effort:
// when the store write fails the pair stays authoritative in memory for this process.
func (m *Manager) Save(ctx context.Context, pair TokenPair) error {
	if err := pair.Validate(); err != nil {
		log.Error().Err(err).Msg("Refusing to save token pair")
		return err
	}
	m.commit(ctx, pair.utc(), 0, false)
	return nil
}

// SaveGrant converts a login or registration grant into a pair and saves it.
func (m *Manager) SaveGrant(ctx context.Context, g Grant) (TokenPair, error) {
	pair, err := pairFromGrant(g, nil, m.now(), m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	if err := m.Save(ctx, pair); err != nil {
		return TokenPair{}, err
	}
	return pair.utc(), nil
}

// CurrentTokens returns the freshest known pair, loading it from the store on first use.
func (m *Manager) CurrentTokens(ctx context.Context) (TokenPair, bool) {
	pair, _, ok := m.snapshot(ctx)
	return pair, ok
}

// Purge forgets the session in memory and in the store.
func (m *Manager) Purge(ctx context.Context) {
	m.purge(ctx, 0, false)
}

// Expire purges the session and notifies listeners. It is used when the server
// keeps rejecting freshly refreshed credentials.
func (m *Manager) Expire(ctx context.Context, reason error) {
	if m.purge(ctx, 0, false) {
		m.notifyExpired(reason)
	}
}

func (m *Manager) snapshot(ctx context.Context) (TokenPair, uint64, bool) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		if m.pair == nil {
			return TokenPair{}, m.gen, false
		}
		return *m.pair, m.gen, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		m.pair = m.load(ctx)
		m.loaded = true
	}
	if m.pair == nil {
		return TokenPair{}, m.gen, false
	}
	return *m.pair, m.gen, true
}

func (m *Manager) load(ctx context.Context) *TokenPair {
	pair, err := m.storer.LoadTokens(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored tokens, starting signed out")
		return nil
	}
	if pair == nil {
		return nil
	}
	if err := pair.Validate(); err != nil {
		log.Warn().Err(err).Msg("Discarding invalid stored tokens")
		return nil
	}
	p := pair.utc()
	log.Debug().Time("access_expires_at", p.AccessExpiresAt).Msg("Loaded stored tokens")
	return &p
}

// commit installs pair in memory and then in the store. With checkGen it only
// proceeds while the generation still equals gen.
func (m *Manager) commit(ctx context.Context, pair TokenPair, gen uint64, checkGen bool) bool {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if checkGen && m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.gen++
	m.pair = &pair
	m.loaded = true
	m.mu.Unlock()

	if err := m.storer.SaveTokens(context.WithoutCancel(ctx), &pair); err != nil {
		log.Warn().Err(err).Msg("Failed to persist tokens, keeping them in memory for this process")
	}
	return true
}

func (m *Manager) purge(ctx context.Context, gen uint64, checkGen bool) bool {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if checkGen && m.gen != gen {
		m.mu.Unlock()
		return false
	}
	had := m.pair != nil || !m.loaded
	m.gen++
	m.pair = nil
	m.loaded = true
	m.mu.Unlock()

	if err := m.storer.DeleteTokens(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("Failed to delete stored tokens")
	}
	log.Info().Msg("Session tokens purged")
	return had
}

// expireGen purges the session captured at gen and notifies listeners. It does
// nothing if the session was replaced or purged in the meantime.
func (m *Manager) expireGen(ctx context.Context, gen uint64, reason error) error {
	if m.purge(ctx, gen, true) {
		m.notifyExpired(reason)
	}
	return reason
}
