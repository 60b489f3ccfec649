// Package session is the front end's view of the signed-in identity: an
// observable state machine plus the login, logout and restore operations.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habedi/docvault/auth"
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/vault"
	"github.com/rs/zerolog/log"
)

// Errors surfaced to the front end.
var (
	ErrInvalidCredentials = client.ErrInvalidCredentials
	ErrNetwork            = client.ErrNetwork
	ErrUnauthenticated    = client.ErrUnauthenticated
	ErrSessionExpired     = auth.ErrSessionExpired
)

const (
	subscriberBuffer = 16
	revokeTimeout    = 5 * time.Second
)

// TokenManager is the part of *auth.Manager the session drives.
type TokenManager interface {
	SaveGrant(ctx context.Context, g auth.Grant) (auth.TokenPair, error)
	CurrentTokens(ctx context.Context) (auth.TokenPair, bool)
	Purge(ctx context.Context)
	OnSessionExpired(fn func(reason error))
	Now() time.Time
}

// AuthAPI is the unauthenticated auth endpoint client.
type AuthAPI interface {
	Login(ctx context.Context, identifier, secret string) (*client.LoginResult, error)
	Register(ctx context.Context, req client.RegisterRequest) (*client.LoginResult, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// AccountFetcher loads the profile through the authenticated client.
type AccountFetcher interface {
	Account(ctx context.Context) (*client.User, error)
}

// ProfileStore persists the cached profile. *vault.Store implements it.
type ProfileStore interface {
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Session owns the session state of one client instance.
type Session struct {
	tokens   TokenManager
	authAPI  AuthAPI
	account  AccountFetcher
	profiles ProfileStore

	revokeOnLogout bool

	// op serializes Login, Register, Logout and RestoreOnStartup.
	op sync.Mutex

	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// Option configures a Session.
type Option func(*Session)

// WithRevokeOnLogout makes Logout ask the server to revoke the refresh token.
func WithRevokeOnLogout(enabled bool) Option {
	return func(s *Session) { s.revokeOnLogout = enabled }
}

// New creates a Session in the Unauthenticated state and subscribes it to token expiry.
func New(tokens TokenManager, authAPI AuthAPI, account AccountFetcher, profiles ProfileStore, opts ...Option) *Session {
	s := &Session{
		tokens:   tokens,
		authAPI:  authAPI,
		account:  account,
		profiles: profiles,
		state:    State{Kind: Unauthenticated},
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	tokens.OnSessionExpired(s.onExpired)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel that receives the current state and then every
// transition in order. A subscriber that falls behind loses the oldest pending
// states, never the latest. cancel closes the channel.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Login signs in with identifier and secret. On success the tokens and the
// profile are stored and the state is Authenticated.
func (s *Session) Login(ctx context.Context, identifier, secret string) error {
	s.op.Lock()
	defer s.op.Unlock()

	if identifier == "" || secret == "" {
		return fmt.Errorf("%w: identifier and secret are required", ErrInvalidCredentials)
	}
	if err := s.transition(State{Kind: Authenticating}); err != nil {
		return err
	}

	res, err := s.authAPI.Login(ctx, identifier, secret)
	if err != nil {
		return s.fail(ctx, err)
	}
	return s.establish(ctx, res)
}

// Register creates an account and signs in. Servers that do not return tokens on
// registration are followed by a regular login with the same credentials.
func (s *Session) Register(ctx context.Context, req client.RegisterRequest) error {
	s.op.Lock()
	defer s.op.Unlock()

	if req.Secret == "" || (req.Username == "" && req.Email == "") {
		return fmt.Errorf("%w: username or email and secret are required", ErrInvalidCredentials)
	}
	if err := s.transition(State{Kind: Authenticating}); err != nil {
		return err
	}

	res, err := s.authAPI.Register(ctx, req)
	if err != nil {
		return s.fail(ctx, err)
	}
	if res.Grant.AccessToken == "" {
		identifier := req.Username
		if identifier == "" {
			identifier = req.Email
		}
		log.Info().Msg("Registration returned no tokens, signing in")
		if res, err = s.authAPI.Login(ctx, identifier, req.Secret); err != nil {
			return s.fail(ctx, err)
		}
	}
	return s.establish(ctx, res)
}

// establish stores a grant and its profile and publishes Authenticated.
func (s *Session) establish(ctx context.Context, res *client.LoginResult) error {
	if _, err := s.tokens.SaveGrant(ctx, res.Grant); err != nil {
		return s.fail(ctx, fmt.Errorf("%w: %w", ErrNetwork, err))
	}

	user := res.User
	if user == nil {
		var err error
		if user, err = s.account.Account(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to fetch profile after login")
			return s.fail(ctx, err)
		}
	}
	if err := s.profiles.PutJSON(ctx, vault.SlotProfile, user); err != nil {
		log.Warn().Err(err).Msg("Failed to persist profile")
	}

	log.Info().Str("username", user.Username).Msg("Signed in")
	return s.transition(State{Kind: Authenticated, User: user})
}

// fail drops whatever the failed attempt left behind and returns to Unauthenticated.
func (s *Session) fail(ctx context.Context, cause error) error {
	s.tokens.Purge(ctx)
	s.clearProfile(ctx)
	if err := s.transition(State{Kind: Unauthenticated}); err != nil {
		log.Error().Err(err).Msg("Failed to reset session state")
	}
	return cause
}

// Logout forgets the session locally. It completes without waiting on the
// network; with revocation enabled the server is told afterwards, best effort.
func (s *Session) Logout(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	pair, hadTokens := s.tokens.CurrentTokens(ctx)
	s.tokens.Purge(ctx)
	s.clearProfile(ctx)
	if err := s.transition(State{Kind: Unauthenticated}); err != nil {
		return err
	}
	log.Info().Msg("Signed out")

	if s.revokeOnLogout && hadTokens {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()
		if err := s.authAPI.Revoke(rctx, pair.RefreshToken); err != nil {
			log.Warn().Err(err).Msg("Server-side logout failed")
		}
	}
	return nil
}

// RestoreOnStartup rebuilds the session from storage without network access.
// A stored session whose refresh token has expired is discarded.
func (s *Session) RestoreOnStartup(ctx context.Context) State {
	s.op.Lock()
	defer s.op.Unlock()

	pair, hasTokens := s.tokens.CurrentTokens(ctx)
	var user client.User
	hasProfile, err := s.profiles.GetJSON(ctx, vault.SlotProfile, &user)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cached profile")
	}

	switch {
	case hasTokens && hasProfile && !pair.RefreshExpired(s.tokens.Now()):
		log.Info().Str("username", user.Username).Msg("Restored session")
		if err := s.transition(State{Kind: Authenticated, User: &user}); err != nil {
			log.Error().Err(err).Msg("Failed to restore session state")
		}
	default:
		if hasTokens || hasProfile {
			log.Info().Bool("tokens", hasTokens).Bool("profile", hasProfile).Msg("Discarding incomplete or expired stored session")
			s.tokens.Purge(ctx)
			s.clearProfile(ctx)
		}
		if err := s.transition(State{Kind: Unauthenticated}); err != nil {
			log.Error().Err(err).Msg("Failed to reset session state")
		}
	}
	return s.State()
}

// RefreshProfile reloads the profile from the server and republishes Authenticated.
func (s *Session) RefreshProfile(ctx context.Context) (*client.User, error) {
	if s.State().Kind != Authenticated {
		return nil, ErrUnauthenticated
	}
	user, err := s.account.Account(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.PutJSON(ctx, vault.SlotProfile, user); err != nil {
		log.Warn().Err(err).Msg("Failed to persist profile")
	}
	if err := s.transition(State{Kind: Authenticated, User: user}); err != nil {
		return nil, err
	}
	return user, nil
}

// onExpired runs when the token manager ends the session on its own.
func (s *Session) onExpired(reason error) {
	if s.State().Kind != Authenticated {
		log.Debug().Err(reason).Msg("Session expiry ignored, not signed in")
		return
	}
	s.clearProfile(context.Background())
	log.Warn().Err(reason).Msg("Session expired, sign in again")

	s.mu.Lock()
	defer s.mu.Unlock()
	// A logout or a new login may have won the race for the lock.
	if s.state.Kind == Authenticated {
		s.setLocked(State{Kind: RefreshFailed, Reason: reason})
	}
}

func (s *Session) clearProfile(ctx context.Context) {
	if err := s.profiles.Delete(context.WithoutCancel(ctx), vault.SlotProfile); err != nil {
		log.Warn().Err(err).Msg("Failed to delete cached profile")
	}
}

// transition moves to next if the state machine allows it and publishes it.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state.Kind
	if !CanTransition(from, next.Kind) {
		log.Error().Stringer("from", from).Stringer("to", next.Kind).Msg("Rejected session state transition")
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next.Kind)
	}
	s.setLocked(next)
	return nil
}

func (s *Session) setLocked(next State) {
	log.Debug().Stringer("from", s.state.Kind).Stringer("to", next.Kind).Msg("Session state changed")
	s.state = next
	for _, ch := range s.subs {
		publish(ch, next)
	}
}

// publish delivers st without blocking, dropping the oldest pending state if needed.
func publish(ch chan State, st State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
