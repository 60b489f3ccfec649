package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/docvault/auth"
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/session"
	"github.com/habedi/docvault/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStorer struct {
	mu   sync.Mutex
	pair *auth.TokenPair
}

func (m *memStorer) LoadTokens(context.Context) (*auth.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return nil, nil
	}
	cp := *m.pair
	return &cp, nil
}

func (m *memStorer) SaveTokens(_ context.Context, p *auth.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pair = &cp
	return nil
}

func (m *memStorer) DeleteTokens(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = nil
	return nil
}

func (m *memStorer) stored() *auth.TokenPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

type memProfiles struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memProfiles) PutJSON(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = b
	return nil
}

func (m *memProfiles) GetJSON(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *memProfiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memProfiles) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// docServer is a minimal document service with rotating tokens.
type docServer struct {
	mu               sync.Mutex
	access           string
	issued           int
	expiresIn        int64
	refreshExpiresIn int64
	omitUser         bool
	rejectRefresh    bool
	refreshGate      chan struct{}
	lastBearer       string

	logins    atomic.Int32
	refreshes atomic.Int32
	domain    atomic.Int32
	revokes   atomic.Int32
}

func (s *docServer) issue() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.access = fmt.Sprintf("access-%d", s.issued)
	resp := map[string]interface{}{
		"accessToken":  s.access,
		"refreshToken": fmt.Sprintf("refresh-%d", s.issued),
		"expiresIn":    s.expiresIn,
	}
	if s.refreshExpiresIn > 0 {
		resp["refreshExpiresIn"] = s.refreshExpiresIn
	}
	return resp
}

func (s *docServer) authorized(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return s.access != "" && s.lastBearer == s.access
}

func (s *docServer) bearer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBearer
}

func (s *docServer) handler() http.Handler {
	user := map[string]interface{}{"id": "u1", "username": "alice", "email": "alice@example.com", "storageQuota": 1 << 30}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["identifier"] != "alice" || body["secret"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := s.issue()
		if !s.omitUser {
			resp["user"] = user
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"user": user})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshes.Add(1)
		if s.refreshGate != nil {
			<-s.refreshGate
		}
		if s.rejectRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(s.issue())
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		s.revokes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/account", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"user": user})
	})
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		s.domain.Add(1)
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"d1","title":"Lease"}]`))
	})
	return mux
}

type harness struct {
	server   *docServer
	clock    *testClock
	storer   *memStorer
	profiles *memProfiles
	manager  *auth.Manager
	api      *client.API
	session  *session.Session
}

func newHarness(t *testing.T, srv *docServer, opts ...session.Option) *harness {
	t.Helper()
	if srv.expiresIn == 0 {
		srv.expiresIn = 60
	}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	h := &harness{
		server:   srv,
		clock:    &testClock{now: time.Now()},
		storer:   &memStorer{},
		profiles: &memProfiles{},
	}
	authClient := client.NewAuthClient(ts.URL, 5*time.Second)
	h.manager = auth.NewManager(h.storer, authClient, auth.WithClock(h.clock.Now))
	h.api = client.NewAPI(ts.URL, h.manager, 5*time.Second, nil)
	h.session = session.New(h.manager, authClient, h.api, h.profiles, opts...)
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Login(context.Background(), "alice", "pw"))
}

func TestLogin_ThenDomainCallCarriesToken(t *testing.T) {
	h := newHarness(t, &docServer{})
	states, cancel := h.session.Subscribe()
	defer cancel()

	h.login(t)

	st := h.session.State()
	require.Equal(t, session.Authenticated, st.Kind)
	require.NotNil(t, st.User)
	assert.Equal(t, "alice", st.User.Username)
	assert.Equal(t, session.Unauthenticated, (<-states).Kind)
	assert.Equal(t, session.Authenticating, (<-states).Kind)
	assert.Equal(t, session.Authenticated, (<-states).Kind)

	require.NotNil(t, h.storer.stored(), "tokens persisted")
	assert.True(t, h.profiles.has(vault.SlotProfile), "profile persisted")

	docs, err := h.api.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "access-1", h.server.bearer())
	assert.Equal(t, int32(0), h.server.refreshes.Load())
}

func TestExpiredAccess_RefreshesOnce(t *testing.T) {
	h := newHarness(t, &docServer{})
	h.login(t)

	h.clock.Advance(2 * time.Minute)

	_, err := h.api.ListDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.server.refreshes.Load())
	assert.Equal(t, "access-2", h.server.bearer())
	assert.Equal(t, session.Authenticated, h.session.State().Kind)
}

func TestExpiredRefreshToken_EndsSession(t *testing.T) {
	h := newHarness(t, &docServer{refreshExpiresIn: 120})
	h.login(t)

	h.clock.Advance(10 * time.Minute)

	_, err := h.api.ListDocuments(context.Background(), "")
	require.ErrorIs(t, err, client.ErrUnauthenticated)

	st := h.session.State()
	assert.Equal(t, session.RefreshFailed, st.Kind)
	assert.ErrorIs(t, st.Reason, auth.ErrSessionExpired)
	assert.Nil(t, h.storer.stored(), "store no longer returns a token pair")
	assert.False(t, h.profiles.has(vault.SlotProfile))
	assert.Equal(t, int32(0), h.server.domain.Load(), "no domain call without a token")
}

func TestRejectedRefresh_EndsSession(t *testing.T) {
	h := newHarness(t, &docServer{rejectRefresh: true})
	h.login(t)

	h.clock.Advance(2 * time.Minute)

	_, err := h.api.ListDocuments(context.Background(), "")
	require.ErrorIs(t, err, client.ErrUnauthenticated)
	assert.Equal(t, session.RefreshFailed, h.session.State().Kind)
	assert.Nil(t, h.storer.stored())
}

func TestLogout_DuringSharedRefresh(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &docServer{refreshGate: gate})
	h.login(t)
	h.clock.Advance(2 * time.Minute)

	const inFlight = 3
	errs := make(chan error, inFlight)
	for i := 0; i < inFlight; i++ {
		go func() {
			_, err := h.api.ListDocuments(context.Background(), "")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return h.server.refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.session.Logout(context.Background()))
	assert.Equal(t, session.Unauthenticated, h.session.State().Kind)

	domainBefore := h.server.domain.Load()
	_, err := h.api.ListDocuments(context.Background(), "")
	require.ErrorIs(t, err, client.ErrUnauthenticated, "new calls observe the logout immediately")
	assert.Equal(t, domainBefore, h.server.domain.Load())

	close(gate)
	for i := 0; i < inFlight; i++ {
		assert.NoError(t, <-errs, "waiters of the shared refresh complete")
	}
	assert.Equal(t, int32(1), h.server.refreshes.Load())
	assert.Equal(t, session.Unauthenticated, h.session.State().Kind)
	assert.Nil(t, h.storer.stored(), "the refresh does not resurrect the session")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, &docServer{})
	states, cancel := h.session.Subscribe()
	defer cancel()

	err := h.session.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)

	assert.Equal(t, session.Unauthenticated, (<-states).Kind)
	assert.Equal(t, session.Authenticating, (<-states).Kind)
	assert.Equal(t, session.Unauthenticated, (<-states).Kind)
	assert.Nil(t, h.storer.stored())
}

func TestLogin_EmptyInputMakesNoRequest(t *testing.T) {
	h := newHarness(t, &docServer{})

	err := h.session.Login(context.Background(), "", "pw")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Equal(t, int32(0), h.server.logins.Load())
	assert.Equal(t, session.Unauthenticated, h.session.State().Kind)
}

func TestLogin_FetchesProfileWhenResponseHasNone(t *testing.T) {
	h := newHarness(t, &docServer{omitUser: true})
	h.login(t)

	st := h.session.State()
	require.Equal(t, session.Authenticated, st.Kind)
	assert.Equal(t, "alice@example.com", st.User.Email)
}

func TestRegister_FollowedByLogin(t *testing.T) {
	h := newHarness(t, &docServer{})

	err := h.session.Register(context.Background(), client.RegisterRequest{
		Email: "alice@example.com", FullName: "Alice", Username: "alice", Secret: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.server.logins.Load())
	assert.Equal(t, session.Authenticated, h.session.State().Kind)
}

func TestLogout_RevokesWhenEnabled(t *testing.T) {
	h := newHarness(t, &docServer{}, session.WithRevokeOnLogout(true))
	h.login(t)

	require.NoError(t, h.session.Logout(context.Background()))
	assert.Equal(t, int32(1), h.server.revokes.Load())
	assert.Nil(t, h.storer.stored())
	assert.False(t, h.profiles.has(vault.SlotProfile))
}

func TestLogout_NoRevokeByDefault(t *testing.T) {
	h := newHarness(t, &docServer{})
	h.login(t)

	require.NoError(t, h.session.Logout(context.Background()))
	assert.Equal(t, int32(0), h.server.revokes.Load())
	assert.Equal(t, session.Unauthenticated, h.session.State().Kind)
}

func TestRestoreOnStartup(t *testing.T) {
	srv := &docServer{}
	first := newHarness(t, srv)
	first.login(t)

	// A second process sharing the same storage.
	second := newHarness(t, srv)
	second.storer.pair = first.storer.stored()
	second.profiles.data = first.profiles.data
	logins := srv.logins.Load()

	st := second.session.RestoreOnStartup(context.Background())
	require.Equal(t, session.Authenticated, st.Kind)
	assert.Equal(t, "alice", st.User.Username)
	assert.Equal(t, logins, srv.logins.Load())
	assert.Equal(t, int32(0), srv.refreshes.Load(), "restore makes no network call")
}

func TestRestoreOnStartup_ExpiredRefreshToken(t *testing.T) {
	h := newHarness(t, &docServer{})
	now := h.clock.Now()
	h.storer.pair = &auth.TokenPair{
		AccessToken:      "a",
		RefreshToken:     "r",
		AccessExpiresAt:  now.Add(-2 * time.Hour),
		RefreshExpiresAt: now.Add(-time.Hour),
	}
	require.NoError(t, h.profiles.PutJSON(context.Background(), vault.SlotProfile, client.User{Username: "alice"}))

	st := h.session.RestoreOnStartup(context.Background())
	assert.Equal(t, session.Unauthenticated, st.Kind)
	assert.Nil(t, h.storer.stored())
	assert.False(t, h.profiles.has(vault.SlotProfile))
}

func TestRestoreOnStartup_Empty(t *testing.T) {
	h := newHarness(t, &docServer{})
	assert.Equal(t, session.Unauthenticated, h.session.RestoreOnStartup(context.Background()).Kind)
}

func TestRefreshProfile(t *testing.T) {
	h := newHarness(t, &docServer{})

	_, err := h.session.RefreshProfile(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	h.login(t)
	user, err := h.session.RefreshProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, session.Authenticated, h.session.State().Kind)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	h := newHarness(t, &docServer{})
	states, cancel := h.session.Subscribe()
	<-states
	cancel()
	cancel()

	_, open := <-states
	assert.False(t, open)
	h.login(t)
}

func TestSubscribe_SlowSubscriberKeepsLatest(t *testing.T) {
	h := newHarness(t, &docServer{})
	states, cancel := h.session.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		h.login(t)
	}

	var last session.State
	for {
		select {
		case st := <-states:
			last = st
			continue
		default:
		}
		break
	}
	assert.Equal(t, session.Authenticated, last.Kind)
}
