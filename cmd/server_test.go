package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/habedi/docvault/db"
)

const testFileContent = "quarterly figures"

// fakeServer is a minimal DocVault API with one user, alice/secret.
type fakeServer struct {
	mu            sync.Mutex
	issued        int
	access        map[string]bool
	refresh       map[string]bool
	rejectRefresh bool
	logins        int
	refreshes     int
	revokes       int
}

func newFakeServer() *fakeServer {
	return &fakeServer{access: map[string]bool{}, refresh: map[string]bool{}}
}

func (s *fakeServer) issueLocked() map[string]any {
	s.issued++
	a := fmt.Sprintf("access-%d", s.issued)
	r := fmt.Sprintf("refresh-%d", s.issued)
	s.access[a] = true
	s.refresh[r] = true
	return map[string]any{
		"accessToken":      a,
		"refreshToken":     r,
		"expiresIn":        3600,
		"refreshExpiresIn": 86400,
	}
}

// invalidateAccess makes the server reject every access token issued so far.
func (s *fakeServer) invalidateAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = map[string]bool{}
}

func (s *fakeServer) setRejectRefresh(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectRefresh = v
}

func (s *fakeServer) counts() (logins, refreshes, revokes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins, s.refreshes, s.revokes
}

var alice = map[string]any{
	"id":           "u1",
	"email":        "alice@example.com",
	"fullName":     "Alice Archer",
	"username":     "alice",
	"role":         "member",
	"storageUsed":  512 * 1024,
	"storageQuota": 1024 * 1024,
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) map[string]string {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

// router serializes every request on s.mu and registers the API routes.
func (s *fakeServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			defer s.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/auth/account", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"user": alice})
		})
		r.Get("/documents", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []any{testDocument()})
		})
		r.Get("/documents/{id}", withDocument(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, testDocument())
		}))
		r.Delete("/documents/{id}", withDocument(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		r.Get("/documents/{id}/file", withDocument(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(testFileContent))
		}))
		r.Get("/categories", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []any{map[string]any{"id": "c1", "name": "Finance", "documentCount": 1}})
		})
		r.Get("/bookmarks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []any{map[string]any{"id": "b1", "documentId": "d1", "createdAt": "2026-03-02T10:00:00Z"}})
		})
		r.Post("/bookmarks", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": "b2", "documentId": readBody(req)["documentId"]})
		})
	})
	return r
}

func (s *fakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins++
	body := readBody(r)
	if body["identifier"] != "alice" || body["secret"] != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "wrong username or password"})
		return
	}
	resp := s.issueLocked()
	resp["user"] = alice
	writeJSON(w, http.StatusOK, resp)
}

func (s *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes++
	token := readBody(r)["refreshToken"]
	if s.rejectRefresh || !s.refresh[token] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token revoked"})
		return
	}
	delete(s.refresh, token)
	writeJSON(w, http.StatusOK, s.issueLocked())
}

func (s *fakeServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.revokes++
	delete(s.refresh, readBody(r)["refreshToken"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeServer) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.access[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")] {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withDocument answers 404 for every document except d1.
func withDocument(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "d1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			return
		}
		h(w, r)
	}
}

func testDocument() map[string]any {
	sum := sha256.Sum256([]byte(testFileContent))
	return map[string]any{
		"id":        "d1",
		"title":     "Quarterly Report",
		"fileName":  "report.txt",
		"size":      len(testFileContent),
		"checksum":  "sha256:" + hex.EncodeToString(sum[:]),
		"updatedAt": "2026-03-01T10:00:00Z",
	}
}

// setupEnv points the CLI at srv and at a private database and key file.
func setupEnv(t *testing.T, srv *fakeServer) string {
	t.Helper()
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	t.Setenv("DOCVAULT_CONFIG", "")
	t.Setenv("DOCVAULT_BASE_URL", ts.URL)
	t.Setenv("DOCVAULT_DB_PATH", filepath.Join(dir, "session.db"))
	t.Setenv("DOCVAULT_KEY_FILE", filepath.Join(dir, "vault.key"))
	t.Setenv("DOCVAULT_PASSPHRASE", "")

	oldPath := db.Path
	t.Cleanup(func() { db.Path = oldPath })
	return dir
}

// runCLI executes a fresh root command, as a new process would.
func runCLI(stdin string, args ...string) (string, error) {
	root := createRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
