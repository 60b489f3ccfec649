package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/docvault/auth"
	"github.com/rs/zerolog/log"
)

// AuthClient talks to the unauthenticated /auth endpoints. It implements auth.TokenRefresher.
type AuthClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// LoginResult is a token grant plus the profile, when the server includes one.
type LoginResult struct {
	Grant auth.Grant
	User  *User
}

// NewAuthClient returns an AuthClient whose requests time out after timeout.
func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	return &AuthClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Login exchanges an identifier and secret for a token grant.
func (c *AuthClient) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	payload := map[string]string{"identifier": identifier, "secret": secret}
	var resp tokenResponse
	if err := c.postJSON(ctx, "/auth/login", payload, &resp, credentialStatus); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response has no access token", ErrNetwork)
	}
	log.Info().Msg("Login accepted by server")
	return &LoginResult{Grant: resp.grant(), User: resp.User}, nil
}

// Register creates an account. Servers that sign the user in right away return a grant;
// otherwise Grant.AccessToken is empty.
func (c *AuthClient) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	var resp tokenResponse
	if err := c.postJSON(ctx, "/auth/register", req, &resp, credentialStatus); err != nil {
		return nil, err
	}
	log.Info().Str("username", req.Username).Msg("Account registered")
	return &LoginResult{Grant: resp.grant(), User: resp.User}, nil
}

// RefreshTokens exchanges a refresh token for a new grant. Any non-2xx status is a rejection.
func (c *AuthClient) RefreshTokens(ctx context.Context, refreshToken string) (*auth.Grant, error) {
	payload := map[string]string{"refreshToken": refreshToken}
	var resp tokenResponse
	err := c.postJSON(ctx, "/auth/refresh", payload, &resp, func(code int, msg string) error {
		return fmt.Errorf("token refresh failed with status %d: %s", code, msg)
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token refresh response has no access token")
	}
	g := resp.grant()
	return &g, nil
}

// Revoke asks the server to invalidate refreshToken.
func (c *AuthClient) Revoke(ctx context.Context, refreshToken string) error {
	payload := map[string]string{"refreshToken": refreshToken}
	return c.postJSON(ctx, "/auth/logout", payload, nil, func(code int, msg string) error {
		return fmt.Errorf("logout failed with status %d: %s", code, msg)
	})
}

// credentialStatus maps the statuses of login and register.
func credentialStatus(code int, msg string) error {
	switch {
	case code == http.StatusBadRequest, code == http.StatusUnauthorized,
		code == http.StatusForbidden, code == http.StatusUnprocessableEntity:
		if msg == "" {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case code >= 500:
		return fmt.Errorf("%w: server returned %d", ErrNetwork, code)
	default:
		return fmt.Errorf("unexpected HTTP status %d: %s", code, msg)
	}
}

func (c *AuthClient) postJSON(ctx context.Context, path string, payload, out any, onStatus func(int, string) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log.Debug().Str("path", path).Msg("Sending auth request")
	resp, err := httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Auth request failed")
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("Auth request rejected")
		return onStatus(resp.StatusCode, e.text())
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response of %s: %w", path, err)
	}
	return nil
}

func (r tokenResponse) grant() auth.Grant {
	return auth.Grant{
		AccessToken:      r.AccessToken,
		RefreshToken:     r.RefreshToken,
		ExpiresIn:        r.ExpiresIn,
		RefreshExpiresIn: r.RefreshExpiresIn,
	}
}
