package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/habedi/docvault/auth"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// TokenSource supplies bearer tokens to AuthTransport. *auth.Manager implements it.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, stale string) (string, error)
	Expire(ctx context.Context, reason error)
}

type attempt int

const (
	attemptSent attempt = iota
	attemptRetried
)

// AuthTransport is an http.RoundTripper that authorizes every request with the
// current access token. A 401 triggers one token refresh and one resend; a second
// 401 ends the session.
type AuthTransport struct {
	Tokens TokenSource
	Base   http.RoundTripper
}

func (t *AuthTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	requestID := req.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	token, err := t.Tokens.EnsureValidAccessToken(ctx)
	if err != nil {
		return nil, unauthenticated(err)
	}

	for step := attemptSent; ; step++ {
		out, err := authorize(ctx, req, getBody, token, requestID)
		if err != nil {
			return nil, err
		}

		resp, err := t.base().RoundTrip(out)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		discard(resp)

		switch step {
		case attemptSent:
			log.Warn().Str("request_id", requestID).Str("url", req.URL.Redacted()).
				Msg("Request unauthorized, refreshing token and retrying once")
			token, err = t.Tokens.ForceRefresh(ctx, token)
			if err != nil {
				return nil, unauthenticated(err)
			}
		case attemptRetried:
			log.Warn().Str("request_id", requestID).Str("url", req.URL.Redacted()).
				Msg("Request unauthorized after token refresh, ending session")
			reason := fmt.Errorf("%w: server rejected a freshly refreshed token", auth.ErrSessionExpired)
			t.Tokens.Expire(ctx, reason)
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, reason)
		}
	}
}

// unauthenticated maps a token error to ErrUnauthenticated; cancellation passes through.
func unauthenticated(err error) error {
	if errors.Is(err, auth.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return err
}

// replayableBody returns a function yielding a fresh copy of the request body, or nil when
// the request has none. The original body is always closed.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func authorize(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error), token, requestID string) (*http.Request, error) {
	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	out.Header.Set(requestIDHeader, requestID)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}
	return out, nil
}

// discard drains a small amount of the body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	_ = resp.Body.Close()
}
