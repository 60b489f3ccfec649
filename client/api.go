package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// retryBackoff is the pause before a GET that failed with 5xx is sent again.
var retryBackoff = time.Second

// API is the document service client. Every request goes through AuthTransport.
type API struct {
	BaseURL    string
	HTTPClient *http.Client
	// Downloads uses the same transport without an overall timeout; the caller's context bounds it.
	Downloads *http.Client
	Limiter   *RateLimiter
}

// NewAPI builds an API client authorized by tokens.
func NewAPI(baseURL string, tokens TokenSource, timeout time.Duration, limiter *RateLimiter) *API {
	transport := &AuthTransport{Tokens: tokens, Base: http.DefaultTransport}
	return &API{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Transport: transport, Timeout: timeout},
		Downloads:  &http.Client{Transport: transport},
		Limiter:    limiter,
	}
}

// Account fetches the profile of the signed-in user.
func (a *API) Account(ctx context.Context) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	if err := a.getJSON(ctx, "/auth/account", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	if resp.User == nil {
		return nil, fmt.Errorf("account response has no user")
	}
	return resp.User, nil
}

// ListDocuments returns the documents matching query; an empty query lists all of them.
func (a *API) ListDocuments(ctx context.Context, query string) ([]Document, error) {
	path := "/documents"
	if query != "" {
		path += "?" + url.Values{"q": {query}}.Encode()
	}
	var docs []Document
	if err := a.getJSON(ctx, path, &docs); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	log.Info().Int("count", len(docs)).Msg("Fetched documents")
	return docs, nil
}

// GetDocument fetches the metadata of one document.
func (a *API) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := a.getJSON(ctx, "/documents/"+url.PathEscape(id), &doc); err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	return &doc, nil
}

// DeleteDocument removes a document.
func (a *API) DeleteDocument(ctx context.Context, id string) error {
	req, err := a.newRequest(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := sendRequest(a.HTTPClient, req)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	discard(resp)
	log.Info().Str("document", id).Msg("Document deleted")
	return nil
}

// DownloadDocument streams the file of a document into w, throttled by the limiter.
func (a *API) DownloadDocument(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/documents/"+url.PathEscape(id)+"/file", nil)
	if err != nil {
		return 0, err
	}
	resp, err := sendRequest(a.Downloads, req)
	if err != nil {
		return 0, fmt.Errorf("failed to download document %s: %w", id, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, a.Limiter.Reader(resp.Body))
	if err != nil {
		return n, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	log.Info().Str("document", id).Int64("bytes", n).Msg("Document downloaded")
	return n, nil
}

// ListCategories returns all categories.
func (a *API) ListCategories(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := a.getJSON(ctx, "/categories", &cats); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

// ListBookmarks returns the bookmarks of the signed-in user.
func (a *API) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	var marks []Bookmark
	if err := a.getJSON(ctx, "/bookmarks", &marks); err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	return marks, nil
}

// AddBookmark bookmarks a document.
func (a *API) AddBookmark(ctx context.Context, documentID string) (*Bookmark, error) {
	body, err := json.Marshal(map[string]string{"documentId": documentID})
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(ctx, http.MethodPost, "/bookmarks", body)
	if err != nil {
		return nil, err
	}
	resp, err := sendRequest(a.HTTPClient, req)
	if err != nil {
		return nil, fmt.Errorf("failed to add bookmark: %w", err)
	}
	var mark Bookmark
	if err := decodeBody(resp, &mark); err != nil {
		return nil, err
	}
	return &mark, nil
}

func (a *API) getJSON(ctx context.Context, path string, out any) error {
	req, err := a.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := sendRequest(a.HTTPClient, req)
	if err != nil {
		return err
	}
	return decodeBody(resp, out)
}

func (a *API) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, r)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("path", path).Msg("Failed to create HTTP request object")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// sendRequest sends req and checks the status. A GET answered with 5xx is retried once.
func sendRequest(c *http.Client, req *http.Request) (*http.Response, error) {
	for try := 0; ; try++ {
		log.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("Sending HTTP request")
		resp, err := c.Do(req)
		if err != nil {
			log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("HTTP request failed")
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		if resp.StatusCode >= 500 && req.Method == http.MethodGet && try == 0 {
			log.Warn().Str("url", req.URL.Redacted()).Int("status", resp.StatusCode).Msg("Server error, retrying once")
			select {
			case <-time.After(retryBackoff):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			continue
		}

		log.Error().Str("method", req.Method).Str("url", req.URL.Redacted()).Int("status", resp.StatusCode).
			Msg("HTTP request returned non-OK status")
		return nil, &StatusError{Method: req.Method, URL: req.URL.Redacted(), Code: resp.StatusCode, Body: string(bodyBytes)}
	}
}

// decodeBody reads and closes the response body.
func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("url", resp.Request.URL.Redacted()).Msg("Failed to read response body")
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.Error().Err(err).Str("body_preview", string(body[:min(len(body), 200)])).Msg("Failed to parse response JSON")
		return err
	}
	return nil
}
