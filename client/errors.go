package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the request could not be authorized and the user must sign in again.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials means the server rejected the identifier/secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork covers transport failures and server-side errors of the auth endpoints.
	ErrNetwork = errors.New("network error")
)

// StatusError is returned for non-2xx responses that have no more specific meaning.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected HTTP status: %d %s. Body: %s",
		e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
