package cmd

import (
	"context"
	"errors"

	"github.com/habedi/docvault/auth"
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/pkg/clierr"
)

// toCLIError turns errors from the session and client layers into user-facing
// errors with a stable exit code.
func toCLIError(err error) error {
	if err == nil {
		return nil
	}
	var ce *clierr.Error
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, client.ErrInvalidCredentials):
		return clierr.New(clierr.Auth, "Invalid username or password.", err)
	case errors.Is(err, auth.ErrSessionExpired):
		return clierr.New(clierr.Auth, "Your session has expired. Run 'docvault login' to sign in again.", err)
	case errors.Is(err, client.ErrUnauthenticated):
		return clierr.New(clierr.Auth, "You are not signed in. Run 'docvault login' first.", err)
	case errors.Is(err, client.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return clierr.New(clierr.Network, "Could not reach the server. Check your connection and try again.", err)
	case client.IsNotFound(err):
		return clierr.New(clierr.NotFound, "The requested item was not found.", err)
	}
	return clierr.New(clierr.Internal, err.Error(), err)
}

func validationError(err error) error {
	return clierr.New(clierr.Validation, err.Error(), err)
}
