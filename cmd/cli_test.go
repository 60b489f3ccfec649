package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/habedi/docvault/auth"
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/pkg/clierr"
	"github.com/stretchr/testify/assert"
)

// TestCreateRootCmd checks that createRootCmd returns a root command
// with the expected use string, subcommands, and a replaced help command.
func TestCreateRootCmd(t *testing.T) {
	rootCmd := createRootCmd()
	if rootCmd.Use != "docvault" {
		t.Errorf("expected root command use to be 'docvault', got: %s", rootCmd.Use)
	}

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		if c.Use == "help" {
			t.Error("expected help command to be replaced, but found a subcommand with use 'help'")
		}
		names[c.Name()] = true
	}
	for _, want := range []string{"login", "logout", "register", "whoami", "status", "docs", "categories", "bookmarks", "verify", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

// TestExecuteExitCode runs Execute in a subprocess and checks that the error
// type decides the exit status.
func TestExecuteExitCode(t *testing.T) {
	if os.Getenv("TEST_EXECUTE_EXIT_CODE") == "1" {
		os.Args = []string{"docvault", "verify", "/nonexistent/docvault-test-file"}
		Execute()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestExecuteExitCode")
	cmd.Env = append(os.Environ(), "TEST_EXECUTE_EXIT_CODE=1")
	err := cmd.Run()
	var exitError *exec.ExitError
	if !errors.As(err, &exitError) {
		t.Fatalf("expected an exit error, got: %v", err)
	}
	if exitError.ExitCode() != 5 {
		t.Fatalf("expected exit code 5, got %d", exitError.ExitCode())
	}
}

func TestToCLIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want clierr.Type
	}{
		{"invalid credentials", fmt.Errorf("login: %w", client.ErrInvalidCredentials), clierr.Auth},
		{"unauthenticated", client.ErrUnauthenticated, clierr.Auth},
		{"session expired", fmt.Errorf("%w: %w", client.ErrUnauthenticated, auth.ErrSessionExpired), clierr.Auth},
		{"network", fmt.Errorf("%w: dial tcp", client.ErrNetwork), clierr.Network},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), clierr.Network},
		{"not found", fmt.Errorf("fetch: %w", &client.StatusError{Code: 404}), clierr.NotFound},
		{"server error", &client.StatusError{Code: 500}, clierr.Internal},
		{"already mapped", clierr.New(clierr.Validation, "bad", nil), clierr.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *clierr.Error
			if assert.ErrorAs(t, toCLIError(tt.err), &ce) {
				assert.Equal(t, tt.want, ce.Type)
			}
		})
	}
	assert.NoError(t, toCLIError(nil))
}
