package cmd

import (
	"time"

	"github.com/habedi/docvault/pkg/operations"
	"github.com/habedi/docvault/session"
	"github.com/spf13/cobra"
)

// whoamiCmd shows the profile of the signed-in user.
func whoamiCmd(configPath *string) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignedIn(cmd, *configPath, func(a *app) error {
				user := a.session.State().User
				if refresh {
					var err error
					if user, err = a.session.RefreshProfile(cmd.Context()); err != nil {
						return err
					}
				}
				cmd.Printf("Username: %s\n", user.Username)
				cmd.Printf("Name: %s\n", user.FullName)
				cmd.Printf("Email: %s\n", user.Email)
				if user.Role != "" {
					cmd.Printf("Role: %s\n", user.Role)
				}
				cmd.Printf("Storage: %s\n", operations.StorageSummary(user))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Reload the profile from the server")

	return cmd
}

// statusCmd shows the session state without contacting the server.
func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				st := a.session.State()
				cmd.Printf("Session: %s\n", st.Kind)
				cmd.Printf("Server: %s\n", a.cfg.BaseURL)
				if st.Kind != session.Authenticated {
					return nil
				}
				cmd.Printf("User: %s\n", displayName(st.User))
				if pair, ok := a.tokens.CurrentTokens(cmd.Context()); ok {
					now := a.tokens.Now()
					cmd.Printf("Access token: %s\n", describeExpiry(pair.AccessExpiresAt, now))
					cmd.Printf("Refresh token: %s\n", describeExpiry(pair.RefreshExpiresAt, now))
				}
				return nil
			})
		},
	}
}

func describeExpiry(at, now time.Time) string {
	if !now.Before(at) {
		return "expired at " + at.Local().Format(time.RFC1123)
	}
	return "valid until " + at.Local().Format(time.RFC1123) + " (" + at.Sub(now).Round(time.Second).String() + " left)"
}
