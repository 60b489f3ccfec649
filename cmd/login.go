package cmd

import (
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/pkg/clierr"
	"github.com/habedi/docvault/pkg/validation"
	"github.com/habedi/docvault/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// loginCmd creates a new cobra.Command for signing in to DocVault.
func loginCmd(configPath *string) *cobra.Command {
	var identifier string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to DocVault",
		Long:  "Sign in to DocVault with your username or email and password. The session is kept encrypted on this device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			var err error
			if identifier == "" {
				if identifier, err = p.promptForInput("Username or email: "); err != nil {
					return err
				}
			}
			password, err := p.promptForPassword("Password: ")
			if err != nil {
				return err
			}
			if !validateCredentials(identifier, password) {
				return clierr.New(clierr.Validation, "Username and password cannot be empty.", nil)
			}

			return withApp(cmd, *configPath, func(a *app) error {
				if err := a.session.Login(cmd.Context(), identifier, password); err != nil {
					log.Error().Err(err).Msg("Login failed")
					return err
				}
				cmd.Printf("Signed in as %s.\n", displayName(a.session.State().User))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&identifier, "username", "u", "", "Username or email to sign in with (prompted when empty)")

	return cmd
}

// registerCmd creates an account and signs in with it.
func registerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a DocVault account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			var req client.RegisterRequest
			var err error
			if req.Email, err = p.promptForInput("Email: "); err != nil {
				return err
			}
			if err := validation.ValidateEmail(req.Email); err != nil {
				return validationError(err)
			}
			if req.FullName, err = p.promptForInput("Full name: "); err != nil {
				return err
			}
			if req.Username, err = p.promptForInput("Username: "); err != nil {
				return err
			}
			if err := validation.ValidateNonEmptyString("username", req.Username); err != nil {
				return validationError(err)
			}
			if req.Secret, err = p.promptForPassword("Password: "); err != nil {
				return err
			}
			if err := validation.ValidateNonEmptyString("password", req.Secret); err != nil {
				return validationError(err)
			}

			return withApp(cmd, *configPath, func(a *app) error {
				if err := a.session.Register(cmd.Context(), req); err != nil {
					log.Error().Err(err).Msg("Registration failed")
					return err
				}
				cmd.Printf("Account created. Signed in as %s.\n", displayName(a.session.State().User))
				return nil
			})
		},
	}
	return cmd
}

// logoutCmd forgets the stored session.
func logoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				wasSignedIn := a.session.State().Kind != session.Unauthenticated
				if err := a.session.Logout(cmd.Context()); err != nil {
					return err
				}
				if wasSignedIn {
					cmd.Println("Signed out.")
				} else {
					cmd.Println("Not signed in.")
				}
				return nil
			})
		},
	}
}

func displayName(u *client.User) string {
	switch {
	case u == nil:
		return "unknown user"
	case u.Username != "":
		return u.Username
	case u.FullName != "":
		return u.FullName
	default:
		return u.Email
	}
}
