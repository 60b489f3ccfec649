package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/habedi/docvault/auth"
	"github.com/habedi/docvault/client"
	"github.com/habedi/docvault/config"
	"github.com/habedi/docvault/db"
	"github.com/habedi/docvault/pkg/clierr"
	"github.com/habedi/docvault/session"
	"github.com/habedi/docvault/vault"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds everything a command needs once the stored session is restored.
type app struct {
	cfg     *config.Config
	tokens  *auth.Manager
	api     *client.API
	session *session.Session

	notices     io.Writer
	unsubscribe func()
	watchDone   chan struct{}
	signedOut   bool
}

// openApp loads the configuration, opens the credential store and restores the
// session from it. A forced sign-out seen while the app is open is reported on
// notices when it closes.
func openApp(ctx context.Context, configPath string, notices io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, clierr.New(clierr.Validation, fmt.Sprintf("Invalid configuration: %v", err), err)
	}

	db.Path = cfg.DBPath
	if err := db.InitDB(); err != nil {
		return nil, clierr.New(clierr.Internal, "Failed to open the local database.", err)
	}

	store := openVault(ctx, cfg)
	authClient := client.NewAuthClient(cfg.BaseURL, cfg.RequestTimeout)
	tokens := auth.NewManager(auth.NewVaultStorer(store), authClient,
		auth.WithExpirySkew(cfg.ExpirySkew),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithRefreshTimeout(cfg.RequestTimeout),
	)
	api := client.NewAPI(cfg.BaseURL, tokens, cfg.RequestTimeout, client.NewRateLimiter(cfg.DownloadRate))
	sess := session.New(tokens, authClient, api, store, session.WithRevokeOnLogout(cfg.RevokeOnLogout))

	a := &app{cfg: cfg, tokens: tokens, api: api, session: sess}
	st := sess.RestoreOnStartup(ctx)
	log.Debug().Stringer("state", st).Msg("Session restored")
	a.watch(notices)
	return a, nil
}

// openVault opens the encrypted store. Without a usable secret the session
// lives in memory only and is lost when the command exits.
func openVault(ctx context.Context, cfg *config.Config) *vault.Store {
	secret := []byte(cfg.Passphrase)
	if len(secret) == 0 {
		key, err := vault.LoadOrCreateKey(cfg.KeyFile)
		if err != nil {
			log.Warn().Err(err).Msg("Device key unavailable, session will not be saved")
			return &vault.Store{}
		}
		secret = key
	}
	store, err := vault.Open(ctx, db.NewCredentialRepository(db.GetDB()), secret)
	if err != nil {
		log.Warn().Err(err).Msg("Credential store unavailable, session will not be saved")
		return &vault.Store{}
	}
	return store
}

// watch records a session that ends on its own, e.g. a refresh token rejected
// mid-command. Close reports it.
func (a *app) watch(notices io.Writer) {
	states, cancel := a.session.Subscribe()
	a.notices = notices
	a.unsubscribe = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		for st := range states {
			if st.Kind == session.RefreshFailed {
				log.Debug().Err(st.Reason).Msg("Forced sign-out observed")
				a.signedOut = true
			}
		}
	}()
}

// requireSignedIn fails unless the restored session is usable.
func (a *app) requireSignedIn() error {
	if a.session.State().Kind != session.Authenticated {
		return toCLIError(client.ErrUnauthenticated)
	}
	return nil
}

func (a *app) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		<-a.watchDone
		if a.signedOut {
			fmt.Fprintln(a.notices, "You have been signed out: your session expired. Run 'docvault login' to sign in again.")
		}
	}
	if err := db.CloseDB(); err != nil {
		log.Error().Err(err).Msg("Failed to close the database.")
	}
}

// withApp runs fn with an open app and maps its error for the user.
func withApp(cmd *cobra.Command, configPath string, fn func(a *app) error) error {
	a, err := openApp(cmd.Context(), configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return toCLIError(fn(a))
}

// withSignedIn is withApp for commands that need a session.
func withSignedIn(cmd *cobra.Command, configPath string, fn func(a *app) error) error {
	return withApp(cmd, configPath, func(a *app) error {
		if err := a.requireSignedIn(); err != nil {
			return err
		}
		return fn(a)
	})
}
