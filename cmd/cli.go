package cmd

import (
	"os"

	"github.com/habedi/docvault/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Execute() {
	rootCmd := createRootCmd()
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command execution failed.")
		rootCmd.PrintErrln("Error:", err)
		os.Exit(clierr.ExitCode(err))
	}
}

func createRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docvault",
		Short:         "A command-line client for the DocVault document service",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (default: environment only)")

	rootCmd.AddCommand(
		loginCmd(&configPath),
		registerCmd(&configPath),
		logoutCmd(&configPath),
		whoamiCmd(&configPath),
		statusCmd(&configPath),
		docsCmd(&configPath),
		categoriesCmd(&configPath),
		bookmarksCmd(&configPath),
		verifyCmd(),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}
