package main

import (
	"os"
	"os/signal"

	"github.com/habedi/docvault/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// main is the entry point of the application.
// It sets up logging based on the DEBUG_DOCVAULT environment variable,
// starts a goroutine to listen for interrupt signals, and executes the main command.
func main() {
	configureLogLevelFromEnv()

	stopChan := setupInterruptListener()
	go handleInterrupt(stopChan, func(msg string) { log.Error().Msg(msg) }, os.Exit)

	cmd.Execute()
}

// configureLogLevelFromEnv enables debug logging to stderr when DEBUG_DOCVAULT is set
// to anything other than "", "0" or "false"; otherwise logging is disabled.
func configureLogLevelFromEnv() {
	switch os.Getenv("DEBUG_DOCVAULT") {
	case "", "0", "false":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	return stopChan
}

// handleInterrupt waits for an interrupt and exits with status 1.
func handleInterrupt(stopChan chan os.Signal, logMsg func(string), exit func(int)) {
	<-stopChan
	logMsg("Interrupt signal received. Exiting...")
	exit(1)
}
