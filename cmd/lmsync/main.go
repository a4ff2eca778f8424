package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lmsync/lmsync/cmd/lmsync/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const exitInterrupted = 130

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		log.Warn().Msg("Interrupted")
		os.Exit(exitInterrupted)
	}

	log.Error().Err(err).Msg("Command failed")
	os.Exit(1)
}
