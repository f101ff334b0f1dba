// Package main provides the entry point for the mirrorsync CLI tool.
package main

import (
	"context"
	"os"
	"time"

	"github.com/agentstation/mirrorsync/cmd/mirrorsync/app"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	application, err := app.New(version, commit, date, builtBy)
	if err != nil {
		app.ExitOnError(err)
	}

	// Create context with signal handling for graceful shutdown
	ctx, cancel := app.ContextWithSignals(context.Background())
	defer cancel()

	err = application.Execute(ctx, os.Args[1:])

	// The signal context may be cancelled already
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
		application.Logger().Error().Err(shutdownErr).Msg("Shutdown error")
	}
	app.ExitOnError(err)
}
