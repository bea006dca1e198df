package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pagelift/pagelift/cmd"
	"github.com/pagelift/pagelift/internal/observability"
)

func main() {
	// SIGINT and SIGTERM cancel the command context so captures and the
	// bridge service shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
