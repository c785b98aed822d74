package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/krau/sketchline/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cmd.NewCLI().ExecuteContext(ctx); err != nil {
		slog.Error("sketchline failed", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}
}
