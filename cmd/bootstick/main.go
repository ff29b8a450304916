package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/larsks/bootstick/internal/cli"
	"github.com/larsks/bootstick/internal/failure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp()
	if err := app.NewRootCommand().ExecuteContext(ctx); err != nil {
		if kind := failure.Kind(err); kind != nil {
			fmt.Fprintf(os.Stderr, "Error (%v): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
