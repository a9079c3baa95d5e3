package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mammo-deid/internal/cli"
)

func main() {
	// Interrupting stops new records; the ones in flight finish and the
	// summary of the partial run is still written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
