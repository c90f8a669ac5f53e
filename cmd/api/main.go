// Command api serves the value-movement HTTP API and runs the settlement sweeper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayo6706/value-core/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "value-core: %v\n", err)
		os.Exit(1)
	}
}
