// Command feed-refresh verifies every enrollment record in a directory,
// reauthorizes stale ones through a local browser callback and merges the
// resulting feeds into the shared registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
