package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesleyorama2/cacheload/internal/cli"
)

// Main is the entry point for the application
// It's exported to make it testable
func Main() int {
	// The first interrupt ends the schedules and lets in-flight iterations
	// drain; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()
	return cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func main() {
	os.Exit(Main())
}
