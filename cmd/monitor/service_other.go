//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func runService(run func(ctx context.Context, interactive bool) error) error {
	return runInteractive(run)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
