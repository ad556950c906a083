// Package oximake holds the handful of definitions shared between the build
// engine packages under internal/ and the oximake command.
package oximake

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ManifestName is the file name of an oximake project manifest.
const ManifestName = "build.toml"

// MaxJobs caps the worker count derived from the CPU count. Explicit -jobs
// values are not capped.
const MaxJobs = 64

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM).
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
