package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// interruptContexts returns a stop context cancelled by the first interrupt and an abort
// context cancelled by the second. The cell in progress runs under abort, so one Ctrl+C
// lets it finish before the session ends.
func interruptContexts(parent context.Context, w io.Writer) (stop, abort context.Context, release func()) {
	stop, stopCancel := context.WithCancel(parent)
	abort, abortCancel := context.WithCancel(context.WithoutCancel(parent))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(w, "\nStop requested: finishing the current cell. Press Ctrl+C again to abort it.")
			stopCancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(w, "\nAborting: switching the output off.")
			abortCancel()
		case <-done:
		}
	}()

	release = func() {
		signal.Stop(sigCh)
		close(done)
		stopCancel()
		abortCancel()
	}
	return stop, abort, release
}
