package main

import (
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nix-community/findrootsd/libtracer"
)

// handleSignals arranges an orderly shutdown on the termination signals and
// ignores the ones a long-running daemon must survive: SIGPIPE because
// clients may disconnect mid-response, SIGWINCH because the daemon may be
// started from a terminal.
func handleSignals(srv *libtracer.Server) {
	signal.Ignore(unix.SIGPIPE, unix.SIGWINCH)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	go func() {
		sig := <-sigCh
		logrus.Infof("received %s, shutting down", sig)
		if err := srv.Close(); err != nil {
			logrus.Warnf("closing listener: %v", err)
		}
	}()
}
