package main

import (
	"fmt"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/moby/sys/mountinfo"
	"github.com/moby/sys/userns"
	"github.com/sirupsen/logrus"

	"github.com/nix-community/findrootsd/libtracer"
	"github.com/nix-community/findrootsd/libtracer/capabilities"
	"github.com/nix-community/findrootsd/libtracer/storepath"
)

// serve runs the daemon until a termination signal closes the listener.
// Everything that can fail permanently fails here, before the first accept.
func serve(cfg daemonConfig) error {
	store, err := storepath.New(cfg.storeDir)
	if err != nil {
		return fmt.Errorf("invalid store directory: %w", err)
	}

	if userns.RunningInUserNS() {
		logrus.Warn("running inside a user namespace; runtime roots of other users' processes may be missed")
	}
	if mounted, err := mountinfo.Mounted(cfg.storeDir); err == nil && !mounted {
		logrus.Debugf("store %s is not a dedicated mount", cfg.storeDir)
	}

	srv := libtracer.NewServer(libtracer.Config{
		Store:      store,
		StateDir:   cfg.stateDir,
		SocketPath: cfg.socketPath,
	})
	if err := srv.Listen(); err != nil {
		return err
	}
	handleSignals(srv)

	// The socket is bound and chmodded; nothing past this point needs more
	// than reading other users' files and /proc entries.
	if err := capabilities.Bound(); err != nil {
		logrus.Warnf("cannot bound capabilities: %v", err)
	}

	if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		logrus.Debugf("sd_notify: %v", err)
	}
	logrus.Infof("listening on %s (store %s, state %s)", cfg.socketPath, cfg.storeDir, cfg.stateDir)

	err = srv.Serve()
	_, _ = systemd.SdNotify(false, systemd.SdNotifyStopping)
	if cerr := srv.Close(); err == nil {
		err = cerr
	}
	return err
}
