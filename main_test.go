package main

import "testing"

func TestNewDaemonConfigDefaultSocketPath(t *testing.T) {
	cfg := newDaemonConfig("/nix/store", "/nix/var/nix", "")
	if cfg.socketPath != "/nix/var/nix/gc-socket/socket" {
		t.Errorf("default socket path = %q", cfg.socketPath)
	}

	cfg = newDaemonConfig("/nix/store", "/srv/state", "")
	if cfg.socketPath != "/srv/state/gc-socket/socket" {
		t.Errorf("socket path does not follow the state dir: %q", cfg.socketPath)
	}

	cfg = newDaemonConfig("/nix/store", "/srv/state", "/run/gc.sock")
	if cfg.socketPath != "/run/gc.sock" {
		t.Errorf("explicit socket path overridden: %q", cfg.socketPath)
	}
}

func TestAppVersion(t *testing.T) {
	if appVersion() == "" {
		t.Error("version string is empty")
	}
}
