package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// version can be set at link time with -ldflags "-X main.version=...";
// it is empty in a plain go build.
var version = ""

// gitCommit is the hash that the binary was built from; like version it is
// only set at link time with -ldflags "-X main.gitCommit=...".
var gitCommit = ""

const usage = `privileged GC root tracer for a content-addressed package store

findrootsd is the one part of store garbage collection that has to run as
root: resolving indirect roots means reading through arbitrary users' home
directories, and runtime roots live in every process's /proc entries. It
deliberately depends on none of the store machinery.

The daemon listens on a unix socket. Connecting is the request: for every
connection it walks the indirect-root forests under the state directory,
scans /proc for in-use store paths, and streams back one

    <store path>\t<external root>

line per root edge, a blank separator line, and then every dangling root
symlink it crossed, one per line. The unprivileged collector treats the
union as live and may remove the dead links.
`

type daemonConfig struct {
	storeDir   string
	stateDir   string
	socketPath string
}

// newDaemonConfig fills in the one derived default: an unset socket path
// lands under the state directory, so -d moves it along.
func newDaemonConfig(storeDir, stateDir, socketPath string) daemonConfig {
	if socketPath == "" {
		socketPath = filepath.Join(stateDir, "gc-socket", "socket")
	}
	return daemonConfig{
		storeDir:   storeDir,
		stateDir:   stateDir,
		socketPath: socketPath,
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "findrootsd"
	app.Usage = usage
	app.Version = appVersion()

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "enable per-path diagnostic logging on stderr",
		},
		cli.StringFlag{
			Name:  "store_dir, s",
			Value: "/nix/store",
			Usage: "store root directory",
		},
		cli.StringFlag{
			Name:  "state_dir, d",
			Value: "/nix/var/nix",
			Usage: "state directory holding the profiles/ and gcroots/ forests",
		},
		cli.StringFlag{
			Name:  "socket_path, l",
			Usage: "listening socket path (default: <state_dir>/gc-socket/socket)",
		},
	}

	app.Action = func(ctx *cli.Context) error {
		if ctx.NArg() > 0 {
			return errors.New("findrootsd takes no positional arguments")
		}
		if ctx.Bool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return serve(newDaemonConfig(
			ctx.String("store_dir"),
			ctx.String("state_dir"),
			ctx.String("socket_path"),
		))
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func appVersion() string {
	v := version
	if v == "" {
		v = "unknown"
	}
	if gitCommit != "" {
		v += "\ncommit: " + gitCommit
	}
	return v
}
