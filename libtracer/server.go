package libtracer

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nix-community/findrootsd/libtracer/storepath"
)

// Config is the immutable process-wide configuration of the daemon.
type Config struct {
	Store      *storepath.Store
	StateDir   string
	SocketPath string
	// ProcDir overrides the procfs mount point for the runtime scanner;
	// empty means /proc.
	ProcDir string
}

// StandardRoots returns the starting set for the filesystem trace: the two
// well-known forests of indirect roots under the state directory.
func (c *Config) StandardRoots() []string {
	return []string{
		filepath.Join(c.StateDir, "profiles"),
		filepath.Join(c.StateDir, "gcroots"),
	}
}

// Server owns the listening socket and serves one root report per
// connection. Connections are handled strictly serially; no state survives
// between requests.
type Server struct {
	cfg Config
	ln  net.Listener
}

// NewServer returns an unbound server for cfg.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// socketMode restricts connections to the socket owner and group; the
// filesystem permissions are the trust boundary.
const socketMode = 0o660

// Listen creates the unix socket: remove a stale socket file, bind, and
// restrict the mode before the first client can connect.
func (s *Server) Listen() error {
	path := s.cfg.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	// The socket file is created already restricted, so that no client can
	// connect in the window between listen and the explicit chmod below.
	oldMask := unix.Umask(0o777 &^ socketMode)
	ln, err := listenUnix(path)
	unix.Umask(oldMask)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", path, err)
	}
	// The socket file is unlinked explicitly in Close, under its real
	// path; the listener must not try again under a possibly stale one.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	if err := os.Chmod(path, socketMode); err != nil {
		ln.Close()
		os.Remove(path)
		return fmt.Errorf("restricting mode of %s: %w", path, err)
	}
	s.ln = ln
	return nil
}

// sunPathMax is the size of sockaddr_un.sun_path on Linux, including the
// terminating NUL.
var sunPathMax = len(unix.RawSockaddrUnix{}.Path)

// listenUnix binds a stream socket at path. A path that does not fit in
// sun_path cannot be bound directly; it is bound through an O_PATH handle
// on its parent directory instead, which keeps the address passed to the
// kernel short while the socket file still appears at path.
func listenUnix(path string) (net.Listener, error) {
	if len(path) < sunPathMax {
		return net.Listen("unix", path)
	}
	dir, base := filepath.Split(path)
	dirFd, err := unix.Open(dir, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening socket directory %s: %w", dir, err)
	}
	defer unix.Close(dirFd)
	return net.Listen("unix", fmt.Sprintf("/proc/self/fd/%d/%s", dirFd, base))
}

// Serve accepts connections one at a time until the listener is closed.
// Per-request failures are logged and never poison the accept loop.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.serveConn(conn)
	}
}

// serveConn performs one full scan and streams the report. The connection
// is the request; there is no request body.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	start := time.Now()

	tracer := &Tracer{Store: s.cfg.Store}
	res := tracer.Trace(s.cfg.StandardRoots())

	scanner := &RuntimeScanner{Store: s.cfg.Store, ProcDir: s.cfg.ProcDir}
	runtimeRoots, err := scanner.Scan()
	if err != nil {
		// Closing without the separator tells the client the scan is
		// unusable.
		logrus.Errorf("runtime root scan failed: %v", err)
		return
	}
	res.Roots.Merge(runtimeRoots)

	if err := WriteReport(conn, res); err != nil {
		logrus.Warnf("sending root report: %v", err)
		return
	}
	logrus.Infof("served %d root edges and %d dead links in %s",
		res.Roots.Edges(), len(res.DeadLinks),
		units.HumanDuration(time.Since(start)))
}

// Close stops the accept loop and removes the socket file. It is safe to
// call more than once.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
