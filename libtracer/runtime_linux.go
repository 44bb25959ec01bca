package libtracer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nix-community/findrootsd/libtracer/storepath"
)

// mapsLineRegexp extracts the pathname column of one /proc/<pid>/maps line:
// five fixed fields, then an optional absolute path.
var mapsLineRegexp = regexp.MustCompile(`^\s*\S+\s+\S+\s+\S+\s+\S+\s+\S+\s+(/\S+)\s*$`)

// kernelConfigFiles are procfs files whose content may name a store path
// the kernel will exec on its own (mostly relevant on systems whose whole
// userland lives in the store). Missing ones are skipped silently.
var kernelConfigFiles = []string{
	"sys/kernel/modprobe",
	"sys/kernel/fbsplash",
	"sys/kernel/poweroff_cmd",
}

// RuntimeScanner discovers store references that are live only because a
// running process or the kernel configuration is using them right now.
type RuntimeScanner struct {
	Store *storepath.Store
	// ProcDir overrides the procfs mount point; empty means /proc.
	ProcDir string
}

func (s *RuntimeScanner) procDir() string {
	if s.ProcDir == "" {
		return "/proc"
	}
	return s.ProcDir
}

// Scan walks every process directory under procfs plus the kernel
// configuration files. Races with exiting processes and hardened pid
// directories are benign; any other I/O error fails the whole scan, since
// a partial answer here would let the collector delete an in-use object.
func (s *RuntimeScanner) Scan() (Roots, error) {
	roots := make(Roots)
	proc := s.procDir()
	entries, err := os.ReadDir(proc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.Debugf("%s does not exist, skipping runtime roots", proc)
			return roots, nil
		}
		return nil, fmt.Errorf("listing %s: %w", proc, err)
	}
	for _, ent := range entries {
		if !ent.IsDir() || !isAllDigits(ent.Name()) {
			continue
		}
		if err := s.scanProcess(roots, filepath.Join(proc, ent.Name())); err != nil {
			return nil, err
		}
	}
	for _, rel := range kernelConfigFiles {
		if err := s.scanFileContent(roots, filepath.Join(proc, rel)); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// scanProcess collects the store references of one process: the executable
// and cwd links, every open file descriptor, the environment blob, and the
// memory map.
func (s *RuntimeScanner) scanProcess(roots Roots, pidDir string) error {
	logrus.Debugf("considering %s", pidDir)

	links := []string{
		filepath.Join(pidDir, "exe"),
		filepath.Join(pidDir, "cwd"),
	}
	fdDir := filepath.Join(pidDir, "fd")
	fds, err := os.ReadDir(fdDir)
	if err != nil && !benignProcError(err) {
		return fmt.Errorf("listing %s: %w", fdDir, err)
	}
	for _, fd := range fds {
		links = append(links, filepath.Join(fdDir, fd.Name()))
	}

	for _, link := range links {
		target, err := os.Readlink(link)
		if err != nil {
			if !benignProcError(err) {
				return fmt.Errorf("reading link %s: %w", link, err)
			}
			logrus.Debugf("cannot read %s: %v", link, err)
			continue
		}
		if obj, ok := s.Store.ObjectOf(target); ok {
			roots.Add(obj, link)
		}
	}

	if err := s.scanFileContent(roots, filepath.Join(pidDir, "environ")); err != nil {
		return err
	}
	return s.scanMapsFile(roots, filepath.Join(pidDir, "maps"))
}

// scanFileContent records every store path occurring anywhere in the file,
// with the file itself as the root.
func (s *RuntimeScanner) scanFileContent(roots Roots, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if benignProcError(err) {
			logrus.Debugf("cannot read %s: %v", path, err)
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for _, match := range s.Store.PathRegexp().FindAllString(string(content), -1) {
		roots.Add(match, path)
	}
	return nil
}

// scanMapsFile records every mapped store path, with the maps file as the
// root. Unlike scanFileContent this goes through the documented line format
// so that only the pathname column is considered.
func (s *RuntimeScanner) scanMapsFile(roots Roots, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if benignProcError(err) {
			logrus.Debugf("cannot read %s: %v", path, err)
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		m := mapsLineRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if obj, ok := s.Store.ObjectOf(m[1]); ok {
			roots.Add(obj, path)
		}
	}
	return nil
}

// benignProcError reports whether err is an expected race or hardening
// artifact under /proc: the process exited between listing and inspection,
// or a container hides the entry from us.
func benignProcError(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, unix.ESRCH)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
