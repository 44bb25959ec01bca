package libtracer

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nix-community/findrootsd/libtracer/storepath"
)

// maxSymlinkHops bounds how many symbolic links one root chain may resolve.
// An indirect root is conventionally a link into user space whose target
// links into the store, so two hops cover the documented indirection;
// anything longer is treated as not a root at all rather than giving user
// trees an unbounded traversal budget.
const maxSymlinkHops = 2

// Tracer walks filesystem trees looking for references into a store.
// Individual path failures are expected (the trees under the state
// directory point into arbitrary users' homes) and never abort a trace.
type Tracer struct {
	Store *storepath.Store
}

// Trace follows every starting path and accumulates all store objects
// reached and all dangling symlinks observed.
func (t *Tracer) Trace(paths []string) *Result {
	res := NewResult()
	for _, p := range paths {
		t.follow(res, p, maxSymlinkHops, "")
	}
	return res
}

// follow inspects one path without following a final symlink and dispatches
// on its type. hopsLeft is the number of symlink resolutions still allowed
// on this branch. via is the external root credited if the branch reaches
// the store; empty means the current path credits itself.
func (t *Tracer) follow(res *Result, path string, hopsLeft int, via string) {
	logrus.Debugf("considering %s", path)
	fi, err := os.Lstat(path)
	if err != nil {
		logrus.Debugf("cannot stat %s: %v", path, err)
		return
	}
	t.dispatch(res, path, fi, hopsLeft, via)
}

func (t *Tracer) dispatch(res *Result, path string, fi os.FileInfo, hopsLeft int, via string) {
	switch {
	case fi.IsDir():
		// Directory descent is free: only symlink resolution consumes
		// the hop budget. Cycles through directories cannot occur since
		// entries are inspected by lstat and links are never followed
		// implicitly.
		entries, err := os.ReadDir(path)
		if err != nil {
			logrus.Debugf("cannot read directory %s: %v", path, err)
			return
		}
		for _, ent := range entries {
			t.follow(res, filepath.Join(path, ent.Name()), hopsLeft, via)
		}
	case fi.Mode()&os.ModeSymlink != 0:
		t.followLink(res, path, hopsLeft, via)
	case fi.Mode().IsRegular():
		// Roots kept as hardlinks or plain copies carry the object name
		// in their basename. The probe is an existence check against
		// the store; the file content is not scanned.
		root := via
		if root == "" {
			root = path
		}
		obj, err := t.Store.ObjectPath(filepath.Base(path))
		if err != nil {
			return
		}
		if _, err := os.Lstat(obj); err == nil {
			res.Roots.Add(obj, root)
		}
	default:
		// Sockets, devices and fifos cannot be roots.
	}
}

// followLink resolves one symlink non-recursively and classifies the
// target: dangling targets become dead links, store targets become root
// edges, and anything else is traced further with one hop spent.
func (t *Tracer) followLink(res *Result, link string, hopsLeft int, via string) {
	if hopsLeft <= 0 {
		logrus.Debugf("symlink budget exhausted at %s", link)
		return
	}
	target, err := os.Readlink(link)
	if err != nil {
		logrus.Debugf("cannot read symlink %s: %v", link, err)
		res.AddDeadLink(link)
		return
	}
	if filepath.IsAbs(target) {
		target = filepath.Clean(target)
	} else {
		target = filepath.Join(filepath.Dir(link), target)
	}

	root := via
	if root == "" {
		root = link
	}

	fi, err := os.Lstat(target)
	if err != nil {
		logrus.Debugf("dead link %s -> %s: %v", link, target, err)
		res.AddDeadLink(link)
		return
	}
	if t.Store.Contains(target) {
		// Inside the store the target is a leaf, never traversed further.
		if obj, ok := t.Store.ObjectOf(target); ok {
			res.Roots.Add(obj, root)
		}
		return
	}
	t.dispatch(res, target, fi, hopsLeft-1, root)
}
