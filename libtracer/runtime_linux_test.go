package libtracer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nix-community/findrootsd/libtracer/storepath"
)

// fakeProc builds a procfs lookalike with one interesting pid and the usual
// noise, next to a store the scanner can resolve against.
type fakeProc struct {
	store    *storepath.Store
	storeDir string
	procDir  string
}

func newFakeProc(t *testing.T) *fakeProc {
	t.Helper()
	base := t.TempDir()
	fp := &fakeProc{
		storeDir: filepath.Join(base, "store"),
		procDir:  filepath.Join(base, "proc"),
	}
	if err := os.Mkdir(fp.storeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(fp.procDir, 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := storepath.New(fp.storeDir)
	if err != nil {
		t.Fatal(err)
	}
	fp.store = store
	return fp
}

func (fp *fakeProc) scan(t *testing.T) Roots {
	t.Helper()
	roots, err := (&RuntimeScanner{Store: fp.store, ProcDir: fp.procDir}).Scan()
	if err != nil {
		t.Fatal(err)
	}
	return roots
}

func (fp *fakeProc) mkdirAll(t *testing.T, rel string) string {
	t.Helper()
	dir := filepath.Join(fp.procDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func (fp *fakeProc) object(name string) string {
	return filepath.Join(fp.storeDir, name)
}

func checkRoot(t *testing.T, roots Roots, storePath, root string) {
	t.Helper()
	if _, ok := roots[storePath][root]; !ok {
		t.Errorf("missing root edge %s -> %s in %v", storePath, root, roots)
	}
}

func TestRuntimeScanProcessLinks(t *testing.T) {
	fp := newFakeProc(t)
	pid := fp.mkdirAll(t, "42")
	fdDir := fp.mkdirAll(t, "42/fd")

	if err := os.Symlink(fp.object("def-bin"), filepath.Join(pid, "exe")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/somewhere/else", filepath.Join(pid, "cwd")); err != nil {
		t.Fatal(err)
	}
	// An fd deep inside an object is credited to the object itself.
	if err := os.Symlink(fp.object("abc-hello")+"/share/data", filepath.Join(fdDir, "3")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/dev/null", filepath.Join(fdDir, "0")); err != nil {
		t.Fatal(err)
	}

	roots := fp.scan(t)
	checkRoot(t, roots, fp.object("def-bin"), filepath.Join(pid, "exe"))
	checkRoot(t, roots, fp.object("abc-hello"), filepath.Join(fdDir, "3"))
	if len(roots) != 2 {
		t.Errorf("unexpected extra roots: %v", roots)
	}
}

func TestRuntimeScanDeletedExecutable(t *testing.T) {
	fp := newFakeProc(t)
	pid := fp.mkdirAll(t, "7")
	if err := os.Symlink(fp.object("gone-bin")+" (deleted)", filepath.Join(pid, "exe")); err != nil {
		t.Fatal(err)
	}

	roots := fp.scan(t)
	checkRoot(t, roots, fp.object("gone-bin"), filepath.Join(pid, "exe"))
}

func TestRuntimeScanEnviron(t *testing.T) {
	fp := newFakeProc(t)
	pid := fp.mkdirAll(t, "42")
	environ := "PATH=" + fp.object("abc-hello") + "/bin\x00HOME=/root\x00X=" + fp.object("def-bin") + "\x01trailing"
	if err := os.WriteFile(filepath.Join(pid, "environ"), []byte(environ), 0o444); err != nil {
		t.Fatal(err)
	}

	roots := fp.scan(t)
	environPath := filepath.Join(pid, "environ")
	checkRoot(t, roots, fp.object("abc-hello"), environPath)
	checkRoot(t, roots, fp.object("def-bin"), environPath)
	if len(roots) != 2 {
		t.Errorf("unexpected extra roots: %v", roots)
	}
}

func TestRuntimeScanMaps(t *testing.T) {
	fp := newFakeProc(t)
	pid := fp.mkdirAll(t, "42")
	maps := "7f0000000000-7f0000001000 r-xp 00000000 08:01 12345 " + fp.object("def-bin") + "/bin/prog\n" +
		"7f0000002000-7f0000003000 rw-p 00000000 00:00 0\n" +
		"7f0000004000-7f0000005000 r--p 00000000 08:01 999 /usr/lib/locale/archive\n" +
		"7f0000006000-7f0000007000 r--p 00000000 08:01 7 [vdso]\n"
	if err := os.WriteFile(filepath.Join(pid, "maps"), []byte(maps), 0o444); err != nil {
		t.Fatal(err)
	}

	roots := fp.scan(t)
	checkRoot(t, roots, fp.object("def-bin"), filepath.Join(pid, "maps"))
	if len(roots) != 1 {
		t.Errorf("unexpected extra roots: %v", roots)
	}
}

func TestRuntimeScanKernelConfig(t *testing.T) {
	fp := newFakeProc(t)
	kernel := fp.mkdirAll(t, "sys/kernel")
	modprobe := filepath.Join(kernel, "modprobe")
	if err := os.WriteFile(modprobe, []byte(fp.object("kmod-29")+"/bin/modprobe\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	roots := fp.scan(t)
	checkRoot(t, roots, fp.object("kmod-29"), modprobe)
}

func TestRuntimeScanSkipsNoise(t *testing.T) {
	fp := newFakeProc(t)
	fp.mkdirAll(t, "self")
	fp.mkdirAll(t, "irq")
	// A decimal name that is not a directory is not a pid.
	if err := os.WriteFile(filepath.Join(fp.procDir, "123"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A pid that vanished between listing and inspection: empty directory,
	// every probe fails with ENOENT.
	fp.mkdirAll(t, "99")

	roots := fp.scan(t)
	if len(roots) != 0 {
		t.Errorf("noise produced roots: %v", roots)
	}
}

func TestRuntimeScanMissingProc(t *testing.T) {
	fp := newFakeProc(t)
	scanner := &RuntimeScanner{Store: fp.store, ProcDir: filepath.Join(fp.procDir, "nope")}
	roots, err := scanner.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 0 {
		t.Errorf("unexpected roots: %v", roots)
	}
}
