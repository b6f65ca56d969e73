package vfuse

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vvolume"
)

// mountTestVolume formats a fresh volume and mounts it, skipping the test
// if this environment has no usable /dev/fuse (the same defensive skip
// shape the corpus's own rename-exchange test uses for an unsupported
// syscall).
func mountTestVolume(t *testing.T) (mntDir string) {
	t.Helper()
	volPath := filepath.Join(t.TempDir(), "vol.img")
	v, err := vvolume.Mkfs(volPath, vtype.MinAGCount, "fusetest", false, "")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}

	mnt := t.TempDir()
	server, err := Mount(mnt, v, false)
	if err != nil {
		t.Skipf("mounting FUSE not available in this environment: %v", err)
	}
	t.Cleanup(func() {
		server.Unmount()
		v.Close()
	})
	return mnt
}

func TestCreateWriteReadThroughMount(t *testing.T) {
	mnt := mountTestVolume(t)

	path := filepath.Join(mnt, "hello.txt")
	if err := os.WriteFile(path, []byte("hello voluta"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello voluta" {
		t.Errorf("ReadFile = %q, want %q", got, "hello voluta")
	}
}

func TestMkdirReaddirRmdir(t *testing.T) {
	mnt := mountTestVolume(t)

	dir := filepath.Join(mnt, "subdir")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "f" {
		t.Fatalf("ReadDir = %v, want [f]", entries)
	}
	if err := os.Remove(filepath.Join(dir, "f")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Remove(dir); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	mnt := mountTestVolume(t)

	link := filepath.Join(mnt, "link")
	if err := os.Symlink("/some/target", link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	got, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if got != "/some/target" {
		t.Errorf("Readlink = %q, want %q", got, "/some/target")
	}
}

func TestUnlinkMissingReturnsENOENT(t *testing.T) {
	mnt := mountTestVolume(t)

	err := os.Remove(filepath.Join(mnt, "nope"))
	if !os.IsNotExist(err) {
		t.Fatalf("Remove of missing file = %v, want ENOENT", err)
	}
}

func TestXattrSetGetRoundTrip(t *testing.T) {
	mnt := mountTestVolume(t)

	path := filepath.Join(mnt, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := syscall.Setxattr(path, "user.note", []byte("payload"), 0); err != nil {
		t.Skipf("setxattr not supported in this environment: %v", err)
	}
	buf := make([]byte, 64)
	n, err := syscall.Getxattr(path, "user.note", buf)
	if err != nil {
		t.Fatalf("Getxattr: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Errorf("Getxattr = %q, want %q", buf[:n], "payload")
	}
}
