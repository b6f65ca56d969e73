package vvolume

import (
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

func TestMkfsOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	v, err := Mkfs(path, vtype.MinAGCount, "testfs", true, "hunter2")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	root, err := v.RootInode()
	if err != nil {
		t.Fatalf("RootInode: %v", err)
	}
	if root.Ino != RootIno || root.Kind != vtype.InoKindDir {
		t.Fatalf("root inode = %+v, want ino=%d kind=dir", root, RootIno)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v2, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v2.Close()
	root2, err := v2.RootInode()
	if err != nil {
		t.Fatalf("RootInode after reopen: %v", err)
	}
	if root2.Ino != RootIno {
		t.Errorf("reopened root ino = %d, want %d", root2.Ino, RootIno)
	}
}

func TestInfoReportsMasterRecordFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	v, err := Mkfs(path, vtype.MinAGCount, "testfs", true, "hunter2")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	defer v.Close()

	info := v.Info()
	if info.FSName != "testfs" {
		t.Errorf("FSName = %q, want testfs", info.FSName)
	}
	if !info.Encrypted {
		t.Error("Encrypted = false, want true")
	}
	if info.NAG != vtype.MinAGCount {
		t.Errorf("NAG = %d, want %d", info.NAG, vtype.MinAGCount)
	}
	if info.Path != path {
		t.Errorf("Path = %q, want %q", info.Path, path)
	}
	var zero [16]byte
	if info.UUID == zero {
		t.Error("UUID is all zeroes, want a generated value")
	}
}

func TestOpenWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	v, err := Mkfs(path, vtype.MinAGCount, "testfs", true, "correct-horse")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = Open(path, "wrong-password")
	if err == nil {
		t.Fatalf("expected Open with wrong passphrase to fail")
	}
}

func TestCreateLookupDirEntryFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	v, err := Mkfs(path, vtype.MinAGCount, "testfs", false, "")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	defer v.Close()

	root, err := v.RootInode()
	if err != nil {
		t.Fatalf("RootInode: %v", err)
	}

	child, err := v.CreateInode(vtype.InoKindReg, 0o644, RootIno)
	if err != nil {
		t.Fatalf("CreateInode: %v", err)
	}

	d := v.Dir(root)
	if err := d.Insert("hello.txt", child.Ino, vtype.InoKindReg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	root.Root = d.Root()
	if err := v.SaveInode(root); err != nil {
		t.Fatalf("SaveInode: %v", err)
	}

	root2, err := v.LoadInode(RootIno)
	if err != nil {
		t.Fatalf("LoadInode: %v", err)
	}
	d2 := v.Dir(root2)
	ino, kind, err := d2.Lookup("hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ino != child.Ino || kind != vtype.InoKindReg {
		t.Errorf("Lookup = (%d, %v), want (%d, reg)", ino, kind, child.Ino)
	}
}

func TestFileWriteThroughVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	v, err := Mkfs(path, vtype.MinAGCount, "testfs", false, "")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	defer v.Close()

	n, err := v.CreateInode(vtype.InoKindReg, 0o644, RootIno)
	if err != nil {
		t.Fatalf("CreateInode: %v", err)
	}
	f := v.File(n)
	size, blocks, err := f.Write(0, []byte("hello world"), n.Size, n.Blocks)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	n.Root = f.Root()
	n.Size = size
	n.Blocks = blocks
	if err := v.SaveInode(n); err != nil {
		t.Fatalf("SaveInode: %v", err)
	}

	reloaded, err := v.LoadInode(n.Ino)
	if err != nil {
		t.Fatalf("LoadInode: %v", err)
	}
	got, err := v.File(reloaded).Read(0, reloaded.Size, reloaded.Size)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Read = %q, want %q", got, "hello world")
	}
}

func TestFreeInodeReclaimsSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	v, err := Mkfs(path, vtype.MinAGCount, "testfs", false, "")
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	defer v.Close()

	freeBefore, _, err := v.StatFree()
	if err != nil {
		t.Fatalf("StatFree: %v", err)
	}

	n, err := v.CreateInode(vtype.InoKindReg, 0o644, RootIno)
	if err != nil {
		t.Fatalf("CreateInode: %v", err)
	}
	size, blocks, err := v.File(n).Write(0, make([]byte, 100000), 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	n.Root = v.File(n).Root()
	n.Size = size
	n.Blocks = blocks
	if err := v.SaveInode(n); err != nil {
		t.Fatalf("SaveInode: %v", err)
	}

	if err := v.FreeInode(n); err != nil {
		t.Fatalf("FreeInode: %v", err)
	}
	freeAfter, _, err := v.StatFree()
	if err != nil {
		t.Fatalf("StatFree: %v", err)
	}
	if freeAfter != freeBefore {
		t.Errorf("free space after FreeInode = %d, want %d (fully reclaimed)", freeAfter, freeBefore)
	}
}
