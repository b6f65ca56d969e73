package vdir

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.img")
	nblocks := vtype.MinAGCount*vtype.BlocksPerAG + vtype.FirstAGLBA
	fb, err := vblock.CreateFileBacking(path, nblocks*vtype.BlockSize)
	if err != nil {
		t.Fatalf("CreateFileBacking: %v", err)
	}
	dev, err := vblock.Open(fb, nblocks, vblock.RDWR, nil)
	if err != nil {
		t.Fatalf("vblock.Open: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	alloc := vspace.Open(dev, vtype.MinAGCount)
	return Open(dev, alloc, vtype.NilVAddr)
}

func TestInsertLookupRemove(t *testing.T) {
	d := newTestDir(t)

	if err := d.Insert("hello.txt", 42, vtype.InoKindReg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ino, dtype, err := d.Lookup("hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ino != 42 || dtype != vtype.InoKindReg {
		t.Errorf("Lookup = (%d, %v), want (42, reg)", ino, dtype)
	}

	if err := d.Remove("hello.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, err := d.Lookup("hello.txt"); vtype.KindOf(err) != vtype.ErrNoEnt {
		t.Errorf("expected ErrNoEnt after remove, got %v", err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	d := newTestDir(t)
	if err := d.Insert("a", 1, vtype.InoKindReg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := d.Insert("a", 2, vtype.InoKindReg)
	if vtype.KindOf(err) != vtype.ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestManyEntriesReaddirDistinct(t *testing.T) {
	d := newTestDir(t)

	n := maxEntriesPerNode + 200
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%08x", i)
		if err := d.Insert(names[i], uint64(i+1), vtype.InoKindReg); err != nil {
			t.Fatalf("Insert(%s): %v", names[i], err)
		}
	}

	entries, err := d.Readdir(0)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("Readdir returned %d entries, want %d", len(entries), n)
	}

	seen := make(map[string]bool, n)
	for _, e := range entries {
		if seen[e.Name] {
			t.Fatalf("duplicate entry %q in readdir", e.Name)
		}
		seen[e.Name] = true
	}
	for _, name := range names {
		if !seen[name] {
			t.Errorf("missing entry %q from readdir", name)
		}
	}
}

func TestReaddirCookiePagination(t *testing.T) {
	d := newTestDir(t)
	for i := 0; i < 10; i++ {
		if err := d.Insert(fmt.Sprintf("f%d", i), uint64(i+1), vtype.InoKindReg); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	first, err := d.Readdir(0)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(first) != 10 {
		t.Fatalf("got %d entries, want 10", len(first))
	}
	rest, err := d.Readdir(first[0].Cookie)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(rest) != 9 {
		t.Errorf("paginated readdir returned %d, want 9", len(rest))
	}
}

func TestIsEmpty(t *testing.T) {
	d := newTestDir(t)
	empty, err := d.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Errorf("fresh directory should be empty")
	}
	if err := d.Insert("x", 1, vtype.InoKindReg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	empty, err = d.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Errorf("directory with one entry should not be empty")
	}
}
