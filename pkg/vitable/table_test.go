package vitable

import (
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestTable(t *testing.T) *Table {
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
	tbl, err := Mkfs(dev, alloc, 2)
	if err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	return tbl
}

func TestInsertLookupRemove(t *testing.T) {
	tbl := newTestTable(t)

	if err := tbl.Insert(2, 1000); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := tbl.Lookup(2)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != 1000 {
		t.Errorf("Lookup = %d, want 1000", got)
	}

	if err := tbl.Remove(2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := tbl.Lookup(2); vtype.KindOf(err) != vtype.ErrNoEnt {
		t.Errorf("expected ErrNoEnt after remove, got %v", err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Insert(5, 10); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := tbl.Insert(5, 20)
	if vtype.KindOf(err) != vtype.ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestMintAndReleaseIno(t *testing.T) {
	tbl := newTestTable(t)
	a := tbl.MintIno()
	b := tbl.MintIno()
	if a == b {
		t.Fatalf("minted duplicate ino %d", a)
	}
	tbl.ReleaseIno(a)
	c := tbl.MintIno()
	if c != a {
		t.Errorf("expected recycled ino %d, got %d", a, c)
	}
}

func TestSplitOnOverflow(t *testing.T) {
	tbl := newTestTable(t)

	// One more than a leaf's capacity forces at least one split; the
	// tree must still answer every lookup correctly afterwards. Spreading
	// the bits of i across the full 64-bit ino (instead of using small
	// sequential values, which would all share the same leading byte and
	// force a long run of degenerate single-child splits) exercises the
	// tree the way a real, densely-packed ino space would.
	n := vtype.ItableLeafEntries + 50
	inos := make([]uint64, n)
	for i := 0; i < n; i++ {
		inos[i] = (uint64(i+1) * 0x9E3779B97F4A7C15) | 1 // avoid ino 0
	}
	for _, ino := range inos {
		if err := tbl.Insert(ino, vtype.VAddr(ino>>8)); err != nil {
			t.Fatalf("Insert(%d): %v", ino, err)
		}
	}
	for _, ino := range inos {
		got, err := tbl.Lookup(ino)
		if err != nil {
			t.Fatalf("Lookup(%d): %v", ino, err)
		}
		if got != vtype.VAddr(ino>>8) {
			t.Errorf("Lookup(%d) = %d, want %d", ino, got, ino>>8)
		}
	}
}
