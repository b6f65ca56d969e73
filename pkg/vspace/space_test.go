package vspace

import (
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestAllocator(t *testing.T) *Allocator {
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
	return Open(dev, vtype.MinAGCount)
}

func TestAllocateBlockSizedThenFree(t *testing.T) {
	a := newTestAllocator(t)

	vaddr, err := a.Allocate(vtype.VtypeHTNode, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if vaddr == vtype.NilVAddr {
		t.Fatalf("got nil vaddr")
	}

	free, total, err := a.StatFree()
	if err != nil {
		t.Fatalf("StatFree: %v", err)
	}
	if free != total-vtype.BoctetsPerBlk {
		t.Errorf("free = %d, want %d", free, total-vtype.BoctetsPerBlk)
	}

	if err := a.Free(vaddr, vtype.VtypeHTNode); err != nil {
		t.Fatalf("Free: %v", err)
	}
	free2, _, err := a.StatFree()
	if err != nil {
		t.Fatalf("StatFree: %v", err)
	}
	if free2 != total {
		t.Errorf("free after release = %d, want %d", free2, total)
	}
}

func TestAllocateInodeSharesBlock(t *testing.T) {
	a := newTestAllocator(t)

	v1, err := a.Allocate(vtype.VtypeInode, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate #1: %v", err)
	}
	v2, err := a.Allocate(vtype.VtypeInode, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate #2: %v", err)
	}
	if v1.LBA() != v2.LBA() {
		t.Errorf("two inode allocations landed on different blocks (%d vs %d); expected octet-sharing", v1.LBA(), v2.LBA())
	}
	if v1.OctetIndex() == v2.OctetIndex() {
		t.Errorf("two inode allocations collided on the same octet")
	}
}

func TestDoubleFreeIsCorrupt(t *testing.T) {
	a := newTestAllocator(t)

	vaddr, err := a.Allocate(vtype.VtypeData, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Free(vaddr, vtype.VtypeData); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	err = a.Free(vaddr, vtype.VtypeData)
	if vtype.KindOf(err) != vtype.ErrCorrupt {
		t.Errorf("expected ErrCorrupt on double free, got %v", err)
	}
}

func TestUnwrittenRoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	vaddr, err := a.Allocate(vtype.VtypeData, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.MarkUnwritten(vaddr, true); err != nil {
		t.Fatalf("MarkUnwritten: %v", err)
	}
	unwritten, err := a.IsUnwritten(vaddr)
	if err != nil {
		t.Fatalf("IsUnwritten: %v", err)
	}
	if !unwritten {
		t.Errorf("expected unwritten=true")
	}
}

func TestNearBiasesSameAG(t *testing.T) {
	a := newTestAllocator(t)

	near, err := a.Allocate(vtype.VtypeHTNode, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Allocate near: %v", err)
	}
	other, err := a.Allocate(vtype.VtypeHTNode, near)
	if err != nil {
		t.Fatalf("Allocate biased: %v", err)
	}
	if near.AGIndex() != other.AGIndex() {
		t.Errorf("near bias failed: %d vs %d", near.AGIndex(), other.AGIndex())
	}
}

func TestNoSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	nblocks := int64(1)*vtype.BlocksPerAG + vtype.FirstAGLBA
	fb, err := vblock.CreateFileBacking(path, nblocks*vtype.BlockSize)
	if err != nil {
		t.Fatalf("CreateFileBacking: %v", err)
	}
	dev, err := vblock.Open(fb, nblocks, vblock.RDWR, nil)
	if err != nil {
		t.Fatalf("vblock.Open: %v", err)
	}
	defer dev.Close()
	a := Open(dev, 1)

	var last error
	for i := 0; i < vtype.BkrefsPerAG+1; i++ {
		_, last = a.Allocate(vtype.VtypeHTNode, vtype.NilVAddr)
		if last != nil {
			break
		}
	}
	if vtype.KindOf(last) != vtype.ErrNoSpace {
		t.Errorf("expected ErrNoSpace once the AG fills, got %v", last)
	}
}
