package vfile

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestFile(t *testing.T) (*File, *vspace.Allocator) {
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
	return Open(dev, alloc, vtype.NilVAddr), alloc
}

func TestWriteReadRoundTrip(t *testing.T) {
	f, _ := newTestFile(t)

	data := bytes.Repeat([]byte("x"), 100)
	size, blocks, err := f.Write(10, data, 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if size != 110 {
		t.Fatalf("size = %d, want 110", size)
	}
	if blocks != blocksPerSegment {
		t.Errorf("blocks = %d, want %d (one written segment)", blocks, blocksPerSegment)
	}

	got, err := f.Read(0, size, size)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != int(size) {
		t.Fatalf("read %d bytes, want %d", len(got), size)
	}
	for i := int64(0); i < 10; i++ {
		if got[i] != 0 {
			t.Errorf("byte %d = %d, want 0 (unwritten hole)", i, got[i])
		}
	}
	if !bytes.Equal(got[10:110], data) {
		t.Errorf("written region mismatch")
	}
}

func TestReadBeyondSizeIsShort(t *testing.T) {
	f, _ := newTestFile(t)
	if _, _, err := f.Write(0, []byte("hello"), 0, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read(0, 1000, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("short read returned %d bytes, want 5", len(got))
	}
}

func TestWriteAcrossSegmentBoundary(t *testing.T) {
	f, _ := newTestFile(t)
	data := bytes.Repeat([]byte("y"), int(segSize)*2+10)
	size, blocks, err := f.Write(segSize-5, data, 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if blocks != 4*blocksPerSegment {
		t.Errorf("blocks = %d, want %d (four segments touched)", blocks, 4*blocksPerSegment)
	}
	got, err := f.Read(segSize-5, int64(len(data)), size)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cross-segment round trip mismatch")
	}
}

func TestTruncateShrinksAndZeroesTail(t *testing.T) {
	f, _ := newTestFile(t)
	data := bytes.Repeat([]byte("z"), int(segSize)+50)
	size, blocks, err := f.Write(0, data, 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	newSize := segSize + 10
	blocks, err = f.Truncate(newSize, size, blocks)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if blocks != 2*blocksPerSegment {
		t.Errorf("blocks after truncate = %d, want %d (both segments still written)", blocks, 2*blocksPerSegment)
	}

	got, err := f.Read(0, newSize, newSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got[:segSize], data[:segSize]) {
		t.Errorf("data before truncation point changed")
	}
	for i := segSize; i < newSize; i++ {
		if got[i] != 'z' {
			t.Errorf("byte %d changed unexpectedly", i)
		}
	}
}

func TestFallocateDefaultThenRead(t *testing.T) {
	f, _ := newTestFile(t)
	newSize, blocks, err := f.Fallocate(vtype.FallocateDefault, 0, 100, 0, 0)
	if err != nil {
		t.Fatalf("Fallocate: %v", err)
	}
	if newSize != 100 {
		t.Errorf("size = %d, want 100", newSize)
	}
	if blocks != 0 {
		t.Errorf("blocks = %d, want 0 (reserved segments are unwritten)", blocks)
	}
	got, err := f.Read(0, 100, newSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("fallocate'd-but-unwritten region should read zero")
		}
	}
}

// TestTruncateExtendLeavesBlocksZero mirrors the POSIX stat behavior where
// extending a file past its data (e.g. truncate("/f", 1<<20)) creates a
// hole: logical size grows but no sectors are actually allocated.
func TestTruncateExtendLeavesBlocksZero(t *testing.T) {
	f, _ := newTestFile(t)
	blocks, err := f.Truncate(1<<20, 0, 0)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if blocks != 0 {
		t.Errorf("blocks = %d, want 0 for an extending truncate", blocks)
	}
}

func TestFallocatePunchHole(t *testing.T) {
	f, _ := newTestFile(t)
	data := bytes.Repeat([]byte("w"), int(segSize))
	size, blocks, err := f.Write(0, data, 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	mode := vtype.FallocatePunchHole | vtype.FallocateKeepSize
	newSize, newBlocks, err := f.Fallocate(mode, 0, segSize, size, blocks)
	if err != nil {
		t.Fatalf("Fallocate: %v", err)
	}
	if newSize != size {
		t.Errorf("punch hole changed size: %d != %d", newSize, size)
	}
	if newBlocks != blocks-blocksPerSegment {
		t.Errorf("blocks after punch hole = %d, want %d", newBlocks, blocks-blocksPerSegment)
	}
	got, err := f.Read(0, size, size)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("punched region should read zero")
		}
	}
}

func TestCollapseRange(t *testing.T) {
	f, _ := newTestFile(t)
	data := append(bytes.Repeat([]byte("A"), 50), bytes.Repeat([]byte("B"), 50)...)
	size, blocks, err := f.Write(0, data, 0, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	newSize, _, err := f.Fallocate(vtype.FallocateCollapse, 0, 50, size, blocks)
	if err != nil {
		t.Fatalf("Fallocate collapse: %v", err)
	}
	if newSize != 50 {
		t.Fatalf("size after collapse = %d, want 50", newSize)
	}
	got, err := f.Read(0, newSize, newSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("B"), 50)) {
		t.Errorf("collapse range did not shift tail correctly: %q", got)
	}
}
