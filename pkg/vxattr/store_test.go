package vxattr

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

func newTestEnv(t *testing.T) (*vblock.Device, *vspace.Allocator) {
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
	return dev, vspace.Open(dev, vtype.MinAGCount)
}

func newTestStore(t *testing.T) *Store {
	dev, alloc := newTestEnv(t)
	return Open(dev, alloc, nil, [vtype.XattrMaxOutOfLine]vtype.VAddr{vtype.NilVAddr, vtype.NilVAddr})
}

func TestInlineSetGetRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("user.a", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("user.a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Get = %q, want hello", got)
	}
	if err := s.Remove("user.a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get("user.a"); vtype.KindOf(err) != vtype.ErrNoEnt {
		t.Errorf("expected ErrNoEnt after remove, got %v", err)
	}
}

func TestOverflowsToOutOfLineNode(t *testing.T) {
	s := newTestStore(t)
	bigValue := bytes.Repeat([]byte("v"), inlineValueCap+1)
	if err := s.Set("user.big", bigValue); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.inline.indexOf("user.big") >= 0 {
		t.Fatalf("oversized value should not land in the inline tier")
	}
	got, err := s.Get("user.big")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, bigValue) {
		t.Errorf("out-of-line round trip mismatch")
	}
	nodes := s.Nodes()
	if nodes[0] == vtype.NilVAddr {
		t.Errorf("expected an out-of-line node to have been allocated")
	}
}

func TestInlineCapacityFillsThenSpills(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < vtype.XattrInlineEntries+5; i++ {
		name := fmt.Sprintf("user.k%02d", i)
		if err := s.Set(name, []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
	if len(s.inline.Entries) != vtype.XattrInlineEntries {
		t.Errorf("inline table holds %d entries, want exactly %d", len(s.inline.Entries), vtype.XattrInlineEntries)
	}
	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != vtype.XattrInlineEntries+5 {
		t.Errorf("List returned %d names, want %d", len(names), vtype.XattrInlineEntries+5)
	}
}

func TestValueTooLargeRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.Set("user.huge", bytes.Repeat([]byte("x"), vtype.XattrMaxValueLen+1))
	if vtype.KindOf(err) != vtype.ErrInvalid {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestInlineTableEncodeDecodeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("user.a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("user.b", []byte("22")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf := s.Inline().Encode()
	decoded, err := DecodeInlineTable(buf)
	if err != nil {
		t.Fatalf("DecodeInlineTable: %v", err)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("decoded %d entries, want 2", len(decoded.Entries))
	}
}

func TestSymlinkInlineRoundTrip(t *testing.T) {
	dev, alloc := newTestEnv(t)
	ss := NewSymlinkStore(dev, alloc)
	target := "../short/target"
	inline, head, err := ss.Write(target)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if head != vtype.NilVAddr {
		t.Fatalf("short target should not allocate an out-of-line chain")
	}
	got, err := ss.Read(inline, vtype.NilVAddr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != target {
		t.Errorf("Read = %q, want %q", got, target)
	}
}

func TestSymlinkOutOfLineRoundTrip(t *testing.T) {
	dev, alloc := newTestEnv(t)
	ss := NewSymlinkStore(dev, alloc)
	target := strings.Repeat("a", vtype.SymlinkInlineMax+1000)
	inline, head, err := ss.Write(target)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if inline != nil {
		t.Fatalf("long target should not return an inline blob")
	}
	if head == vtype.NilVAddr {
		t.Fatalf("expected a chain head vaddr")
	}
	got, err := ss.Read(nil, head)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != target {
		t.Errorf("out-of-line symlink round trip mismatch: got %d bytes, want %d", len(got), len(target))
	}
	if err := ss.Free(head); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestSymlinkTooLongRejected(t *testing.T) {
	dev, alloc := newTestEnv(t)
	ss := NewSymlinkStore(dev, alloc)
	_, _, err := ss.Write(strings.Repeat("a", vtype.SymlinkMaxTotal+1))
	if vtype.KindOf(err) != vtype.ErrNameTooLong {
		t.Errorf("expected ErrNameTooLong, got %v", err)
	}
}
