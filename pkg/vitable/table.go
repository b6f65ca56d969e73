package vitable

import (
	"sync"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// Table is C4: the ino -> vaddr(inode head) radix tree, plus the ino
// minting counter and its recycle list. The root vaddr is owned by the
// caller (pkg/vvolume persists it in the super block); Root reports the
// current value after any operation that rewrites it via a leaf split.
type Table struct {
	mu    sync.Mutex
	dev   *vblock.Device
	alloc *vspace.Allocator
	root  vtype.VAddr

	nextIno uint64
	freeIno []uint64
}

// Open attaches a Table to an already-allocated root node (typically read
// from the super block by pkg/vvolume). firstFreeIno seeds the minting
// counter.
func Open(dev *vblock.Device, alloc *vspace.Allocator, root vtype.VAddr, firstFreeIno uint64) *Table {
	return &Table{dev: dev, alloc: alloc, root: root, nextIno: firstFreeIno}
}

// Mkfs allocates a fresh, empty root leaf and returns a Table over it.
func Mkfs(dev *vblock.Device, alloc *vspace.Allocator, firstFreeIno uint64) (*Table, error) {
	rootVAddr, err := alloc.Allocate(vtype.VtypeITNode, vtype.NilVAddr)
	if err != nil {
		return nil, err
	}
	leaf := newLeaf(rootVAddr, 0)
	t := &Table{dev: dev, alloc: alloc, root: rootVAddr, nextIno: firstFreeIno}
	if err := t.store(leaf); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the table's current root vaddr.
func (t *Table) Root() vtype.VAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

func (t *Table) load(vaddr vtype.VAddr) (*itNode, error) {
	body, vt, err := t.dev.ReadBlock(vaddr.LBA())
	if err != nil {
		return nil, err
	}
	if vt != vtype.VtypeITNode {
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want itnode", vaddr.LBA(), vt)
	}
	return decodeITNode(vaddr, body)
}

func (t *Table) store(n *itNode) error {
	return t.dev.PutBlock(n.vaddr.LBA(), vtype.VtypeITNode, n.encode(), false)
}

// Insert maps ino to vaddr, failing with ErrExists if ino is already
// present.
func (t *Table) Insert(ino uint64, vaddr vtype.VAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRoot, err := t.insertInto(t.root, 0, ino, vaddr)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Table) insertInto(nodeVAddr vtype.VAddr, depth int, ino uint64, vaddr vtype.VAddr) (vtype.VAddr, error) {
	n, err := t.load(nodeVAddr)
	if err != nil {
		return vtype.NilVAddr, err
	}

	if n.leaf {
		if _, found := n.find(ino); found {
			return vtype.NilVAddr, vtype.Errf(vtype.ErrExists, "ino %d already mapped", ino)
		}
		if len(n.entries) < vtype.ItableLeafEntries {
			n.insertSorted(itEntry{Ino: ino, VAddr: vaddr})
			if err := t.store(n); err != nil {
				return vtype.NilVAddr, err
			}
			return nodeVAddr, nil
		}

		internal, err := t.splitLeaf(n)
		if err != nil {
			return vtype.NilVAddr, err
		}
		if err := t.alloc.Free(nodeVAddr, vtype.VtypeITNode); err != nil {
			return vtype.NilVAddr, err
		}
		return t.insertInto(internal.vaddr, depth, ino, vaddr)
	}

	b := byteAt(ino, depth)
	child := n.children[b]
	if child == vtype.NilVAddr {
		leafVAddr, err := t.alloc.Allocate(vtype.VtypeITNode, nodeVAddr)
		if err != nil {
			return vtype.NilVAddr, err
		}
		leaf := newLeaf(leafVAddr, depth+1)
		leaf.entries = []itEntry{{Ino: ino, VAddr: vaddr}}
		if err := t.store(leaf); err != nil {
			return vtype.NilVAddr, err
		}
		n.children[b] = leafVAddr
		if err := t.store(n); err != nil {
			return vtype.NilVAddr, err
		}
		return nodeVAddr, nil
	}

	newChild, err := t.insertInto(child, depth+1, ino, vaddr)
	if err != nil {
		return vtype.NilVAddr, err
	}
	if newChild != child {
		n.children[b] = newChild
		if err := t.store(n); err != nil {
			return vtype.NilVAddr, err
		}
	}
	return nodeVAddr, nil
}

// splitLeaf converts an overflowing leaf into an internal node, bucketing
// its entries into fresh child leaves by the ino byte at the leaf's own
// depth.
func (t *Table) splitLeaf(n *itNode) (*itNode, error) {
	internalVAddr, err := t.alloc.Allocate(vtype.VtypeITNode, n.vaddr)
	if err != nil {
		return nil, err
	}
	internal := newInternal(internalVAddr, n.depth)

	buckets := make(map[byte][]itEntry)
	for _, e := range n.entries {
		b := byteAt(e.Ino, n.depth)
		buckets[b] = append(buckets[b], e)
	}
	for b, entries := range buckets {
		leafVAddr, err := t.alloc.Allocate(vtype.VtypeITNode, internalVAddr)
		if err != nil {
			return nil, err
		}
		leaf := newLeaf(leafVAddr, n.depth+1)
		leaf.entries = entries
		if err := t.store(leaf); err != nil {
			return nil, err
		}
		internal.children[b] = leafVAddr
	}
	if err := t.store(internal); err != nil {
		return nil, err
	}
	return internal, nil
}

// Lookup returns the vaddr mapped to ino, or an ErrNoEnt *vtype.Error.
func (t *Table) Lookup(ino uint64) (vtype.VAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupFrom(t.root, 0, ino)
}

func (t *Table) lookupFrom(nodeVAddr vtype.VAddr, depth int, ino uint64) (vtype.VAddr, error) {
	n, err := t.load(nodeVAddr)
	if err != nil {
		return vtype.NilVAddr, err
	}
	if n.leaf {
		if idx, found := n.find(ino); found {
			return n.entries[idx].VAddr, nil
		}
		return vtype.NilVAddr, vtype.Errf(vtype.ErrNoEnt, "ino %d not mapped", ino)
	}
	child := n.children[byteAt(ino, depth)]
	if child == vtype.NilVAddr {
		return vtype.NilVAddr, vtype.Errf(vtype.ErrNoEnt, "ino %d not mapped", ino)
	}
	return t.lookupFrom(child, depth+1, ino)
}

// Remove unmaps ino. Internal nodes left with no populated children after
// a removal are not collapsed back into leaves; they simply stay in place
// as (rare) empty subtrees, trading a little disk space for not having to
// handle tree-shrinking concurrently with splits.
func (t *Table) Remove(ino uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeFrom(t.root, 0, ino)
}

func (t *Table) removeFrom(nodeVAddr vtype.VAddr, depth int, ino uint64) error {
	n, err := t.load(nodeVAddr)
	if err != nil {
		return err
	}
	if n.leaf {
		idx, found := n.find(ino)
		if !found {
			return vtype.Errf(vtype.ErrNoEnt, "ino %d not mapped", ino)
		}
		n.entries = append(n.entries[:idx], n.entries[idx+1:]...)
		return t.store(n)
	}
	child := n.children[byteAt(ino, depth)]
	if child == vtype.NilVAddr {
		return vtype.Errf(vtype.ErrNoEnt, "ino %d not mapped", ino)
	}
	return t.removeFrom(child, depth+1, ino)
}

// MintIno returns a fresh inode number, preferring the recycle list
// populated by ReleaseIno over the monotonically increasing counter.
func (t *Table) MintIno() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.freeIno); n > 0 {
		ino := t.freeIno[n-1]
		t.freeIno = t.freeIno[:n-1]
		return ino
	}
	ino := t.nextIno
	t.nextIno++
	return ino
}

// ReleaseIno returns ino to the recycle list once its inode has nlink==0
// and no open handles remain.
func (t *Table) ReleaseIno(ino uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freeIno = append(t.freeIno, ino)
}
