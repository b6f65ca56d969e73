package vdir

import (
	"sync"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// cookieStride is the per-node slot multiplier the readdir cookie
// discipline uses: cookie = node_index*cookieStride + slot + 1, so that a
// cookie of 0 always means "from the start".
const cookieStride = 512

// Entry is one resolved directory entry, as returned by Lookup/Readdir.
type Entry struct {
	Name   string
	Ino    uint64
	DType  vtype.InoKind
	Cookie uint64
}

// Dir is C6: the name -> (ino, dtype) H-tree for a single directory
// inode. Root starts at vtype.NilVAddr (an empty directory materialises
// nothing on disk beyond its inode) and is lazily allocated on first
// insert, exactly mirroring pkg/vfile's root.
type Dir struct {
	mu    sync.Mutex
	dev   *vblock.Device
	alloc *vspace.Allocator
	root  vtype.VAddr
}

// Open attaches a Dir view to an existing (possibly empty) root.
func Open(dev *vblock.Device, alloc *vspace.Allocator, root vtype.VAddr) *Dir {
	return &Dir{dev: dev, alloc: alloc, root: root}
}

// Root returns the directory's current H-tree root, to be persisted in
// its inode record by the caller.
func (d *Dir) Root() vtype.VAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

func (d *Dir) load(vaddr vtype.VAddr) (*htNode, error) {
	body, vt, err := d.dev.ReadBlock(vaddr.LBA())
	if err != nil {
		return nil, err
	}
	if vt != vtype.VtypeHTNode {
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want htnode", vaddr.LBA(), vt)
	}
	return decodeHTNode(vaddr, body)
}

func (d *Dir) store(n *htNode) error {
	return d.dev.PutBlock(n.vaddr.LBA(), vtype.VtypeHTNode, n.encode(), false)
}

// Insert adds name -> (ino, dtype), failing ErrExists if name is already
// present. name must already have been validated against
// vtype.MaxFilenameLen by the caller.
func (d *Dir) Insert(name string, ino uint64, dtype vtype.InoKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.root == vtype.NilVAddr {
		vaddr, err := d.alloc.Allocate(vtype.VtypeHTNode, vtype.NilVAddr)
		if err != nil {
			return err
		}
		if err := d.store(newHTLeaf(vaddr, 0)); err != nil {
			return err
		}
		d.root = vaddr
	}

	newRoot, err := d.insertInto(d.root, name, HashName(name), ino, dtype)
	if err != nil {
		return err
	}
	d.root = newRoot
	return nil
}

func (d *Dir) insertInto(nodeVAddr vtype.VAddr, name string, hash uint64, ino uint64, dtype vtype.InoKind) (vtype.VAddr, error) {
	n, err := d.load(nodeVAddr)
	if err != nil {
		return vtype.NilVAddr, err
	}

	if n.leaf {
		if n.indexOf(name) >= 0 {
			return vtype.NilVAddr, vtype.Errf(vtype.ErrExists, "%q already exists", name)
		}
		if len(n.entries) < maxEntriesPerNode || n.depth >= htreeMaxDepth {
			n.entries = append(n.entries, dentry{Ino: ino, DType: dtype, Name: name, hash: hash})
			if err := d.store(n); err != nil {
				return vtype.NilVAddr, err
			}
			return nodeVAddr, nil
		}

		internal, err := d.splitLeaf(n)
		if err != nil {
			return vtype.NilVAddr, err
		}
		if err := d.alloc.Free(nodeVAddr, vtype.VtypeHTNode); err != nil {
			return vtype.NilVAddr, err
		}
		return d.insertInto(internal.vaddr, name, hash, ino, dtype)
	}

	b := nibbleAt(hash, n.depth)
	child := n.children[b]
	if child == vtype.NilVAddr {
		leafVAddr, err := d.alloc.Allocate(vtype.VtypeHTNode, nodeVAddr)
		if err != nil {
			return vtype.NilVAddr, err
		}
		leaf := newHTLeaf(leafVAddr, n.depth+1)
		leaf.entries = []dentry{{Ino: ino, DType: dtype, Name: name, hash: hash}}
		if err := d.store(leaf); err != nil {
			return vtype.NilVAddr, err
		}
		n.children[b] = leafVAddr
		if err := d.store(n); err != nil {
			return vtype.NilVAddr, err
		}
		return nodeVAddr, nil
	}

	newChild, err := d.insertInto(child, name, hash, ino, dtype)
	if err != nil {
		return vtype.NilVAddr, err
	}
	if newChild != child {
		n.children[b] = newChild
		if err := d.store(n); err != nil {
			return vtype.NilVAddr, err
		}
	}
	return nodeVAddr, nil
}

func (d *Dir) splitLeaf(n *htNode) (*htNode, error) {
	internalVAddr, err := d.alloc.Allocate(vtype.VtypeHTNode, n.vaddr)
	if err != nil {
		return nil, err
	}
	internal := newHTInternal(internalVAddr, n.depth)

	buckets := make(map[int][]dentry)
	for _, e := range n.entries {
		b := nibbleAt(e.hash, n.depth)
		buckets[b] = append(buckets[b], e)
	}
	for b, entries := range buckets {
		leafVAddr, err := d.alloc.Allocate(vtype.VtypeHTNode, internalVAddr)
		if err != nil {
			return nil, err
		}
		leaf := newHTLeaf(leafVAddr, n.depth+1)
		leaf.entries = entries
		if err := d.store(leaf); err != nil {
			return nil, err
		}
		internal.children[b] = leafVAddr
	}
	if err := d.store(internal); err != nil {
		return nil, err
	}
	return internal, nil
}

// Lookup resolves name to its (ino, dtype), or ErrNoEnt.
func (d *Dir) Lookup(name string) (uint64, vtype.InoKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == vtype.NilVAddr {
		return 0, 0, vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
	}
	return d.lookupFrom(d.root, name, HashName(name), 0)
}

func (d *Dir) lookupFrom(nodeVAddr vtype.VAddr, name string, hash uint64, depth int) (uint64, vtype.InoKind, error) {
	n, err := d.load(nodeVAddr)
	if err != nil {
		return 0, 0, err
	}
	if n.leaf {
		if idx := n.indexOf(name); idx >= 0 {
			return n.entries[idx].Ino, n.entries[idx].DType, nil
		}
		return 0, 0, vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
	}
	child := n.children[nibbleAt(hash, depth)]
	if child == vtype.NilVAddr {
		return 0, 0, vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
	}
	return d.lookupFrom(child, name, hash, depth+1)
}

// Remove unmaps name, failing ErrNoEnt if it is not present.
func (d *Dir) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == vtype.NilVAddr {
		return vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
	}
	return d.removeFrom(d.root, name, HashName(name), 0)
}

func (d *Dir) removeFrom(nodeVAddr vtype.VAddr, name string, hash uint64, depth int) error {
	n, err := d.load(nodeVAddr)
	if err != nil {
		return err
	}
	if n.leaf {
		idx := n.indexOf(name)
		if idx < 0 {
			return vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
		}
		n.entries = append(n.entries[:idx], n.entries[idx+1:]...)
		return d.store(n)
	}
	child := n.children[nibbleAt(hash, depth)]
	if child == vtype.NilVAddr {
		return vtype.Errf(vtype.ErrNoEnt, "%q not found", name)
	}
	return d.removeFrom(child, name, hash, depth+1)
}

// Destroy frees every block the directory's H-tree occupies, including
// internal nodes left over from a split whose leaves were later emptied
// by Remove (which does not collapse them back). Callers must have
// already verified the directory is empty.
func (d *Dir) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == vtype.NilVAddr {
		return nil
	}
	var walk func(vaddr vtype.VAddr) error
	walk = func(vaddr vtype.VAddr) error {
		n, err := d.load(vaddr)
		if err != nil {
			return err
		}
		if !n.leaf {
			for _, c := range n.children {
				if c == vtype.NilVAddr {
					continue
				}
				if err := walk(c); err != nil {
					return err
				}
			}
		}
		return d.alloc.Free(vaddr, vtype.VtypeHTNode)
	}
	if err := walk(d.root); err != nil {
		return err
	}
	d.root = vtype.NilVAddr
	return nil
}

// IsEmpty reports whether the directory has zero entries (rmdir's
// NotEmpty check).
func (d *Dir) IsEmpty() (bool, error) {
	entries, err := d.Readdir(0)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Readdir returns every entry whose cookie is > after, in a stable
// node-then-slot order. Because the whole tree is walked on every call,
// an entry present for the whole walk is reported exactly once even if
// concurrent inserts/removes are racing it, matching the cookie
// discipline's guarantee; entries added or removed mid-walk may or may
// not appear.
func (d *Dir) Readdir(after uint64) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == vtype.NilVAddr {
		return nil, nil
	}
	var out []Entry
	var nodeSeq uint64
	var walk func(vaddr vtype.VAddr) error
	walk = func(vaddr vtype.VAddr) error {
		n, err := d.load(vaddr)
		if err != nil {
			return err
		}
		seq := nodeSeq
		nodeSeq++
		if n.leaf {
			for slot, e := range n.entries {
				cookie := seq*cookieStride + uint64(slot) + 1
				if cookie > after {
					out = append(out, Entry{Name: e.Name, Ino: e.Ino, DType: e.DType, Cookie: cookie})
				}
			}
			return nil
		}
		for _, c := range n.children {
			if c == vtype.NilVAddr {
				continue
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(d.root); err != nil {
		return nil, err
	}
	return out, nil
}
