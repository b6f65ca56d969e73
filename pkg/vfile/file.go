package vfile

import (
	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vspace"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// segSize is the size of one data segment's physical payload. It is
// vblock's octet payload slot size rather than the nominal 8 KiB
// block-octet figure, since a real sealed block only has BodyCapacity
// bytes to split into eight equal slots (see pkg/vblock/octet.go) —
// FilesizeMax is therefore a very close approximation, not an exact byte
// count.
const segSize = vblock.OctetPayloadSize

// File is C5: the per-inode file-data mapping, addressed by its own root
// vaddr (owned by the caller's inode record). An empty/never-written file
// has Root == vtype.NilVAddr.
type File struct {
	dev   *vblock.Device
	alloc *vspace.Allocator
	root  vtype.VAddr
}

// Open attaches a File view to an existing (possibly nil) root.
func Open(dev *vblock.Device, alloc *vspace.Allocator, root vtype.VAddr) *File {
	return &File{dev: dev, alloc: alloc, root: root}
}

// Root returns the current root vaddr, to be persisted by the caller.
func (f *File) Root() vtype.VAddr { return f.root }

// SegmentSize is the fixed size of one data segment.
func SegmentSize() int64 { return segSize }

func (f *File) loadRT(vaddr vtype.VAddr) (*rtNode, error) {
	body, vt, err := f.dev.ReadBlock(vaddr.LBA())
	if err != nil {
		return nil, err
	}
	if vt != vtype.VtypeRTNode {
		return nil, vtype.Errf(vtype.ErrCorrupt, "lba %d holds vtype %s, want rtnode", vaddr.LBA(), vt)
	}
	return decodeRTNode(vaddr, body)
}

func (f *File) storeRT(n *rtNode) error {
	return f.dev.PutBlock(n.vaddr.LBA(), vtype.VtypeRTNode, n.encode(), false)
}

// resolve returns the data vaddr mapped to seg, or vtype.NilVAddr if the
// segment has never been allocated (a hole).
func (f *File) resolve(seg int64) (vtype.VAddr, error) {
	if f.root == vtype.NilVAddr {
		return vtype.NilVAddr, nil
	}
	idx := segmentIndices(seg)
	cur := f.root
	for level := 0; level < treeHeight-1; level++ {
		n, err := f.loadRT(cur)
		if err != nil {
			return vtype.NilVAddr, err
		}
		cur = n.children[idx[level]]
		if cur == vtype.NilVAddr {
			return vtype.NilVAddr, nil
		}
	}
	n, err := f.loadRT(cur)
	if err != nil {
		return vtype.NilVAddr, err
	}
	return n.children[idx[treeHeight-1]], nil
}

// ensure returns the data vaddr mapped to seg, allocating internal nodes
// and a fresh (unwritten) data segment as needed.
func (f *File) ensure(seg int64) (vtype.VAddr, error) {
	if f.root == vtype.NilVAddr {
		vaddr, err := f.alloc.Allocate(vtype.VtypeRTNode, vtype.NilVAddr)
		if err != nil {
			return vtype.NilVAddr, err
		}
		if err := f.storeRT(newRTNode(vaddr)); err != nil {
			return vtype.NilVAddr, err
		}
		f.root = vaddr
	}

	idx := segmentIndices(seg)
	cur := f.root
	var path []*rtNode
	for level := 0; level < treeHeight-1; level++ {
		n, err := f.loadRT(cur)
		if err != nil {
			return vtype.NilVAddr, err
		}
		path = append(path, n)
		next := n.children[idx[level]]
		if next == vtype.NilVAddr {
			childVAddr, err := f.alloc.Allocate(vtype.VtypeRTNode, cur)
			if err != nil {
				return vtype.NilVAddr, err
			}
			if err := f.storeRT(newRTNode(childVAddr)); err != nil {
				return vtype.NilVAddr, err
			}
			n.children[idx[level]] = childVAddr
			if err := f.storeRT(n); err != nil {
				return vtype.NilVAddr, err
			}
			next = childVAddr
		}
		cur = next
	}

	leaf, err := f.loadRT(cur)
	if err != nil {
		return vtype.NilVAddr, err
	}
	dataVAddr := leaf.children[idx[treeHeight-1]]
	if dataVAddr == vtype.NilVAddr {
		dataVAddr, err = f.alloc.Allocate(vtype.VtypeData, cur)
		if err != nil {
			return vtype.NilVAddr, err
		}
		if err := f.alloc.MarkUnwritten(dataVAddr, true); err != nil {
			return vtype.NilVAddr, err
		}
		leaf.children[idx[treeHeight-1]] = dataVAddr
		if err := f.storeRT(leaf); err != nil {
			return vtype.NilVAddr, err
		}
	}
	return dataVAddr, nil
}

// Destroy frees every block the file's radix tree occupies, including
// internal nodes and any remaining data segments — unlike Truncate(0, ...),
// which only clears leaf mappings and leaves the internal chain in place.
// Used when the owning inode is being unlinked.
func (f *File) Destroy() error {
	if f.root == vtype.NilVAddr {
		return nil
	}
	var walk func(vaddr vtype.VAddr, level int) error
	walk = func(vaddr vtype.VAddr, level int) error {
		n, err := f.loadRT(vaddr)
		if err != nil {
			return err
		}
		for _, c := range n.children {
			if c == vtype.NilVAddr {
				continue
			}
			if level == treeHeight-1 {
				if err := f.alloc.Free(c, vtype.VtypeData); err != nil {
					return err
				}
				continue
			}
			if err := walk(c, level+1); err != nil {
				return err
			}
		}
		return f.alloc.Free(vaddr, vtype.VtypeRTNode)
	}
	if err := walk(f.root, 0); err != nil {
		return err
	}
	f.root = vtype.NilVAddr
	return nil
}

// releaseSegment frees the data segment (if any) mapped to seg and clears
// the mapping, leaving the internal node chain in place. It reports
// whether the freed segment had actually been written, so callers can
// keep the inode's block count honest: a segment that was only ever
// reserved by fallocate's default mode never contributed to Blocks.
func (f *File) releaseSegment(seg int64) (freedWritten bool, err error) {
	if f.root == vtype.NilVAddr {
		return false, nil
	}
	idx := segmentIndices(seg)
	cur := f.root
	var leafVAddr vtype.VAddr
	for level := 0; level < treeHeight-1; level++ {
		n, err := f.loadRT(cur)
		if err != nil {
			return false, err
		}
		next := n.children[idx[level]]
		if next == vtype.NilVAddr {
			return false, nil
		}
		cur = next
	}
	leafVAddr = cur
	leaf, err := f.loadRT(leafVAddr)
	if err != nil {
		return false, err
	}
	dataVAddr := leaf.children[idx[treeHeight-1]]
	if dataVAddr == vtype.NilVAddr {
		return false, nil
	}
	unwritten, err := f.alloc.IsUnwritten(dataVAddr)
	if err != nil {
		return false, err
	}
	if err := f.alloc.Free(dataVAddr, vtype.VtypeData); err != nil {
		return false, err
	}
	leaf.children[idx[treeHeight-1]] = vtype.NilVAddr
	if err := f.storeRT(leaf); err != nil {
		return false, err
	}
	return !unwritten, nil
}
