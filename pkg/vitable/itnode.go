// Package vitable is the inode table (component C4): a radix tree mapping
// ino -> vaddr(inode head), rooted at the super block's itable root. Nodes
// are either leaves (up to ItableLeafEntries sorted (ino,vaddr) pairs) or
// internal nodes (ItableChildFanout children indexed by one byte of the
// ino at the node's depth), splitting a leaf into an internal node only
// once it overflows. The packed-record encode/decode style follows
// pkg/ext4/inode.go's fixed-offset struct layout, adapted from a single
// fixed-size inode record to a variable-count leaf/internal union.
package vitable

import (
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

const (
	kindLeaf     = 0
	kindInternal = 1

	entrySize = 8 + 8 // ino + vaddr
	itNodeHeaderSize = 1 + 1 + 2
)

// itEntry is one (ino, vaddr) pair inside a leaf.
type itEntry struct {
	Ino   uint64
	VAddr vtype.VAddr
}

// itNode is the decoded form of one inode-table block.
type itNode struct {
	vaddr    vtype.VAddr
	depth    int
	leaf     bool
	entries  []itEntry              // populated when leaf
	children [vtype.ItableChildFanout]vtype.VAddr // populated when internal
}

func newLeaf(vaddr vtype.VAddr, depth int) *itNode {
	return &itNode{vaddr: vaddr, depth: depth, leaf: true}
}

func newInternal(vaddr vtype.VAddr, depth int) *itNode {
	n := &itNode{vaddr: vaddr, depth: depth, leaf: false}
	for i := range n.children {
		n.children[i] = vtype.NilVAddr
	}
	return n
}

// byteAt returns the byte of ino consumed at tree depth d (d=0 is the most
// significant byte).
func byteAt(ino uint64, d int) byte {
	return byte(ino >> uint(56-8*d))
}

func (n *itNode) encode() []byte {
	if n.leaf {
		buf := make([]byte, itNodeHeaderSize+len(n.entries)*entrySize)
		buf[0] = kindLeaf
		buf[1] = byte(n.depth)
		binary.LittleEndian.PutUint16(buf[2:4], uint16(len(n.entries)))
		off := itNodeHeaderSize
		for _, e := range n.entries {
			binary.LittleEndian.PutUint64(buf[off:off+8], e.Ino)
			binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(e.VAddr))
			off += entrySize
		}
		return buf
	}

	buf := make([]byte, itNodeHeaderSize+len(n.children)*8)
	buf[0] = kindInternal
	buf[1] = byte(n.depth)
	off := itNodeHeaderSize
	for _, c := range n.children {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(c))
		off += 8
	}
	return buf
}

func decodeITNode(vaddr vtype.VAddr, body []byte) (*itNode, error) {
	if len(body) < itNodeHeaderSize {
		return nil, vtype.Errf(vtype.ErrCorrupt, "inode table node too short: %d bytes", len(body))
	}
	depth := int(body[1])

	if body[0] == kindLeaf {
		count := int(binary.LittleEndian.Uint16(body[2:4]))
		n := newLeaf(vaddr, depth)
		n.entries = make([]itEntry, count)
		off := itNodeHeaderSize
		for i := 0; i < count; i++ {
			n.entries[i] = itEntry{
				Ino:   binary.LittleEndian.Uint64(body[off : off+8]),
				VAddr: vtype.VAddr(binary.LittleEndian.Uint64(body[off+8 : off+16])),
			}
			off += entrySize
		}
		return n, nil
	}

	n := newInternal(vaddr, depth)
	off := itNodeHeaderSize
	for i := range n.children {
		n.children[i] = vtype.VAddr(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	return n, nil
}

// find returns the index of ino in a leaf's entries and whether it was
// found, keeping entries sorted by ino for O(log n) lookup.
func (n *itNode) find(ino uint64) (int, bool) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case n.entries[mid].Ino == ino:
			return mid, true
		case n.entries[mid].Ino < ino:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func (n *itNode) insertSorted(e itEntry) {
	idx, _ := n.find(e.Ino)
	n.entries = append(n.entries, itEntry{})
	copy(n.entries[idx+1:], n.entries[idx:])
	n.entries[idx] = e
}
