// Package vdir is the directory mapping (component C6): an H-tree over
// SHA-256-hashed names, descended six bits at a time (64-way fan-out),
// holding up to 476 packed variable-length entries per node before
// splitting into a 64-way internal node, the same way pkg/vitable splits
// an overflowing inode-table leaf. The entry's on-disk layout (a small
// fixed header plus an inline name region) follows pkg/ext4/dir.go's
// dentry packing; the hash itself is SHA-256 rather than ext4's legacy
// half-MD4, per this format's own hashing choice.
package vdir

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

const (
	// htreeFanout/htreeMaxDepth/htreeShift mirror vtype's H-tree geometry.
	htreeFanout   = vtype.HtreeFanout
	htreeMaxDepth = vtype.HtreeMaxDepth
	htreeShift    = vtype.HtreeShift

	// maxEntriesPerNode bounds a leaf node's directory-entry slots before
	// it splits into an internal node.
	maxEntriesPerNode = 476

	dentryHeaderSize = 8 + 1 + 1 // ino + namelen + dtype
	nodeHeaderSize   = 1 + 1     // kind + depth
)

// HashName returns the 64-bit directory hash of name: the low 64 bits of
// its SHA-256 digest.
func HashName(name string) uint64 {
	sum := sha256.Sum256([]byte(name))
	return binary.BigEndian.Uint64(sum[24:32])
}

// nibbleAt returns the 6-bit nibble of hash consumed at tree depth d
// (0-indexed, most significant nibble first).
func nibbleAt(hash uint64, d int) int {
	shift := uint(64 - htreeShift*(d+1))
	return int(hash>>shift) & (htreeFanout - 1)
}

// dentry is one packed directory entry: the inode it names, its POSIX
// dtype, and its (unhashed) name, kept alongside the entry so readdir can
// report names back and collisions within a bucket can be told apart.
type dentry struct {
	Ino   uint64
	DType vtype.InoKind
	Name  string
	hash  uint64
}

func (e dentry) encodedSize() int { return dentryHeaderSize + len(e.Name) }

// htNode is the decoded form of one directory H-tree block. Like
// pkg/vitable's itNode, a node is either a leaf (entries, no children) or
// an internal node (children, no entries); a leaf holds the directory's
// entries directly until it outgrows one block.
type htNode struct {
	vaddr    vtype.VAddr
	depth    int
	leaf     bool
	entries  []dentry
	children [htreeFanout]vtype.VAddr
}

func newHTLeaf(vaddr vtype.VAddr, depth int) *htNode {
	return &htNode{vaddr: vaddr, depth: depth, leaf: true}
}

func newHTInternal(vaddr vtype.VAddr, depth int) *htNode {
	n := &htNode{vaddr: vaddr, depth: depth, leaf: false}
	for i := range n.children {
		n.children[i] = vtype.NilVAddr
	}
	return n
}

func (n *htNode) encode() []byte {
	if n.leaf {
		size := nodeHeaderSize + 2
		for _, e := range n.entries {
			size += e.encodedSize()
		}
		buf := make([]byte, size)
		buf[0] = 0
		buf[1] = byte(n.depth)
		binary.LittleEndian.PutUint16(buf[2:4], uint16(len(n.entries)))
		off := 4
		for _, e := range n.entries {
			binary.LittleEndian.PutUint64(buf[off:off+8], e.Ino)
			buf[off+8] = byte(len(e.Name))
			buf[off+9] = byte(e.DType)
			off += dentryHeaderSize
			copy(buf[off:off+len(e.Name)], e.Name)
			off += len(e.Name)
		}
		return buf
	}

	buf := make([]byte, nodeHeaderSize+len(n.children)*8)
	buf[0] = 1
	buf[1] = byte(n.depth)
	off := nodeHeaderSize
	for _, c := range n.children {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(c))
		off += 8
	}
	return buf
}

func decodeHTNode(vaddr vtype.VAddr, body []byte) (*htNode, error) {
	if len(body) < nodeHeaderSize {
		return nil, vtype.Errf(vtype.ErrCorrupt, "htree node too short: %d bytes", len(body))
	}
	depth := int(body[1])

	if body[0] == 0 {
		if len(body) < nodeHeaderSize+2 {
			return nil, vtype.Errf(vtype.ErrCorrupt, "htree leaf missing entry count")
		}
		count := int(binary.LittleEndian.Uint16(body[2:4]))
		n := newHTLeaf(vaddr, depth)
		n.entries = make([]dentry, count)
		off := 4
		for i := 0; i < count; i++ {
			if off+dentryHeaderSize > len(body) {
				return nil, vtype.Errf(vtype.ErrCorrupt, "htree leaf entry header truncated")
			}
			ino := binary.LittleEndian.Uint64(body[off : off+8])
			nameLen := int(body[off+8])
			dtype := vtype.InoKind(body[off+9])
			off += dentryHeaderSize
			if off+nameLen > len(body) {
				return nil, vtype.Errf(vtype.ErrCorrupt, "htree leaf name truncated")
			}
			name := string(body[off : off+nameLen])
			off += nameLen
			n.entries[i] = dentry{Ino: ino, DType: dtype, Name: name, hash: HashName(name)}
		}
		return n, nil
	}

	n := newHTInternal(vaddr, depth)
	off := nodeHeaderSize
	for i := range n.children {
		n.children[i] = vtype.VAddr(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	return n, nil
}

func (n *htNode) indexOf(name string) int {
	for i, e := range n.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}
