// Package vfile is the file-data radix-tree mapping (component C5): a
// three-level, 1024-way tree from segment index to data-segment vaddr,
// plus the read/write/truncate/fallocate operations built on top of it.
// Internal node packing (a fixed array of child vaddrs per block) follows
// the same idiom as pkg/vitable's internal nodes, itself adapted from
// pkg/ext4/inode.go's small fixed-size extent array generalised to a
// wider, purely index-driven fan-out.
package vfile

import (
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vtype"
)

// segmentsPerNode is the radix tree's fan-out at every level.
const segmentsPerNode = vtype.FileTreeFanout

// treeHeight is the number of internal (RTNode) levels above the data
// segments themselves.
const treeHeight = vtype.FileTreeMaxHeight

type rtNode struct {
	vaddr    vtype.VAddr
	children [segmentsPerNode]vtype.VAddr
}

func newRTNode(vaddr vtype.VAddr) *rtNode {
	n := &rtNode{vaddr: vaddr}
	for i := range n.children {
		n.children[i] = vtype.NilVAddr
	}
	return n
}

func (n *rtNode) encode() []byte {
	buf := make([]byte, len(n.children)*8)
	for i, c := range n.children {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(c))
	}
	return buf
}

func decodeRTNode(vaddr vtype.VAddr, body []byte) (*rtNode, error) {
	if len(body) < segmentsPerNode*8 {
		return nil, vtype.Errf(vtype.ErrCorrupt, "file tree node too short: %d bytes", len(body))
	}
	n := newRTNode(vaddr)
	for i := range n.children {
		n.children[i] = vtype.VAddr(binary.LittleEndian.Uint64(body[i*8 : i*8+8]))
	}
	return n, nil
}

// segmentIndices decomposes a segment index into one child index per
// tree level, most significant first.
func segmentIndices(seg int64) [treeHeight]int {
	var idx [treeHeight]int
	for level := treeHeight - 1; level >= 0; level-- {
		idx[level] = int(seg % segmentsPerNode)
		seg /= segmentsPerNode
	}
	return idx
}

// MaxSegments is the largest segment index (exclusive) the tree can
// address.
func MaxSegments() int64 {
	n := int64(1)
	for i := 0; i < treeHeight; i++ {
		n *= segmentsPerNode
	}
	return n
}
