package vxattr

import (
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// xaEntryHeaderSize is namelen(1) + valuelen(2).
const xaEntryHeaderSize = 1 + 2

// xaNodeCapacity is the packed payload budget of one xattr overflow block.
const xaNodeCapacity = vblock.BodyCapacity

type xaEntry struct {
	Name  string
	Value []byte
}

func (e xaEntry) encodedSize() int { return xaEntryHeaderSize + len(e.Name) + len(e.Value) }

// xaNode is one out-of-line xattr overflow block (vtype.VtypeXANode). Like
// pkg/vdir's leaf nodes it packs variable-length records; unlike vdir there
// is no splitting, since an inode is capped at XattrMaxOutOfLine nodes
// rather than letting the overflow tier grow unbounded.
type xaNode struct {
	vaddr   vtype.VAddr
	entries []xaEntry
}

func newXANode(vaddr vtype.VAddr) *xaNode {
	return &xaNode{vaddr: vaddr}
}

func (n *xaNode) indexOf(name string) int {
	for i, e := range n.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// usedBytes is the packed payload size if n were encoded right now.
func (n *xaNode) usedBytes() int {
	size := 2
	for _, e := range n.entries {
		size += e.encodedSize()
	}
	return size
}

// room reports whether one more entry of this size fits within both the
// per-node entry-count cap and the block's physical capacity.
func (n *xaNode) room(e xaEntry) bool {
	if len(n.entries) >= vtype.XattrNodeEntries {
		return false
	}
	return n.usedBytes()+e.encodedSize() <= xaNodeCapacity
}

func (n *xaNode) encode() []byte {
	buf := make([]byte, n.usedBytes())
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(n.entries)))
	off := 2
	for _, e := range n.entries {
		buf[off] = byte(len(e.Name))
		binary.LittleEndian.PutUint16(buf[off+1:off+3], uint16(len(e.Value)))
		off += xaEntryHeaderSize
		copy(buf[off:off+len(e.Name)], e.Name)
		off += len(e.Name)
		copy(buf[off:off+len(e.Value)], e.Value)
		off += len(e.Value)
	}
	return buf
}

func decodeXANode(vaddr vtype.VAddr, body []byte) (*xaNode, error) {
	if len(body) < 2 {
		return nil, vtype.Errf(vtype.ErrCorrupt, "xattr node too short: %d bytes", len(body))
	}
	count := int(binary.LittleEndian.Uint16(body[0:2]))
	n := newXANode(vaddr)
	n.entries = make([]xaEntry, count)
	off := 2
	for i := 0; i < count; i++ {
		if off+xaEntryHeaderSize > len(body) {
			return nil, vtype.Errf(vtype.ErrCorrupt, "xattr node entry header truncated")
		}
		nameLen := int(body[off])
		valueLen := int(binary.LittleEndian.Uint16(body[off+1 : off+3]))
		off += xaEntryHeaderSize
		if off+nameLen+valueLen > len(body) {
			return nil, vtype.Errf(vtype.ErrCorrupt, "xattr node entry body truncated")
		}
		name := string(body[off : off+nameLen])
		off += nameLen
		value := make([]byte, valueLen)
		copy(value, body[off:off+valueLen])
		off += valueLen
		n.entries[i] = xaEntry{Name: name, Value: value}
	}
	return n, nil
}
