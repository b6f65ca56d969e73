// Package vxattr is the attribute store (component C7): a small inline
// xattr table embedded in the owning inode, up to two out-of-line xattr
// nodes for overflow, and inline/out-of-line symlink target storage. The
// variable-length packed-record idiom follows pkg/vdir's dentry packing
// (itself grounded on pkg/ext4/dir.go), generalised from "name" to
// "name, value".
package vxattr

import (
	"github.com/voluta-fs/voluta/pkg/vtype"
)

// Inline entry byte budgets. The inline tier's entry COUNT is fixed at
// 32 but its per-entry byte budget is not; 64 bytes of name and 64 of value
// comfortably covers common small xattrs (ACL bits, short user.* tags)
// while keeping the whole inline table small enough to embed inside an
// inode head alongside the inode's own fixed fields.
const (
	inlineNameCap  = 64
	inlineValueCap = 64
	inlineEntrySize = 1 + 1 + 1 + inlineNameCap + inlineValueCap // used + namelen + valuelen + name + value
)

// InlineEntry is one inode-embedded xattr.
type InlineEntry struct {
	Name  string
	Value []byte
}

// InlineTable is the fixed-capacity xattr slots carried inside an inode
// head.
type InlineTable struct {
	Entries []InlineEntry // len <= vtype.XattrInlineEntries
}

// EncodedSize is the fixed byte width of an encoded InlineTable,
// regardless of how many slots are actually in use.
func EncodedSize() int { return vtype.XattrInlineEntries * inlineEntrySize }

// Encode packs t into a fixed-size blob suitable for embedding in an
// inode head.
func (t *InlineTable) Encode() []byte {
	buf := make([]byte, EncodedSize())
	for i := 0; i < vtype.XattrInlineEntries && i < len(t.Entries); i++ {
		e := t.Entries[i]
		off := i * inlineEntrySize
		buf[off] = 1
		buf[off+1] = byte(len(e.Name))
		buf[off+2] = byte(len(e.Value))
		copy(buf[off+3:off+3+inlineNameCap], e.Name)
		copy(buf[off+3+inlineNameCap:off+3+inlineNameCap+inlineValueCap], e.Value)
	}
	return buf
}

// DecodeInlineTable reverses Encode.
func DecodeInlineTable(buf []byte) (*InlineTable, error) {
	if len(buf) < EncodedSize() {
		return nil, vtype.Errf(vtype.ErrCorrupt, "inline xattr table too short: %d bytes", len(buf))
	}
	t := &InlineTable{}
	for i := 0; i < vtype.XattrInlineEntries; i++ {
		off := i * inlineEntrySize
		if buf[off] == 0 {
			continue
		}
		nameLen := int(buf[off+1])
		valueLen := int(buf[off+2])
		name := string(buf[off+3 : off+3+nameLen])
		value := make([]byte, valueLen)
		copy(value, buf[off+3+inlineNameCap:off+3+inlineNameCap+valueLen])
		t.Entries = append(t.Entries, InlineEntry{Name: name, Value: value})
	}
	return t, nil
}

func (t *InlineTable) indexOf(name string) int {
	for i, e := range t.Entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// fits reports whether name/value can be stored inline at all (byte
// budget) and whether there is a free slot.
func (t *InlineTable) fits(name string, value []byte) bool {
	return len(name) <= inlineNameCap && len(value) <= inlineValueCap &&
		len(t.Entries) < vtype.XattrInlineEntries
}

