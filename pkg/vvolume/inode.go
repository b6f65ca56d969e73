package vvolume

import (
	"encoding/binary"

	"github.com/voluta-fs/voluta/pkg/vblock"
	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vxattr"
)

// Inode is the decoded form of one inode head: the fixed POSIX attribute
// block plus the type-specialized union (C5's file-tree root for regular
// files, C6's H-tree root for directories, inline/out-of-line symlink
// storage for symlinks) and C7's xattr tiers. Packed layout follows
// pkg/ext4/inode.go's hex-offset-commented struct, generalized to carry
// Voluta's own union shape rather than ext4's i_block array.
type Inode struct {
	Addr vtype.VAddr

	Ino   uint64
	Kind  vtype.InoKind
	Mode  uint32 // permission bits only; file type is carried in Kind
	Nlink uint32
	UID   uint32
	GID   uint32
	Size  int64

	// Blocks is st_blocks: 512-byte sectors actually backed by written
	// data segments. Maintained by pkg/vfile's Write/Truncate/Fallocate,
	// not derived from Size (holes and fallocate reservations must not
	// count).
	Blocks int64

	// ParentIno is the inode number of the containing directory, used to
	// resolve ".." without a directory-entry lookup. The root directory
	// is its own parent.
	ParentIno uint64

	Atime int64 // nanoseconds since epoch
	Mtime int64
	Ctime int64

	// Root is the C5 file-tree root (InoKindReg) or C6 H-tree root
	// (InoKindDir); vtype.NilVAddr for a symlink or an empty file/dir.
	Root vtype.VAddr

	// Symlink target storage (InoKindLnk only): exactly one of
	// SymlinkInline/SymlinkHead is populated, mirroring vxattr.SymlinkStore.
	SymlinkInline []byte
	SymlinkHead   vtype.VAddr

	Xattr      *vxattr.InlineTable
	XattrNodes [vtype.XattrMaxOutOfLine]vtype.VAddr
}

// VAddr implements vcache.Node, so inode heads can be cached by C3 like any
// other block-addressed object.
func (n *Inode) VAddr() vtype.VAddr { return n.Addr }

// inodeFixedSize is every fixed-width field up to and including the xattr
// overflow node vaddrs, before the variable-length symlink-inline tail and
// the fixed-size xattr blob.
const inodeFixedSize = 8 + 1 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 2 + 8 + 8*vtype.XattrMaxOutOfLine

// NewInode returns a zeroed inode ready for a fresh allocation, parented
// under parentIno (the root directory passes its own ino).
func NewInode(vaddr vtype.VAddr, ino uint64, kind vtype.InoKind, parentIno uint64) *Inode {
	return &Inode{
		Addr:        vaddr,
		Ino:         ino,
		Kind:        kind,
		Nlink:       1,
		ParentIno:   parentIno,
		Root:        vtype.NilVAddr,
		SymlinkHead: vtype.NilVAddr,
		Xattr:       &vxattr.InlineTable{},
		XattrNodes:  [vtype.XattrMaxOutOfLine]vtype.VAddr{vtype.NilVAddr, vtype.NilVAddr},
	}
}

func (n *Inode) encode() []byte {
	xattrBlob := n.Xattr.Encode()
	buf := make([]byte, inodeFixedSize+len(n.SymlinkInline)+len(xattrBlob))
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], n.Ino)
	off += 8
	buf[off] = byte(n.Kind)
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], n.Mode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.Nlink)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.UID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], n.GID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Size))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Blocks))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], n.ParentIno)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Atime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Mtime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Ctime))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.Root))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(n.SymlinkInline)))
	off += 2
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.SymlinkHead))
	off += 8
	for _, v := range n.XattrNodes {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
		off += 8
	}
	copy(buf[off:off+len(n.SymlinkInline)], n.SymlinkInline)
	off += len(n.SymlinkInline)
	copy(buf[off:], xattrBlob)
	return buf
}

func decodeInode(vaddr vtype.VAddr, body []byte) (*Inode, error) {
	if len(body) < inodeFixedSize {
		return nil, vtype.Errf(vtype.ErrCorrupt, "inode head too short: %d bytes", len(body))
	}
	n := &Inode{Addr: vaddr}
	off := 0
	n.Ino = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	n.Kind = vtype.InoKind(body[off])
	off++
	n.Mode = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	n.Nlink = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	n.UID = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	n.GID = binary.LittleEndian.Uint32(body[off : off+4])
	off += 4
	n.Size = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	n.Blocks = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	n.ParentIno = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8
	n.Atime = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	n.Mtime = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	n.Ctime = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	n.Root = vtype.VAddr(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	symLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
	off += 2
	n.SymlinkHead = vtype.VAddr(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	for i := range n.XattrNodes {
		n.XattrNodes[i] = vtype.VAddr(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	if off+symLen > len(body) {
		return nil, vtype.Errf(vtype.ErrCorrupt, "inode symlink inline tail truncated")
	}
	if symLen > 0 {
		n.SymlinkInline = make([]byte, symLen)
		copy(n.SymlinkInline, body[off:off+symLen])
	}
	off += symLen

	xattrSize := vxattr.EncodedSize()
	if off+xattrSize > len(body) {
		return nil, vtype.Errf(vtype.ErrCorrupt, "inode xattr blob truncated")
	}
	tbl, err := vxattr.DecodeInlineTable(body[off : off+xattrSize])
	if err != nil {
		return nil, err
	}
	n.Xattr = tbl
	return n, nil
}

func loadInode(dev *vblock.Device, vaddr vtype.VAddr) (*Inode, error) {
	body, vt, err := dev.ReadOctet(vaddr)
	if err != nil {
		return nil, err
	}
	if vt != vtype.VtypeInode {
		return nil, vtype.Errf(vtype.ErrCorrupt, "vaddr %d holds vtype %s, want inode", vaddr, vt)
	}
	return decodeInode(vaddr, body)
}

func storeInode(dev *vblock.Device, n *Inode) error {
	return dev.WriteOctet(n.Addr, vtype.VtypeInode, n.encode(), false)
}
